package usecase

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/semmidev/stackvault/internal/domain"
)

// RemoteSync copies artifacts to the object store under <prefix>/<YYYY-MM-DD>/<filename>.
// A RemoteSync without a store is disabled: uploads are silent no-ops.
type RemoteSync struct {
	store  domain.RemoteStore
	prefix string
	logger Logger
}

func NewRemoteSync(store domain.RemoteStore, prefix string, logger Logger) *RemoteSync {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "backups"
	}
	return &RemoteSync{store: store, prefix: prefix, logger: logger}
}

func (r *RemoteSync) Enabled() bool {
	return r != nil && r.store != nil
}

func (r *RemoteSync) Prefix() string {
	return r.prefix
}

// KeyFor derives the object key from the timestamp embedded in filename.
func (r *RemoteSync) KeyFor(filename string) (string, error) {
	date, err := domain.DateFromFilename(filename)
	if err != nil {
		return "", err
	}
	return path.Join(r.prefix, date, filename), nil
}

func (r *RemoteSync) errDisabled() error {
	return fmt.Errorf("%w: remote sync is disabled", domain.ErrConfigurationInvalid)
}

// Upload copies a local artifact or batch archive to its dated key.
func (r *RemoteSync) Upload(ctx context.Context, localPath string) error {
	if !r.Enabled() {
		return nil
	}
	name := filepath.Base(localPath)
	key, err := r.KeyFor(name)
	if err != nil {
		return err
	}

	r.logger.Infof("[remote] Uploading %s to %s...", name, key)
	if err := r.store.Upload(ctx, localPath, key); err != nil {
		return fmt.Errorf("remote upload of %s: %w", name, err)
	}
	r.logger.Infof("[remote] Successfully uploaded %s", name)
	return nil
}

// Fetch downloads filename from its dated key into destPath.
func (r *RemoteSync) Fetch(ctx context.Context, filename, destPath string) error {
	if !r.Enabled() {
		return fmt.Errorf("%w: %s is not stored locally and remote sync is disabled", domain.ErrNotFound, filename)
	}
	key, err := r.KeyFor(filename)
	if err != nil {
		return err
	}

	r.logger.Infof("[remote] Downloading %s...", key)
	if err := r.store.Download(ctx, key, destPath); err != nil {
		return fmt.Errorf("remote download of %s: %w", key, err)
	}
	return nil
}

// Prefixes lists the date folders under the prefix.
func (r *RemoteSync) Prefixes(ctx context.Context) ([]string, error) {
	if !r.Enabled() {
		return nil, r.errDisabled()
	}
	return r.store.ListPrefixes(ctx, r.prefix)
}

func (r *RemoteSync) DeletePrefix(ctx context.Context, date string) error {
	if !r.Enabled() {
		return r.errDisabled()
	}
	return r.store.DeletePrefix(ctx, path.Join(r.prefix, date))
}

// Objects lists everything stored under the prefix.
func (r *RemoteSync) Objects(ctx context.Context) ([]domain.RemoteObject, error) {
	if !r.Enabled() {
		return nil, r.errDisabled()
	}
	return r.store.List(ctx, r.prefix+"/")
}

// Verify checks the configured credentials and returns the identity they resolve to.
func (r *RemoteSync) Verify(ctx context.Context) (string, error) {
	if !r.Enabled() {
		return "", r.errDisabled()
	}
	return r.store.Identity(ctx)
}
