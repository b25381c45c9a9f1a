package usecase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/semmidev/stackvault/internal/domain"
)

// Confirmer asks for explicit approval before a live target is overwritten.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

type ConfirmFunc func(prompt string) (bool, error)

func (f ConfirmFunc) Confirm(prompt string) (bool, error) {
	return f(prompt)
}

type Restore struct {
	targets    map[domain.TargetKind]domain.Target
	local      LocalStore
	compressor domain.Compressor
	archiver   domain.Archiver
	remote     *RemoteSync
	logger     Logger

	Locker Locker
}

func NewRestore(
	targets []domain.Target,
	local LocalStore,
	compressor domain.Compressor,
	archiver domain.Archiver,
	remote *RemoteSync,
	logger Logger,
) *Restore {
	byKind := make(map[domain.TargetKind]domain.Target, len(targets))
	for _, t := range targets {
		byKind[t.Kind()] = t
	}
	return &Restore{
		targets:    byKind,
		local:      local,
		compressor: compressor,
		archiver:   archiver,
		remote:     remote,
		logger:     logger,
	}
}

// Execute restores kind from the artifact named by locator. The locator may be a
// path, a path relative to the backup root, a bare filename stored anywhere under
// the root, or a filename that only exists in the remote store.
func (uc *Restore) Execute(ctx context.Context, kind domain.TargetKind, locator string, confirm Confirmer) error {
	target, ok := uc.targets[kind]
	if !ok {
		return fmt.Errorf("%w: target %s is not enabled", domain.ErrConfigurationInvalid, kind)
	}

	release, err := acquire(uc.Locker, "restore "+string(kind))
	if err != nil {
		return err
	}
	defer release()

	source, err := uc.resolve(ctx, locator)
	if err != nil {
		uc.logger.Errorf("[%s] Cannot locate %s: %v", kind, locator, err)
		return err
	}
	name := filepath.Base(source)
	if !domain.IsBatchArchive(name) {
		if artifactKind, _, _, err := domain.ParseArtifactName(name); err == nil && artifactKind != kind {
			return fmt.Errorf("%w: %s is a %s artifact, not %s", domain.ErrConfigurationInvalid, name, artifactKind, kind)
		}
	}

	if err := target.Ping(ctx); err != nil {
		uc.logger.Errorf("[%s] Restore aborted: %v", kind, err)
		return err
	}

	if confirm == nil {
		return domain.ErrNotConfirmed
	}
	ok, err = confirm.Confirm(fmt.Sprintf("Restore %s from %s? This overwrites the live data.", kind, name))
	if err != nil {
		return fmt.Errorf("confirmation: %w", err)
	}
	if !ok {
		uc.logger.Warnf("[%s] Restore from %s not confirmed", kind, name)
		return domain.ErrNotConfirmed
	}

	scratch, err := uc.local.ScratchDir("restore")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			uc.logger.Warnf("Failed to remove scratch directory %s: %v", scratch, err)
		}
	}()

	input, err := uc.prepare(ctx, kind, source, scratch)
	if err != nil {
		uc.logger.Errorf("[%s] Restore failed: %v", kind, err)
		return err
	}

	start := time.Now()
	uc.logger.Infof("[%s] Restoring from %s...", kind, filepath.Base(input))
	if err := target.Restore(ctx, input); err != nil {
		uc.logger.Errorf("[%s] Restore failed: %v", kind, err)
		return fmt.Errorf("restore %s: %w", kind, err)
	}
	uc.logger.Infof("[%s] Restore completed in %s", kind, time.Since(start).Round(time.Second))
	return nil
}

func regularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (uc *Restore) resolve(ctx context.Context, locator string) (string, error) {
	if strings.TrimSpace(locator) == "" {
		return "", fmt.Errorf("%w: no backup file given", domain.ErrNotFound)
	}
	if regularFile(locator) {
		return locator, nil
	}
	if !filepath.IsAbs(locator) {
		if p := uc.local.GetPath(locator); regularFile(p) {
			return p, nil
		}
	}

	name := filepath.Base(locator)
	if p, err := uc.local.Locate(name); err == nil {
		return p, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	if !uc.remote.Enabled() {
		return "", fmt.Errorf("%w: %s not found locally and remote sync is disabled", domain.ErrNotFound, name)
	}
	ts, err := timestampOf(name)
	if err != nil {
		return "", err
	}
	partition, err := uc.local.EnsurePartition(ts)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(partition, name)
	if err := uc.remote.Fetch(ctx, name, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func timestampOf(name string) (time.Time, error) {
	if _, ts, _, err := domain.ParseArtifactName(name); err == nil {
		return ts, nil
	}
	if ts, err := domain.ParseBatchArchiveName(name); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("%w: cannot infer the date of %s", domain.ErrNotFound, name)
}

// prepare turns source into an uncompressed file the target can consume,
// writing any intermediate files into scratch.
func (uc *Restore) prepare(ctx context.Context, kind domain.TargetKind, source, scratch string) (string, error) {
	input := source
	if domain.IsBatchArchive(filepath.Base(source)) {
		extracted := filepath.Join(scratch, "extracted")
		uc.logger.Infof("[%s] Extracting %s...", kind, filepath.Base(source))
		if err := uc.archiver.Extract(ctx, source, extracted); err != nil {
			return "", fmt.Errorf("extract %s: %w", filepath.Base(source), err)
		}
		archiveTS, _ := domain.ParseBatchArchiveName(filepath.Base(source))
		found, err := findInArchive(extracted, kind, archiveTS)
		if err != nil {
			return "", err
		}
		input = found
	}

	if strings.HasSuffix(input, domain.CompressedSuffix) {
		out := filepath.Join(scratch, strings.TrimSuffix(filepath.Base(input), domain.CompressedSuffix))
		uc.logger.Infof("[%s] Decompressing %s...", kind, filepath.Base(input))
		if err := uc.compressor.Decompress(input, out); err != nil {
			return "", fmt.Errorf("decompress %s: %w", filepath.Base(input), err)
		}
		input = out
	}
	return input, nil
}

// findInArchive returns the artifact of kind inside dir, preferring the one whose
// timestamp equals the archive's and otherwise the newest.
func findInArchive(dir string, kind domain.TargetKind, archiveTS time.Time) (string, error) {
	var best string
	var bestTS time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		k, ts, _, perr := domain.ParseArtifactName(d.Name())
		if perr != nil || k != kind {
			return nil
		}
		if ts.Equal(archiveTS) {
			best, bestTS = path, ts
			return filepath.SkipAll
		}
		if best == "" || ts.After(bestTS) {
			best, bestTS = path, ts
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search extracted archive: %w", err)
	}
	if best == "" {
		return "", fmt.Errorf("%w: no %s artifact in the batch archive", domain.ErrNotFound, kind)
	}
	return best, nil
}
