package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/semmidev/stackvault/internal/domain"
)

var nopLogger = zap.NewNop().Sugar()

type fakeTarget struct {
	kind       domain.TargetKind
	down       bool
	backupErr  error
	restoreErr error
	content    string

	backupPaths []string
	restored    []string
}

func (f *fakeTarget) Kind() domain.TargetKind { return f.kind }

func (f *fakeTarget) Ping(ctx context.Context) error {
	if f.down {
		return fmt.Errorf("%w: %s container is not running", domain.ErrServiceUnavailable, f.kind)
	}
	return nil
}

func (f *fakeTarget) Backup(ctx context.Context, outputPath string) error {
	f.backupPaths = append(f.backupPaths, outputPath)
	content := f.content
	if content == "" {
		content = "dump of " + string(f.kind)
	}
	if err := os.WriteFile(outputPath, []byte(content), 0644); err != nil {
		return err
	}
	return f.backupErr
}

func (f *fakeTarget) Restore(ctx context.Context, inputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	f.restored = append(f.restored, string(data))
	return f.restoreErr
}

type failingCompressor struct{}

func (failingCompressor) Compress(src, dst string) error   { return errors.New("disk full") }
func (failingCompressor) Decompress(src, dst string) error { return errors.New("disk full") }

// fakeRemote is an in-memory object store.
type fakeRemote struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	deleted   []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: map[string][]byte{}}
}

func (f *fakeRemote) Upload(ctx context.Context, localPath, key string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeRemote) Download(ctx context.Context, key, localPath string) error {
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return os.WriteFile(localPath, data, 0644)
}

func (f *fakeRemote) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	for key := range f.objects {
		rest, ok := strings.CutPrefix(key, prefix+"/")
		if !ok {
			continue
		}
		if dir, _, found := strings.Cut(rest, "/"); found {
			seen[dir] = true
		}
	}
	var out []string
	for dir := range seen {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeRemote) DeletePrefix(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.objects {
		if strings.HasPrefix(key, prefix+"/") {
			delete(f.objects, key)
		}
	}
	f.deleted = append(f.deleted, prefix)
	return nil
}

func (f *fakeRemote) List(ctx context.Context, prefix string) ([]domain.RemoteObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RemoteObject
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, domain.RemoteObject{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeRemote) Identity(ctx context.Context) (string, error) {
	return "arn:aws:iam::123456789012:user/test", nil
}

func (f *fakeRemote) put(date, name, content string) {
	f.objects[path.Join("backups", date, name)] = []byte(content)
}

// memoryCrontab is an in-memory crontab.
type memoryCrontab struct {
	content string
	writes  int
}

func (m *memoryCrontab) Read(ctx context.Context) (string, error) { return m.content, nil }

func (m *memoryCrontab) Write(ctx context.Context, content string) error {
	m.content = content
	m.writes++
	return nil
}

type heldLocker struct{}

func (heldLocker) Lock(command string) (func(), error) {
	return nil, errors.New("lock is held by PID 1")
}

type countingLocker struct {
	locked, released int
	commands         []string
}

func (c *countingLocker) Lock(command string) (func(), error) {
	c.locked++
	c.commands = append(c.commands, command)
	return func() { c.released++ }, nil
}

type recordingNotifier struct {
	messages []string
}

func (r *recordingNotifier) Notify(ctx context.Context, message string) error {
	r.messages = append(r.messages, message)
	return nil
}
