package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/semmidev/stackvault/internal/domain"
)

// LocalStorage is the date-partitioned backup root on disk:
//
//	<root>/<YYYY-MM-DD>/<artifact>
//	<root>/backup_<timestamp>.tar.gz
//
// Dot-prefixed entries (the run lock, restore scratch directories, in-flight
// archives) and *.tmp files belong to running operations and are never listed.
type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (l *LocalStorage) Root() string {
	return l.basePath
}

// GetPath joins rel onto the root.
func (l *LocalStorage) GetPath(rel string) string {
	return filepath.Join(l.basePath, rel)
}

// EnsurePartition creates the directory for date if needed and returns its path.
func (l *LocalStorage) EnsurePartition(date time.Time) (string, error) {
	dir := l.GetPath(date.Format(domain.DateLayout))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create partition %s: %w", dir, err)
	}
	return dir, nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp")
}

// List walks the root and returns every regular file whose name contains filter,
// newest first. An empty filter matches everything.
func (l *LocalStorage) List(filter string) ([]domain.StoredFile, error) {
	var files []domain.StoredFile
	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == l.basePath {
			return nil
		}
		if hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if filter != "" && !strings.Contains(d.Name(), filter) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, domain.StoredFile{
			Name:    d.Name(),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", l.basePath, err)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Name != files[j].Name {
			return files[i].Name > files[j].Name
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// Size is the total byte count of all listed files.
func (l *LocalStorage) Size() (int64, error) {
	files, err := l.List("")
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

// RemainingFiles counts listed files.
func (l *LocalStorage) RemainingFiles() (int, error) {
	files, err := l.List("")
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// Locate finds a file by exact name anywhere under the root.
func (l *LocalStorage) Locate(filename string) (string, error) {
	files, err := l.List(filename)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.Name == filename {
			return f.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %s under %s", domain.ErrNotFound, filename, l.basePath)
}

// Partitions returns the date directories directly under the root.
func (l *LocalStorage) Partitions() ([]domain.StoredFile, error) {
	return l.topLevel(func(e os.DirEntry) bool {
		if !e.IsDir() {
			return false
		}
		_, err := time.Parse(domain.DateLayout, e.Name())
		return err == nil
	})
}

// Archives returns the batch archives stored at the root.
func (l *LocalStorage) Archives() ([]domain.StoredFile, error) {
	return l.topLevel(func(e os.DirEntry) bool {
		return e.Type().IsRegular() && domain.IsBatchArchive(e.Name())
	})
}

func (l *LocalStorage) topLevel(match func(os.DirEntry) bool) ([]domain.StoredFile, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var out []domain.StoredFile
	for _, entry := range entries {
		if !match(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
		}
		out = append(out, domain.StoredFile{
			Name:    entry.Name(),
			Path:    filepath.Join(l.basePath, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

// Delete removes path recursively. Paths outside the root are refused.
func (l *LocalStorage) Delete(path string) error {
	root, err := filepath.Abs(l.basePath)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		return fmt.Errorf("refusing to delete %s outside %s", path, l.basePath)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// ScratchDir creates a hidden working directory under the root.
func (l *LocalStorage) ScratchDir(pattern string) (string, error) {
	dir, err := os.MkdirTemp(l.basePath, "."+pattern+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return dir, nil
}
