package usecase

import (
	"time"

	"github.com/semmidev/stackvault/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Locker serializes runs that share the backup root. The returned func releases the lock.
type Locker interface {
	Lock(command string) (func(), error)
}

type LocalStore interface {
	Root() string
	GetPath(rel string) string
	EnsurePartition(date time.Time) (string, error)
	List(filter string) ([]domain.StoredFile, error)
	Locate(filename string) (string, error)
	Partitions() ([]domain.StoredFile, error)
	Archives() ([]domain.StoredFile, error)
	Delete(path string) error
	Size() (int64, error)
	RemainingFiles() (int, error)
	ScratchDir(pattern string) (string, error)
}

func acquire(locker Locker, command string) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	return locker.Lock(command)
}
