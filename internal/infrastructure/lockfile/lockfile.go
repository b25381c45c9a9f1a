// Package lockfile provides a run-level mutual exclusion file scoped to a directory.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/goccy/go-json"
)

// FileName is created inside the backup root while a run holds the lock.
const FileName = ".stackvault.lock"

type Content struct {
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname"`
	Started  time.Time `json:"started"`
	Command  string    `json:"command"`
}

// ErrLockActive is returned when another live process holds the lock.
type ErrLockActive struct {
	Holder Content
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("lock is held by PID %d on host '%s' (%s), started %s ago",
		e.Holder.PID, e.Holder.Hostname, e.Holder.Command, time.Since(e.Holder.Started).Truncate(time.Second))
}

type Lock struct {
	path     string
	released bool
}

// Acquire creates the lock file exclusively. A lock left behind by a dead process on
// this host is taken over once.
func Acquire(dir, command string) (*Lock, error) {
	path := filepath.Join(dir, FileName)

	for attempt := 0; attempt < 2; attempt++ {
		err := create(path, command)
		if err == nil {
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		holder, readErr := Read(dir)
		if readErr == nil && holderAlive(holder) {
			return nil, &ErrLockActive{Holder: holder}
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock file: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to acquire lock at %s (contention)", path)
}

func create(path, command string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	data, err := json.Marshal(Content{
		PID:      os.Getpid(),
		Hostname: hostname,
		Started:  time.Now().UTC(),
		Command:  command,
	})
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// Read returns the current holder, or an error wrapping os.ErrNotExist when unlocked.
func Read(dir string) (Content, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return Content{}, err
	}
	var c Content
	if err := json.Unmarshal(data, &c); err != nil {
		return Content{}, fmt.Errorf("lock file is corrupt: %w", err)
	}
	return c, nil
}

// holderAlive is conservative: a holder on another host is always considered alive.
func holderAlive(c Content) bool {
	hostname, _ := os.Hostname()
	if c.Hostname != hostname {
		return true
	}
	if c.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(c.PID)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Locker acquires the lock for one directory.
type Locker struct {
	Dir string
}

func (l Locker) Lock(command string) (func(), error) {
	lock, err := Acquire(l.Dir, command)
	if err != nil {
		return nil, err
	}
	return func() { _ = lock.Release() }, nil
}
