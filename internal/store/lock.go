package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// IndexLock is a cross-process lock on an index data directory. The loader
// holds it while writing so two loads never interleave.
type IndexLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewIndexLock creates a lock for dir. The lock file is <dir>/.index.lock.
func NewIndexLock(dir string) *IndexLock {
	path := filepath.Join(dir, LockFile)
	return &IndexLock{path: path, flock: flock.New(path)}
}

// Lock blocks until the lock is acquired.
func (l *IndexLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock without blocking. A lock held elsewhere returns
// ErrCodeIndexLocked.
func (l *IndexLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return amanerrors.New(amanerrors.ErrCodeIndexLocked, "index is being written by another process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("wait for the running load to finish")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *IndexLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *IndexLock) Path() string { return l.path }

// IsLocked reports whether this handle holds the lock.
func (l *IndexLock) IsLocked() bool { return l.locked }
