// Package lock provides per-stage advisory file locks under the storage root.
// Each stage is expected to run as a single writer; the lock turns an
// accidental second invocation into an error instead of a race.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/TobiSchelling/feedcurator/internal/store"
)

// Dir is the lock directory relative to the storage root.
const Dir = store.LockDir

// ErrBusy is returned when another process holds the lock.
var ErrBusy = errors.New("lock is held by another process")

// Lock is a held stage lock.
type Lock struct {
	name string
	path string
	fl   *flock.Flock
}

// Acquire takes the named lock without blocking.
func Acquire(root, name string) (*Lock, error) {
	dir := filepath.Join(root, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	path := filepath.Join(dir, name+".lock")
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire %s lock: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("another %s run is in progress: %w", name, ErrBusy)
	}
	return &Lock{name: name, path: path, fl: fl}, nil
}

// Name returns the lock name.
func (l *Lock) Name() string { return l.name }

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release %s lock: %w", l.name, err)
	}
	return nil
}
