package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const retryDelay = 100 * time.Millisecond

// Flock guards the daemon data directory with flock(2) so only one Burrow
// daemon schedules micro-ops against the hypervisor at a time. The lock
// file is long-lived and never deleted after use.
type Flock struct {
	fl *flock.Flock
}

// New creates a Flock for the given path.
func New(path string) *Flock {
	return &Flock{fl: flock.New(path)}
}

// Acquire takes the exclusive lock, blocking until it is available or the
// context is cancelled.
func (l *Flock) Acquire(ctx context.Context) error {
	locked, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.fl.Path(), err)
	}
	if !locked {
		return fmt.Errorf("acquire lock %s: context done", l.fl.Path())
	}
	return nil
}

// Release drops the lock.
func (l *Flock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.fl.Path(), err)
	}
	return nil
}
