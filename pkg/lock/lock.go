// Package lock serializes mutating operations on a pool across processes
// with an advisory lock on <pool>/state/.skillctl.lock.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/logging"
)

// FileName is the lock file under the pool state dir.
const FileName = ".skillctl.lock"

const (
	DefaultTimeout = 5 * time.Second
	pollInterval   = 50 * time.Millisecond
)

// Lock is an exclusive pool lock. The zero value is not usable; use New.
type Lock struct {
	flock   *flock.Flock
	Timeout time.Duration
}

// New returns a lock on path. Nothing is acquired yet.
func New(path string) *Lock {
	return &Lock{flock: flock.New(path), Timeout: DefaultTimeout}
}

func (l *Lock) Path() string {
	return l.flock.Path()
}

// Acquire takes the lock, polling until Timeout elapses or ctx is done. A
// Timeout of zero tries once. Failure to acquire is ErrLocked.
func (l *Lock) Acquire(ctx context.Context) error {
	logger := logging.GetLogger("lock")
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrIO, "creating %s", filepath.Dir(l.Path()))
	}

	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	for {
		locked, err := l.flock.TryLock()
		if err != nil {
			return errors.Wrapf(err, errors.ErrIO, "locking %s", l.Path())
		}
		if locked {
			logger.Trace().Str("path", l.Path()).Dur("waited", time.Since(start)).Msg("Acquired pool lock")
			return nil
		}

		select {
		case <-timeoutCtx.Done():
			return errors.Newf(errors.ErrLocked, "pool is locked by another skillctl process (%s)", l.Path()).
				WithDetail("waited", time.Since(start).String())
		case <-time.After(pollInterval):
		}
	}
}

// Release drops the lock. Calling it when not held is a no-op.
func (l *Lock) Release() error {
	if !l.flock.Locked() {
		return nil
	}
	logger := logging.GetLogger("lock")
	logger.Trace().Str("path", l.Path()).Msg("Releasing pool lock")
	return l.flock.Unlock()
}

// With runs fn while holding the lock.
func (l *Lock) With(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer func() { _ = l.Release() }()
	return fn()
}
