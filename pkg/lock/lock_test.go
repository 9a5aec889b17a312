package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swang430/skills-pool/pkg/errors"
)

func holdLock(t *testing.T, path string) {
	t.Helper()
	holder := flock.New(path)
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	t.Cleanup(func() { _ = holder.Unlock() })
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", FileName)
	l := New(path)

	require.NoError(t, l.Acquire(context.Background()))
	require.FileExists(t, path)

	other := New(path)
	other.Timeout = 0
	err := other.Acquire(context.Background())
	assert.True(t, errors.IsErrorCode(err, errors.ErrLocked), "second holder is refused: %v", err)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release(), "double release is a no-op")

	require.NoError(t, other.Acquire(context.Background()))
	require.NoError(t, other.Release())
}

func TestAcquireTimeout(t *testing.T) {
	tests := map[string]struct {
		timeout time.Duration
		min     time.Duration
		max     time.Duration
	}{
		"immediate": {timeout: 0, max: 200 * time.Millisecond},
		"bounded":   {timeout: 120 * time.Millisecond, min: 100 * time.Millisecond, max: time.Second},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			holdLock(t, path)

			l := New(path)
			l.Timeout = tc.timeout
			start := time.Now()
			err := l.Acquire(context.Background())
			elapsed := time.Since(start)

			assert.True(t, errors.IsErrorCode(err, errors.ErrLocked))
			assert.GreaterOrEqual(t, elapsed, tc.min)
			assert.Less(t, elapsed, tc.max)
		})
	}
}

func TestAcquireCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	holdLock(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := New(path)
	l.Timeout = time.Minute
	assert.True(t, errors.IsErrorCode(l.Acquire(ctx), errors.ErrLocked))
}

func TestWith(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	ran := false
	require.NoError(t, New(path).With(context.Background(), func() error {
		ran = true
		inner := New(path)
		inner.Timeout = 0
		assert.Error(t, inner.Acquire(context.Background()), "lock is held inside fn")
		return nil
	}))
	assert.True(t, ran)

	l := New(path)
	l.Timeout = 0
	require.NoError(t, l.Acquire(context.Background()), "released after fn")
	require.NoError(t, l.Release())
}
