package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/pool"
	"github.com/swang430/skills-pool/pkg/store"
	"github.com/swang430/skills-pool/pkg/syncer"
)

// DefaultDebounce is how long Watch waits for the pool to settle.
const DefaultDebounce = 500 * time.Millisecond

// WatchOptions configure Watch.
type WatchOptions struct {
	Sync     SyncRequest
	Debounce time.Duration
	// OnSync receives the outcome of every sync run, including the first.
	OnSync func(*syncer.Report, error)
}

// Watch syncs once, then again whenever entries appear in or leave the
// skills dir or the registry is rewritten, until ctx is done.
func (e *Engine) Watch(ctx context.Context, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	notify := opts.OnSync
	if notify == nil {
		notify = func(*syncer.Report, error) {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.ErrIO, "creating pool watcher")
	}
	defer watcher.Close()

	for _, dir := range []string{e.Store.Path(store.SkillsDir), e.Store.Path(store.StateDir)} {
		if err := watcher.Add(dir); err != nil {
			return errors.Wrapf(err, errors.ErrIO, "watching %s", dir)
		}
	}

	run := func() {
		if err := e.Reload(); err != nil {
			notify(nil, err)
			return
		}
		notify(e.Sync(ctx, opts.Sync))
	}
	run()

	var debounceTimer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !e.relevant(event) {
				continue
			}
			e.logger.Trace().Str("path", event.Name).Str("op", event.Op.String()).Msg("Pool changed")
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(opts.Debounce)
			} else {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(opts.Debounce)
			}
			fire = debounceTimer.C

		case <-fire:
			fire = nil
			run()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn().Err(err).Msg("Pool watcher error")
		}
	}
}

// relevant filters out staging dirs, temp files and the lock so that only
// changes that alter the entry set trigger a sync.
func (e *Engine) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if filepath.Dir(ev.Name) == e.Store.Path(store.StateDir) {
		return base == pool.FileName
	}
	return true
}
