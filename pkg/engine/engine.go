// Package engine wires the pool components together and exposes the
// operations the CLI runs. Every operation returns a structured report and
// never prints. Operations that change the pool hold the pool lock.
package engine

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/swang430/skills-pool/pkg/agents"
	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/lock"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/pool"
	"github.com/swang430/skills-pool/pkg/snapshot"
	"github.com/swang430/skills-pool/pkg/source"
	"github.com/swang430/skills-pool/pkg/store"
)

// Options carry the environment an Engine resolves agents against.
type Options struct {
	// Home is the user's home directory. Defaults to os.UserHomeDir.
	Home string
	// Workspace is the project directory searched by DiscoverLocal.
	// Defaults to the working directory.
	Workspace string
	// LockTimeout bounds the wait for the pool lock.
	LockTimeout time.Duration
}

type Engine struct {
	Config    *config.Config
	Store     store.Store
	Registry  *pool.Registry
	Snapshots *snapshot.Store
	// Agents is the resolved target set, static for the engine's life.
	Agents []agents.Agent
	Now    func() time.Time

	// Fetch builds the fetcher for a source. Tests replace it.
	Fetch func(src config.Source) source.Source

	opts   Options
	logger zerolog.Logger
}

// Open prepares the pool at cfg's pool dir and loads its state.
func Open(cfg *config.Config, opts Options) (*Engine, error) {
	if opts.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrConfig, "resolving home directory")
		}
		opts.Home = home
	}
	if opts.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.Workspace = wd
		}
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = lock.DefaultTimeout
	}

	st := store.New(cfg.ResolvedPoolDir())
	if err := st.EnsureLayout(); err != nil {
		return nil, err
	}

	reg, err := pool.OpenStore(st)
	if err != nil {
		return nil, err
	}

	targets, err := agents.LoadTargets(st.Path(agents.TargetsFile), st.Root())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Config:    cfg,
		Store:     st,
		Registry:  reg,
		Snapshots: snapshot.NewStore(st.Path(store.StateDir, snapshot.DirName)),
		Agents: agents.Resolve(agents.ResolveOptions{
			Home:      opts.Home,
			PoolRoot:  st.Root(),
			Targets:   targets,
			Overrides: cfg.Agents,
		}),
		Now:    time.Now,
		opts:   opts,
		logger: logging.GetLogger("engine"),
	}
	e.Fetch = func(src config.Source) source.Source {
		return source.FromConfig(src, e.Config.Network)
	}

	e.logger.Debug().
		Str("pool", st.Root()).
		Int("entries", reg.Len()).
		Int("agents", len(e.Agents)).
		Msg("Engine ready")
	return e, nil
}

// Reload re-reads the registry from disk, picking up changes made by
// another process.
func (e *Engine) Reload() error {
	reg, err := pool.OpenStore(e.Store)
	if err != nil {
		return err
	}
	e.Registry = reg
	return nil
}

// withLock runs fn holding the pool lock, with the registry freshly
// loaded so decisions never rest on state another process has replaced.
func (e *Engine) withLock(ctx context.Context, fn func() error) error {
	l := lock.New(e.Store.Path(store.StateDir, lock.FileName))
	l.Timeout = e.opts.LockTimeout
	return l.With(ctx, func() error {
		if err := e.Reload(); err != nil {
			return err
		}
		return fn()
	})
}

func (e *Engine) source(id string) (config.Source, error) {
	src, ok := e.Config.FindSource(id)
	if !ok {
		return config.Source{}, errors.Newf(errors.ErrNotFound, "unknown source %q", id)
	}
	return src, nil
}

func (e *Engine) agent(id string) (agents.Agent, error) {
	sel, err := agents.Select(e.Agents, []string{id})
	if err != nil {
		return agents.Agent{}, err
	}
	if len(sel) == 0 {
		return agents.Agent{}, errors.New(errors.ErrInvalidInput, "agent id is required")
	}
	return sel[0], nil
}
