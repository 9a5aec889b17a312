package engine

import (
	"context"

	"github.com/swang430/skills-pool/pkg/agents"
	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/importer"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/snapshot"
	"github.com/swang430/skills-pool/pkg/source"
	"github.com/swang430/skills-pool/pkg/store"
	"github.com/swang430/skills-pool/pkg/syncer"
)

// scan fetches src and fingerprints its bundle tree.
func (e *Engine) scan(ctx context.Context, src config.Source) (*snapshot.Snapshot, *source.ResolvedSource, error) {
	res, err := e.Fetch(src).Fetch(ctx, e.Store)
	if err != nil {
		return nil, nil, err
	}
	bundles, err := snapshot.ScanTree(ctx, res.Dir)
	if err != nil {
		return nil, nil, err
	}
	return &snapshot.Snapshot{
		SourceID:   src.ID,
		Location:   src.Location,
		Commit:     res.Commit,
		CapturedAt: e.Now().UTC(),
		Bundles:    bundles,
	}, res, nil
}

// Diff compares the source's current tree with its last accepted
// snapshot. Nothing is written.
func (e *Engine) Diff(ctx context.Context, sourceID string) (*snapshot.Result, error) {
	defer logging.LogOperationStart(e.logger, "diff "+sourceID)()

	src, err := e.source(sourceID)
	if err != nil {
		return nil, err
	}
	current, _, err := e.scan(ctx, src)
	if err != nil {
		return nil, err
	}
	previous, err := e.Snapshots.Load(src.ID)
	if err != nil {
		return nil, err
	}
	return snapshot.Diff(current, previous), nil
}

// Accept makes diff's current snapshot the baseline for the next Diff.
func (e *Engine) Accept(ctx context.Context, diff *snapshot.Result) error {
	if diff == nil || diff.Current == nil {
		return errors.New(errors.ErrInvalidInput, "nothing to accept")
	}
	if _, err := e.source(diff.Current.SourceID); err != nil {
		return err
	}
	return e.withLock(ctx, func() error {
		return e.Snapshots.Save(diff.Current)
	})
}

type ImportRequest struct {
	SourceID string
	// Names selects bundles by directory name. Ignored when All is set.
	Names []string
	All   bool
	// Accept saves the scanned snapshot when every bundle was handled
	// without error.
	Accept bool
}

// Import copies bundles of a source into the pool. Per-bundle problems are
// in the report; the error is reserved for failures of the whole run.
func (e *Engine) Import(ctx context.Context, req ImportRequest) (*importer.Report, error) {
	src, err := e.source(req.SourceID)
	if err != nil {
		return nil, err
	}
	if !req.All && len(req.Names) == 0 {
		return nil, errors.New(errors.ErrInvalidInput, "select bundles by name or import all")
	}

	current, res, err := e.scan(ctx, src)
	if err != nil {
		return nil, err
	}

	var report *importer.Report
	err = e.withLock(ctx, func() error {
		imp := importer.New(e.Store, e.Registry, e.Config.Ecosystem)
		imp.Now = e.Now

		ireq := importer.Request{
			Source:    src,
			Tree:      res.Dir,
			RelPrefix: src.Path,
			Names:     req.Names,
			Mode:      importer.ModeSelected,
		}
		if req.All {
			ireq.Mode = importer.ModeAll
		}

		var err error
		report, err = imp.Import(ctx, ireq)
		if err != nil {
			return err
		}

		if !req.Accept {
			return nil
		}
		if len(report.Errors) > 0 {
			e.logger.Warn().Str("source", src.ID).Int("errors", len(report.Errors)).Msg("Not accepting snapshot after failed imports")
			return nil
		}
		return e.Snapshots.Save(current)
	})
	return report, err
}

type SyncRequest struct {
	// Agents limits the run to these ids. Empty means every agent.
	Agents          []string
	Prune           bool
	BackupConflicts bool
	DryRun          bool
}

// Sync projects the pool into the agents' target dirs. A dry run does not
// take the lock.
func (e *Engine) Sync(ctx context.Context, req SyncRequest) (*syncer.Report, error) {
	targets, err := agents.Select(e.Agents, req.Agents)
	if err != nil {
		return nil, err
	}

	run := func() (*syncer.Report, error) {
		s := syncer.New(e.Store.Path(store.SkillsDir), e.Config.Ecosystem)
		s.Now = e.Now
		return s.Sync(ctx, targets, e.Registry.Entries(), syncer.Options{
			Prune:           req.Prune,
			BackupConflicts: req.BackupConflicts,
			DryRun:          req.DryRun,
		})
	}

	if req.DryRun {
		return run()
	}
	var report *syncer.Report
	err = e.withLock(ctx, func() error {
		var err error
		report, err = run()
		return err
	})
	return report, err
}

// PruneReport lists the managed links Sync with Prune would remove from
// one agent.
func (e *Engine) PruneReport(ctx context.Context, agentID string) (*syncer.AgentReport, error) {
	a, err := e.agent(agentID)
	if err != nil {
		return nil, err
	}
	s := syncer.New(e.Store.Path(store.SkillsDir), e.Config.Ecosystem)
	return s.PruneReport(a, e.Registry.Entries())
}

// RemoveSource drops a source from the config and deletes its live
// snapshot. Saving the config is left to the caller.
func (e *Engine) RemoveSource(ctx context.Context, id string) error {
	if err := e.Config.RemoveSource(id); err != nil {
		return err
	}
	return e.withLock(ctx, func() error {
		return e.Snapshots.Delete(id)
	})
}

