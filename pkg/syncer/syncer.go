// Package syncer projects the pool into agent target directories as
// symlinks. A link is "managed" when its target lies under the pool's
// skills root; only managed links are ever replaced or pruned.
package syncer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/swang430/skills-pool/pkg/agents"
	"github.com/swang430/skills-pool/pkg/ecosystem"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/pool"
	"github.com/swang430/skills-pool/pkg/skill"
)

const backupStamp = "20060102-150405"

type Options struct {
	Prune           bool
	BackupConflicts bool
	DryRun          bool
}

type Synchronizer struct {
	// SkillsRoot is the pool's canonical storage root, <pool>/skills.
	SkillsRoot string
	Policy     ecosystem.Policy
	Now        func() time.Time

	logger zerolog.Logger
}

func New(skillsRoot string, policy ecosystem.Policy) *Synchronizer {
	return &Synchronizer{
		SkillsRoot: skillsRoot,
		Policy:     policy,
		Now:        time.Now,
		logger:     logging.GetLogger("syncer"),
	}
}

type task struct {
	agents []agents.Agent
}

type result struct {
	reports []*AgentReport
}

// Sync links entries into every granted agent. Agents sharing a target
// directory are handled by one worker in sequence; distinct directories
// are handled in parallel. entries is treated as a read-only snapshot.
func (s *Synchronizer) Sync(ctx context.Context, targets []agents.Agent, entries []pool.Entry, opts Options) (*Report, error) {
	defer logging.LogOperationStart(s.logger, "sync")()

	report := &Report{Agents: map[string]*AgentReport{}, NotGranted: []string{}}

	var tasks []task
	byDir := map[string]int{}
	for _, a := range targets {
		if !s.Policy.MayGrant(a.Ecosystem) {
			report.NotGranted = append(report.NotGranted, a.ID)
			s.logger.Debug().Str("agent", a.ID).Str("ecosystem", a.Ecosystem).Msg("Agent not granted")
			continue
		}
		dir := filepath.Clean(a.TargetDir)
		if i, ok := byDir[dir]; ok {
			tasks[i].agents = append(tasks[i].agents, a)
			continue
		}
		byDir[dir] = len(tasks)
		tasks = append(tasks, task{agents: []agents.Agent{a}})
	}
	sort.Strings(report.NotGranted)

	desired := sortedEntries(entries)
	results := make(chan result, len(tasks))

	g := errgroup.Group{}
	for _, t := range tasks {
		g.Go(func() error {
			var res result
			var p *plan
			if opts.DryRun {
				p = newPlan()
			}
			for _, a := range t.agents {
				res.reports = append(res.reports, s.syncAgent(ctx, a, desired, opts, p))
			}
			results <- res
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for res := range results {
		for _, r := range res.reports {
			report.Agents[r.Agent.ID] = r
		}
	}
	return report, ctx.Err()
}

// PruneReport previews what Sync with Prune would remove from agent's
// target directory. It never writes.
func (s *Synchronizer) PruneReport(a agents.Agent, entries []pool.Entry) (*AgentReport, error) {
	r := newAgentReport(a, true)
	want := map[string]bool{}
	for _, e := range entries {
		want[e.Name] = true
	}
	if err := s.prune(a, want, r, true, nil); err != nil {
		return r, err
	}
	return r, nil
}

func sortedEntries(entries []pool.Entry) []pool.Entry {
	out := make([]pool.Entry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Synchronizer) syncAgent(ctx context.Context, a agents.Agent, entries []pool.Entry, opts Options, p *plan) *AgentReport {
	r := newAgentReport(a, opts.DryRun)
	logger := s.logger.With().Str("agent", a.ID).Logger()

	if _, err := os.Stat(a.TargetDir); err != nil {
		if !os.IsNotExist(err) {
			r.add(Item{Path: a.TargetDir, Err: errors.Wrapf(err, errors.ErrIO, "checking %s", a.TargetDir)})
			return r
		}
		// a dry run goes on as if the directory had been made
		if !opts.DryRun {
			if err := os.MkdirAll(a.TargetDir, 0o755); err != nil {
				r.add(Item{Path: a.TargetDir, Err: errors.Wrapf(err, errors.ErrIO, "creating %s", a.TargetDir)})
				return r
			}
		}
	}

	stamp := s.Now().Format(backupStamp)
	own := newOwner(s.SkillsRoot)
	want := map[string]bool{}

	for _, e := range entries {
		if ctx.Err() != nil {
			return r
		}
		want[e.Name] = true
		it := s.linkEntry(e, a, own, stamp, opts, p)
		if it.Err != nil {
			logger.Warn().Err(it.Err).Str("name", e.Name).Msg("Failed to link entry")
		}
		r.add(it)
	}

	if opts.Prune && ctx.Err() == nil {
		if err := s.prune(a, want, r, opts.DryRun, p); err != nil {
			r.add(Item{Path: a.TargetDir, Err: err})
		}
	}

	logger.Debug().
		Int("linked", r.Linked).
		Int("conflicts", r.SkippedConflict).
		Int("pruned", r.Pruned).
		Int("errors", len(r.Errors)).
		Bool("dry_run", opts.DryRun).
		Msg("Agent synced")
	return r
}

func (s *Synchronizer) linkEntry(e pool.Entry, a agents.Agent, own owner, stamp string, opts Options, p *plan) Item {
	it := Item{Name: e.Name}
	if !skill.ValidName(e.Name) {
		it.Err = errors.Newf(errors.ErrInvalidInput, "invalid entry name %q", e.Name)
		return it
	}

	canonical := filepath.Join(s.SkillsRoot, e.Name)
	link := filepath.Join(a.TargetDir, e.Name)
	it.Path, it.Target = link, canonical

	if info, err := os.Stat(canonical); err != nil || !info.IsDir() {
		it.Err = errors.Newf(errors.ErrNotFound, "pool entry %q is missing on disk", e.Name)
		return it
	}

	state, current, err := p.observe(link)
	if err != nil {
		it.Err = errors.Wrapf(err, errors.ErrIO, "inspecting %s", link)
		return it
	}

	switch state {
	case slotEmpty:
		it.Action = ActionCreated
		if opts.DryRun {
			p.record(e.Name, canonical)
		} else if err := os.Symlink(canonical, link); err != nil {
			it.Err = errors.Wrapf(err, errors.ErrIO, "linking %s", link)
		}
		return it

	case slotLink:
		if same(current, canonical) {
			it.Action = ActionUnchanged
			return it
		}
		if own.owns(current) {
			it.Action = ActionReplaced
			if opts.DryRun {
				p.record(e.Name, canonical)
			} else if err := overwriteSymlink(canonical, link); err != nil {
				it.Err = errors.Wrapf(err, errors.ErrIO, "replacing %s", link)
			}
			return it
		}
		// a link the user made themselves is treated like any other
		// unmanaged occupant
	}

	if !opts.BackupConflicts {
		it.Action = ActionSkippedConflict
		it.Error = errors.Newf(errors.ErrConflictUnmanaged, "%s is not managed by skillctl", link).Error()
		return it
	}

	it.Action = ActionBackedUp
	it.Backup = backupName(link, stamp)
	if opts.DryRun {
		p.record(e.Name, canonical)
		return it
	}
	if err := os.Rename(link, it.Backup); err != nil {
		it.Err = errors.Wrapf(err, errors.ErrIO, "backing up %s", link)
		return it
	}
	if err := os.Symlink(canonical, link); err != nil {
		it.Err = errors.Wrapf(err, errors.ErrIO, "linking %s", link)
	}
	return it
}

// prune removes managed links in the target directory whose name is not
// in want. Anything else is left alone.
func (s *Synchronizer) prune(a agents.Agent, want map[string]bool, r *AgentReport, dryRun bool, p *plan) error {
	links, err := ManagedLinks(s.SkillsRoot, a.TargetDir)
	if err != nil {
		return errors.Wrapf(err, errors.ErrIO, "reading %s", a.TargetDir)
	}
	links = p.overlay(a.TargetDir, links)

	for _, l := range links {
		if want[l.Name] {
			continue
		}
		it := Item{Name: l.Name, Path: l.Path, Target: l.Target, Action: ActionPruned}
		if dryRun {
			p.record(l.Name, "")
		} else {
			if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
				it.Err = errors.Wrapf(err, errors.ErrIO, "removing %s", l.Path)
			}
		}
		r.add(it)
	}
	return nil
}
