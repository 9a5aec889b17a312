package engine

import (
	"context"
	"time"

	"github.com/swang430/skills-pool/pkg/agents"
	"github.com/swang430/skills-pool/pkg/ecosystem"
	"github.com/swang430/skills-pool/pkg/importer"
	"github.com/swang430/skills-pool/pkg/inventory"
	"github.com/swang430/skills-pool/pkg/maintenance"
	"github.com/swang430/skills-pool/pkg/promote"
	"github.com/swang430/skills-pool/pkg/store"
	"github.com/swang430/skills-pool/pkg/syncer"
)

// Promote imports locally authored bundles at paths into the pool.
func (e *Engine) Promote(ctx context.Context, paths []string) (*importer.Report, error) {
	var report *importer.Report
	err := e.withLock(ctx, func() error {
		imp := importer.New(e.Store, e.Registry, e.Config.Ecosystem)
		imp.Now = e.Now
		p := promote.New(imp, e.Store)
		p.Now = e.Now

		var err error
		report, err = p.Promote(ctx, paths)
		return err
	})
	return report, err
}

// DiscoverLocal lists bundle directories in agent and workspace skills
// dirs that could be promoted.
func (e *Engine) DiscoverLocal(ctx context.Context) ([]promote.Candidate, error) {
	return promote.DiscoverLocal(ctx, e.Registry, e.Agents, e.opts.Workspace)
}

// PromotionLog returns the recorded promotions, oldest first.
func (e *Engine) PromotionLog() ([]promote.LogRecord, error) {
	return promote.ReadLog(e.Store)
}

// Audit checks the pool and stores the result under the state dir. The
// path of the stored report is returned alongside it.
func (e *Engine) Audit(ctx context.Context) (*maintenance.Report, string, error) {
	var (
		report *maintenance.Report
		path   string
	)
	err := e.withLock(ctx, func() error {
		var err error
		report, err = maintenance.Audit(e.Store, e.Registry, e.Agents, e.Now().UTC())
		if err != nil {
			return err
		}
		path, err = maintenance.WriteReport(e.Store, report)
		return err
	})
	return report, path, err
}

// Inventory records every skill bundle installed for the resolved agents,
// the Claude plugin marketplaces and, with withWorkspace, the workspace's
// agent directories. The report is stored under the state dir.
func (e *Engine) Inventory(ctx context.Context, withWorkspace bool) (*inventory.Report, inventory.Paths, error) {
	var (
		report *inventory.Report
		paths  inventory.Paths
	)
	err := e.withLock(ctx, func() error {
		workspace := ""
		if withWorkspace {
			workspace = e.opts.Workspace
		}
		s := inventory.NewScanner(e.Store.Path(store.SkillsDir), e.Registry, e.Agents, e.opts.Home, workspace)
		s.Now = func() time.Time { return e.Now().UTC() }

		var err error
		if report, err = s.Scan(ctx); err != nil {
			return err
		}
		paths, err = inventory.WriteReport(e.Store, report)
		return err
	})
	return report, paths, err
}

// PruneBroken removes managed links to bundles that no longer exist.
func (e *Engine) PruneBroken(ctx context.Context, dryRun bool) ([]maintenance.Removed, error) {
	skillsRoot := e.Store.Path(store.SkillsDir)
	if dryRun {
		return maintenance.PruneBroken(skillsRoot, e.Agents, true)
	}
	var removed []maintenance.Removed
	err := e.withLock(ctx, func() error {
		var err error
		removed, err = maintenance.PruneBroken(skillsRoot, e.Agents, false)
		return err
	})
	return removed, err
}

// Trash moves a pool entry to the trash and returns where it went.
func (e *Engine) Trash(ctx context.Context, name string) (string, error) {
	var dst string
	err := e.withLock(ctx, func() error {
		var err error
		dst, err = maintenance.Trash(e.Store, e.Registry, name, e.Now().UTC())
		return err
	})
	return dst, err
}

type SourceStatus struct {
	ID        string `json:"id"`
	Ecosystem string `json:"ecosystem"`
	Location  string `json:"location"`
	Enabled   bool   `json:"enabled"`
	Followed  bool   `json:"followed"`
	// AcceptedAt is zero when no snapshot was accepted yet.
	AcceptedAt time.Time `json:"accepted_at,omitempty"`
	Bundles    int       `json:"bundles"`
}

type AgentStatus struct {
	agents.Agent
	Granted bool `json:"granted"`
	// Linked counts managed links, Broken those among them that dangle.
	Linked int `json:"linked"`
	Broken int `json:"broken"`
}

// InventoryStatus summarizes the last stored inventory.
type InventoryStatus struct {
	ScannedAt     time.Time      `json:"scanned_at"`
	Total         int            `json:"total"`
	InPool        int            `json:"in_pool"`
	CountsByAgent map[string]int `json:"counts_by_agent"`
}

type Status struct {
	PoolDir string `json:"pool_dir"`
	Entries int    `json:"entries"`
	Trashed int    `json:"trashed"`
	// Promotions counts records in the promotion log.
	Promotions int                   `json:"promotions"`
	Sources    []SourceStatus        `json:"sources"`
	Agents     []AgentStatus         `json:"agents"`
	Ecosystem  []ecosystem.StatusRow `json:"ecosystem"`
	// Inventory is nil until skillctl scan has run.
	Inventory *InventoryStatus `json:"inventory,omitempty"`
}

// Status summarizes the pool, its sources and agents. It only reads.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		PoolDir:   e.Store.Root(),
		Entries:   e.Registry.Len(),
		Trashed:   len(e.Registry.TrashedEntries()),
		Sources:   []SourceStatus{},
		Agents:    []AgentStatus{},
		Ecosystem: ecosystem.Status(e.Config.Ecosystem),
	}

	promotions, err := promote.ReadLog(e.Store)
	if err != nil {
		return nil, err
	}
	st.Promotions = len(promotions)

	inv, err := inventory.LoadLatest(e.Store)
	if err != nil {
		return nil, err
	}
	if inv != nil {
		st.Inventory = &InventoryStatus{
			ScannedAt:     inv.ScannedAt,
			Total:         inv.Total,
			InPool:        inv.InPool,
			CountsByAgent: inv.CountsByAgent,
		}
	}

	for _, src := range e.Config.Sources {
		row := SourceStatus{
			ID:        src.ID,
			Ecosystem: src.Ecosystem,
			Location:  src.Location,
			Enabled:   src.Enabled(),
			Followed:  e.Config.Ecosystem.MayFollow(src.Ecosystem),
		}
		snap, err := e.Snapshots.Load(src.ID)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			row.AcceptedAt = snap.CapturedAt
			row.Bundles = len(snap.Bundles)
		}
		st.Sources = append(st.Sources, row)
	}

	skillsRoot := e.Store.Path(store.SkillsDir)
	for _, a := range e.Agents {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		row := AgentStatus{Agent: a, Granted: e.Config.Ecosystem.MayGrant(a.Ecosystem)}
		links, err := syncer.ManagedLinks(skillsRoot, a.TargetDir)
		if err != nil {
			e.logger.Debug().Err(err).Str("agent", a.ID).Msg("Cannot read target dir")
		}
		for _, l := range links {
			row.Linked++
			if l.Broken {
				row.Broken++
			}
		}
		st.Agents = append(st.Agents, row)
	}
	return st, nil
}
