// Package inventory records every skill bundle installed on the machine:
// in the agents' skills directories, in the workspace's agent directories
// and in the Claude plugin marketplaces. Records say whether a bundle is a
// pool link, a hand-written bundle or plugin content, and whether its
// content is already in the pool.
package inventory

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/swang430/skills-pool/pkg/agents"
	"github.com/swang430/skills-pool/pkg/fingerprint"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/pool"
	"github.com/swang430/skills-pool/pkg/skill"
	"github.com/swang430/skills-pool/pkg/syncer"
)

const (
	ScopeUser        = "user"
	ScopeWorkspace   = "workspace"
	ScopeMarketplace = "plugin_marketplace"
)

const (
	SourceNative = "native"
	// SourceSystem bundles live in a hidden .system directory and ship
	// with the agent.
	SourceSystem = "system"
	// SourcePool is a link managed by skillctl.
	SourcePool = "pool"
	// SourceLinked is a link made by someone else.
	SourceLinked      = "linked"
	SourceMarketplace = "marketplace"
)

const systemDir = ".system"

// ClaudeMarketplaces and ClaudeSettings are relative to the home directory.
var (
	ClaudeMarketplaces = filepath.Join(".claude", "plugins", "marketplaces")
	ClaudeSettings     = filepath.Join(".claude", "settings.json")
)

type Record struct {
	Agent       string `json:"agent"`
	Scope       string `json:"scope"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SourceType  string `json:"source_type"`
	// Enabled is nil when it cannot be told, as for plugin content outside
	// any plugin.
	Enabled     *bool                   `json:"enabled"`
	Dir         string                  `json:"skill_dir"`
	Manifest    string                  `json:"skill_md"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	// PoolName is the pool entry a managed link points at, or the entry
	// holding identical content.
	PoolName string            `json:"pool_name,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// InPool reports whether the bundle's content is in the pool.
func (r Record) InPool() bool {
	return r.PoolName != ""
}

type Scanner struct {
	// SkillsRoot is <pool>/skills, used to recognize managed links.
	SkillsRoot string
	Registry   *pool.Registry
	// Agents are scanned with user scope.
	Agents    []agents.Agent
	Home      string
	Workspace string
	Now       func() time.Time

	logger zerolog.Logger
}

func NewScanner(skillsRoot string, reg *pool.Registry, targets []agents.Agent, home, workspace string) *Scanner {
	return &Scanner{
		SkillsRoot: skillsRoot,
		Registry:   reg,
		Agents:     targets,
		Home:       home,
		Workspace:  workspace,
		Now:        time.Now,
		logger:     logging.GetLogger("inventory"),
	}
}

type root struct {
	agent, scope, dir string
}

// Scan walks every known skills location and returns the inventory. A
// bundle reachable from several locations is recorded once, under the
// first one in scan order. Unreadable bundles are recorded with Error set.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	defer logging.LogOperationStart(s.logger, "inventory scan")()

	var roots []root
	for _, a := range s.Agents {
		roots = append(roots, root{a.ID, ScopeUser, a.TargetDir})
	}
	if s.Workspace != "" {
		for _, a := range agents.WorkspaceAgents(s.Workspace) {
			roots = append(roots, root{a.ID, ScopeWorkspace, a.TargetDir})
		}
	}

	var records []Record
	seen := map[string]bool{}
	keep := func(rec Record) {
		key := rec.Manifest
		if resolved, err := filepath.EvalSymlinks(rec.Manifest); err == nil {
			key = resolved
		}
		// pool links all resolve into the pool; keep one per location
		if rec.SourceType == SourcePool {
			key = rec.Manifest
		}
		if seen[key] {
			return
		}
		seen[key] = true
		records = append(records, rec)
	}

	for _, r := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, rec := range s.scanLevel(r) {
			keep(rec)
		}
	}
	if s.Home != "" {
		found, err := s.scanMarketplaces(ctx, filepath.Join(s.Home, ClaudeMarketplaces))
		if err != nil {
			return nil, err
		}
		for _, rec := range found {
			keep(rec)
		}
	}

	if err := s.hashAll(ctx, records); err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Agent != b.Agent {
			return a.Agent < b.Agent
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Manifest < b.Manifest
	})

	report := newReport(s.Now(), s.Workspace, records)
	s.logger.Debug().Int("records", report.Total).Int("in_pool", report.InPool).Msg("Inventory scanned")
	return report, nil
}

// scanLevel lists bundles directly inside r.dir and its .system dir.
// Missing or unreadable directories contribute nothing.
func (s *Scanner) scanLevel(r root) []Record {
	var out []Record
	for _, level := range []struct{ dir, sourceType string }{
		{r.dir, SourceNative},
		{filepath.Join(r.dir, systemDir), SourceSystem},
	} {
		if info, err := os.Stat(level.dir); err != nil || !info.IsDir() {
			continue
		}
		dirents, err := os.ReadDir(level.dir)
		if err != nil {
			s.logger.Warn().Err(err).Str("dir", level.dir).Msg("Cannot read skills directory")
			continue
		}

		managed := map[string]syncer.ManagedLink{}
		if links, err := syncer.ManagedLinks(s.SkillsRoot, level.dir); err == nil {
			for _, l := range links {
				managed[l.Name] = l
			}
		}

		for _, d := range dirents {
			if strings.HasPrefix(d.Name(), ".") {
				continue
			}
			dir := filepath.Join(level.dir, d.Name())
			if info, err := os.Stat(dir); err != nil || !info.IsDir() || !skill.HasManifest(dir) {
				continue
			}

			rec := newRecord(r.agent, r.scope, level.sourceType, dir)
			enabled := true
			rec.Enabled = &enabled
			if d.Type()&os.ModeSymlink != 0 {
				rec.SourceType = SourceLinked
				if l, ok := managed[d.Name()]; ok {
					rec.SourceType = SourcePool
					rec.PoolName = filepath.Base(l.Target)
				}
			}
			out = append(out, rec)
		}
	}
	return out
}

// scanMarketplaces finds SKILL.md files below a "skills" directory anywhere
// under base. The first path element below base names the marketplace; the
// element after "plugins" or "external_plugins" names the plugin.
func (s *Scanner) scanMarketplaces(ctx context.Context, base string) ([]Record, error) {
	if _, err := os.Stat(base); err != nil {
		return nil, nil
	}
	enabled := enabledPlugins(filepath.Join(s.Home, ClaudeSettings))

	var out []Record
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug().Err(err).Str("path", path).Msg("Skipping unreadable marketplace path")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() != skill.FileName {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if !contains(parts[:len(parts)-1], "skills") {
			return nil
		}

		rec := newRecord("claude", ScopeMarketplace, SourceMarketplace, filepath.Dir(path))
		rec.Extra = map[string]string{}
		if len(parts) > 1 {
			rec.Extra["marketplace"] = parts[0]
		}
		if plugin := after(parts, "plugins", "external_plugins"); plugin != "" {
			rec.Extra["plugin"] = plugin
			on := false
			for key := range enabled {
				if strings.HasPrefix(key, plugin+"@") {
					on = true
					break
				}
			}
			rec.Enabled = &on
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func newRecord(agent, scope, sourceType, dir string) Record {
	rec := Record{
		Agent:      agent,
		Scope:      scope,
		Name:       filepath.Base(dir),
		SourceType: sourceType,
		Dir:        dir,
		Manifest:   filepath.Join(dir, skill.FileName),
	}
	if m, err := skill.Load(dir); err == nil {
		if name := strings.TrimSpace(m.Name); name != "" {
			rec.Name = name
		}
		rec.Description = strings.TrimSpace(m.Description)
	}
	return rec
}

// hashAll fingerprints every record's bundle and looks its content up in the
// registry.
func (s *Scanner) hashAll(ctx context.Context, records []Record) error {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fp, err := fingerprint.Dir(records[i].Dir)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				records[i].Error = err.Error()
				return nil
			}
			records[i].Fingerprint = fp
			if records[i].PoolName == "" && s.Registry != nil {
				if e, ok := s.Registry.ByFingerprint(fp); ok {
					records[i].PoolName = e.Name
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// enabledPlugins reads the "enabledPlugins" map of Claude's settings and
// returns the keys switched on. A missing or unreadable file enables none.
func enabledPlugins(path string) map[string]bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var settings struct {
		EnabledPlugins map[string]any `json:"enabledPlugins"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		logger := logging.GetLogger("inventory")
		logger.Debug().Err(err).Str("path", path).Msg("Ignoring unreadable settings")
		return nil
	}
	out := map[string]bool{}
	for k, v := range settings.EnabledPlugins {
		if truthy(v) {
			out[k] = true
		}
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case nil:
		return false
	default:
		return true
	}
}

func contains(parts []string, want string) bool {
	for _, p := range parts {
		if p == want {
			return true
		}
	}
	return false
}

// after returns the element following the first of markers found in parts.
func after(parts []string, markers ...string) string {
	for _, m := range markers {
		for i, p := range parts {
			if p == m && i+1 < len(parts)-1 {
				return parts[i+1]
			}
		}
	}
	return ""
}
