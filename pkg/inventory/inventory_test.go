package inventory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swang430/skills-pool/pkg/agents"
	_ "github.com/swang430/skills-pool/pkg/agents/all"
	"github.com/swang430/skills-pool/pkg/fingerprint"
	"github.com/swang430/skills-pool/pkg/pool"
	"github.com/swang430/skills-pool/pkg/store"
)

var scannedAt = time.Date(2026, 10, 2, 14, 5, 9, 0, time.UTC)

func writeBundle(t *testing.T, dir, name, desc string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "---\nname: " + name + "\ndescription: " + desc + "\n---\nbody\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644))
}

type fixture struct {
	st        store.Store
	reg       *pool.Registry
	home      string
	workspace string
	claude    agents.Agent
	codex     agents.Agent
}

// newFixture builds a pool holding "review" and a home directory with
// bundles of every kind.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:        store.New(t.TempDir()),
		home:      t.TempDir(),
		workspace: t.TempDir(),
	}
	require.NoError(t, f.st.EnsureLayout())
	reg, err := pool.OpenStore(f.st)
	require.NoError(t, err)
	f.reg = reg

	pooled := f.st.SkillPath("review")
	writeBundle(t, pooled, "review", "code review")
	fp, err := fingerprint.Dir(pooled)
	require.NoError(t, err)
	name, err := reg.Reserve(fp, func(i int) string {
		if i == 0 {
			return "review"
		}
		return ""
	}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Commit(pool.Entry{Name: name, Fingerprint: fp, ImportedAt: scannedAt}))

	f.claude = agents.Agent{ID: "claude", Ecosystem: "claude", TargetDir: filepath.Join(f.home, ".claude", "skills")}
	f.codex = agents.Agent{ID: "codex", Ecosystem: "codex", TargetDir: filepath.Join(f.home, ".codex", "skills")}

	require.NoError(t, os.MkdirAll(f.claude.TargetDir, 0o755))
	require.NoError(t, os.Symlink(pooled, filepath.Join(f.claude.TargetDir, "review")))
	writeBundle(t, filepath.Join(f.claude.TargetDir, "notes"), "notes", "meeting notes")
	// no manifest: not a bundle
	require.NoError(t, os.MkdirAll(filepath.Join(f.claude.TargetDir, "scratch"), 0o755))

	// same content as the pool entry under another directory name
	writeBundle(t, filepath.Join(f.codex.TargetDir, "review-copy"), "review", "code review")
	writeBundle(t, filepath.Join(f.codex.TargetDir, ".system", "installer"), "installer", "ships with codex")

	writeBundle(t, filepath.Join(f.workspace, ".claude", "skills", "deploy"), "deploy", "project deploy")

	market := filepath.Join(f.home, ClaudeMarketplaces, "acme")
	writeBundle(t, filepath.Join(market, "plugins", "docs", "skills", "pdf"), "pdf", "pdf tools")
	writeBundle(t, filepath.Join(market, "plugins", "media", "skills", "video"), "video", "video tools")
	writeBundle(t, filepath.Join(market, "skills", "loose"), "loose", "outside any plugin")
	// not below a skills directory
	writeBundle(t, filepath.Join(market, "templates", "starter"), "starter", "template")
	require.NoError(t, os.WriteFile(filepath.Join(f.home, ClaudeSettings),
		[]byte(`{"enabledPlugins": {"docs@acme": true, "media@acme": false}}`), 0o644))
	return f
}

func (f *fixture) scanner() *Scanner {
	s := NewScanner(f.st.Path(store.SkillsDir), f.reg, []agents.Agent{f.claude, f.codex}, f.home, f.workspace)
	s.Now = func() time.Time { return scannedAt }
	return s
}

func byDir(r *Report) map[string]Record {
	out := map[string]Record{}
	for _, rec := range r.Records {
		out[filepath.Base(rec.Dir)] = rec
	}
	return out
}

func TestScan(t *testing.T) {
	f := newFixture(t)
	r, err := f.scanner().Scan(context.Background())
	require.NoError(t, err)

	got := byDir(r)
	tests := map[string]struct {
		agent, scope, source, pool string
		enabled                    *bool
	}{
		"review":      {agent: "claude", scope: ScopeUser, source: SourcePool, pool: "review", enabled: ptr(true)},
		"notes":       {agent: "claude", scope: ScopeUser, source: SourceNative, enabled: ptr(true)},
		"review-copy": {agent: "codex", scope: ScopeUser, source: SourceNative, pool: "review", enabled: ptr(true)},
		"installer":   {agent: "codex", scope: ScopeUser, source: SourceSystem, enabled: ptr(true)},
		"deploy":      {agent: "claude", scope: ScopeWorkspace, source: SourceNative, enabled: ptr(true)},
		"pdf":         {agent: "claude", scope: ScopeMarketplace, source: SourceMarketplace, enabled: ptr(true)},
		"video":       {agent: "claude", scope: ScopeMarketplace, source: SourceMarketplace, enabled: ptr(false)},
		"loose":       {agent: "claude", scope: ScopeMarketplace, source: SourceMarketplace},
	}
	assert.Len(t, got, len(tests))
	for dir, tc := range tests {
		t.Run(dir, func(t *testing.T) {
			rec, ok := got[dir]
			require.True(t, ok)
			assert.Equal(t, tc.agent, rec.Agent)
			assert.Equal(t, tc.scope, rec.Scope)
			assert.Equal(t, tc.source, rec.SourceType)
			assert.Equal(t, tc.pool, rec.PoolName)
			assert.Equal(t, tc.enabled, rec.Enabled)
			assert.NotEmpty(t, rec.Fingerprint)
			assert.Empty(t, rec.Error)
		})
	}

	assert.Equal(t, "review", got["review-copy"].Name, "name comes from the manifest")
	assert.Equal(t, map[string]string{"marketplace": "acme", "plugin": "docs"}, got["pdf"].Extra)
	assert.Equal(t, map[string]string{"marketplace": "acme"}, got["loose"].Extra)

	assert.Equal(t, 8, r.Total)
	assert.Equal(t, 2, r.InPool)
	assert.Equal(t, map[string]int{"claude": 6, "codex": 2}, r.CountsByAgent)
	assert.Equal(t, 3, r.CountsByScope["claude:plugin_marketplace"])
	assert.Equal(t, 1, r.CountsByScope["claude:workspace"])
	assert.Equal(t, scannedAt, r.ScannedAt)
}

func TestScanOrder(t *testing.T) {
	f := newFixture(t)
	r, err := f.scanner().Scan(context.Background())
	require.NoError(t, err)

	var keys []string
	for _, rec := range r.Records {
		keys = append(keys, rec.Agent+"/"+rec.Scope+"/"+rec.Name)
	}
	assert.Equal(t, []string{
		"claude/plugin_marketplace/loose",
		"claude/plugin_marketplace/pdf",
		"claude/plugin_marketplace/video",
		"claude/user/notes",
		"claude/user/review",
		"claude/workspace/deploy",
		"codex/user/installer",
		"codex/user/review",
	}, keys)
}

func TestScanSharedDirectoryRecordedOnce(t *testing.T) {
	f := newFixture(t)
	// a second agent reading the same directory
	twin := agents.Agent{ID: "antigravity", Ecosystem: "gemini", TargetDir: f.claude.TargetDir}
	s := NewScanner(f.st.Path(store.SkillsDir), f.reg, []agents.Agent{f.claude, twin}, "", "")
	r, err := s.Scan(context.Background())
	require.NoError(t, err)

	for _, rec := range r.Records {
		assert.Equal(t, "claude", rec.Agent)
	}
	assert.Equal(t, 2, r.Total)
}

func TestScanWithoutLocations(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "skills"), nil, []agents.Agent{
		{ID: "claude", Ecosystem: "claude", TargetDir: filepath.Join(t.TempDir(), "missing")},
	}, t.TempDir(), "")
	r, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, r.Total)
	assert.NotNil(t, r.Records)
}

func TestScanCanceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.scanner().Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnabledPlugins(t *testing.T) {
	tests := map[string]struct {
		content string
		want    map[string]bool
	}{
		"mixed":   {content: `{"enabledPlugins": {"a@m": true, "b@m": false, "c@m": 1, "d@m": 0}}`, want: map[string]bool{"a@m": true, "c@m": true}},
		"absent":  {content: `{"theme": "dark"}`, want: map[string]bool{}},
		"garbage": {content: `{not json`, want: nil},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings.json")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))
			assert.Equal(t, tc.want, enabledPlugins(path))
		})
	}
	assert.Nil(t, enabledPlugins(filepath.Join(t.TempDir(), "none.json")))
}

func TestWriteAndLoadReport(t *testing.T) {
	f := newFixture(t)
	r, err := f.scanner().Scan(context.Background())
	require.NoError(t, err)

	none, err := LoadLatest(f.st)
	require.NoError(t, err)
	assert.Nil(t, none, "no scan has run yet")

	paths, err := WriteReport(f.st, r)
	require.NoError(t, err)
	assert.Equal(t, f.st.Path(store.StateDir, "inventory-20261002-140509.json"), paths.JSON)
	for _, p := range []string{paths.JSON, paths.Latest, paths.Markdown} {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}

	loaded, err := LoadLatest(f.st)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, r.Total, loaded.Total)
	assert.Equal(t, r.InPool, loaded.InPool)
	assert.Equal(t, r.CountsByAgent, loaded.CountsByAgent)
	require.Len(t, loaded.Records, len(r.Records))
	assert.Equal(t, r.Records[0].Manifest, loaded.Records[0].Manifest)

	md, err := os.ReadFile(paths.Markdown)
	require.NoError(t, err)
	assert.Equal(t, r.Markdown(), string(md))
}

func TestMarkdown(t *testing.T) {
	r := newReport(scannedAt, "/work", []Record{
		{Agent: "claude", Scope: ScopeUser, Name: "a|b", SourceType: SourcePool, Enabled: ptr(true), Dir: "/h/a", PoolName: "ab"},
		{Agent: "claude", Scope: ScopeMarketplace, Name: "pdf", SourceType: SourceMarketplace, Dir: "/h/pdf"},
	})
	md := r.Markdown()

	assert.True(t, strings.HasPrefix(md, "# Skills Inventory\n"))
	assert.Contains(t, md, "- Workspace: `/work`")
	assert.Contains(t, md, "- Total: 2")
	assert.Contains(t, md, "- In pool: 1")
	assert.Contains(t, md, "- claude: 2")
	assert.Contains(t, md, `| claude | user | a\|b | pool | yes | ab | `+"`/h/a`"+` |`)
	assert.Contains(t, md, "| claude | plugin_marketplace | pdf | marketplace | unknown | - | `/h/pdf` |")
}

func ptr(b bool) *bool {
	return &b
}
