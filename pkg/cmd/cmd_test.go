package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/swang430/skills-pool/pkg/agents/all"
	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/engine"
	"github.com/swang430/skills-pool/pkg/importer"
	"github.com/swang430/skills-pool/pkg/inventory"
	"github.com/swang430/skills-pool/pkg/promote"
	"github.com/swang430/skills-pool/pkg/source"
	"github.com/swang430/skills-pool/pkg/syncer"
)

type env struct {
	configPath string
	poolDir    string
	home       string
	logFile    string
}

// newEnv prepares a home with claude installed and points engineOptions
// at it for the test's duration.
func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		configPath: filepath.Join(root, "config", "config.toml"),
		poolDir:    filepath.Join(root, "pool"),
		home:       filepath.Join(root, "home"),
		logFile:    filepath.Join(root, "skillctl.log"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(e.home, ".claude"), 0o755))

	prev := engineOptions
	engineOptions = engine.Options{Home: e.home, Workspace: filepath.Join(root, "work")}
	t.Cleanup(func() { engineOptions = prev })
	return e
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.configPath, "--pool", e.poolDir, "--log-file", e.logFile}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func writeBundle(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := "---\nname: " + filepath.Base(dir) + "\ndescription: test bundle\n---\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(manifest), 0o644))
}

func TestInit(t *testing.T) {
	e := newEnv(t)

	out := e.mustRun(t, "init", "--yes")
	assert.Contains(t, out, "Created "+e.configPath)
	assert.FileExists(t, e.configPath)
	for _, dir := range []string{"skills", "state", "cache", "trash"} {
		assert.DirExists(t, filepath.Join(e.poolDir, dir))
	}

	targets, err := os.ReadFile(filepath.Join(e.poolDir, "config", "targets.conf"))
	require.NoError(t, err)
	assert.Contains(t, string(targets), "claude | claude | "+filepath.Join(e.home, ".claude", "skills"))
	assert.NotContains(t, string(targets), "codex", "only installed agents are seeded")

	_, err = e.run(t, "init", "--yes")
	assert.Error(t, err, "an existing config is not overwritten")
	e.mustRun(t, "init", "--yes", "--force")
}

func TestSourceCommands(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init", "--yes")
	upstream := t.TempDir()

	out := e.mustRun(t, "source", "add", upstream, "-e", "Claude", "--id", "team")
	assert.Contains(t, out, "Added source team")
	e.mustRun(t, "source", "add", upstream, "-e", "claude", "--id", "team")
	out = e.mustRun(t, "source", "add", "acme/skills/catalog@v1", "-e", "codex")
	assert.Contains(t, out, "Added source skills")

	var sources []config.Source
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "--json", "source", "list")), &sources))
	require.Len(t, sources, 3)
	assert.Equal(t, "team", sources[0].ID)
	assert.Equal(t, "claude", sources[0].Ecosystem)
	assert.Equal(t, "team-2", sources[1].ID)
	assert.Equal(t, "https://github.com/acme/skills.git", sources[2].Location)
	assert.Equal(t, "catalog", sources[2].Path)
	assert.Equal(t, "v1", sources[2].Ref)

	e.mustRun(t, "source", "update", "team-2", "--disable", "--note", "mirror")
	cfg, err := config.LoadFile(e.configPath)
	require.NoError(t, err)
	src, ok := cfg.FindSource("team-2")
	require.True(t, ok)
	assert.True(t, src.Disabled)
	assert.Equal(t, "mirror", src.Note)

	e.mustRun(t, "source", "remove", "team-2")
	cfg, err = config.LoadFile(e.configPath)
	require.NoError(t, err)
	_, ok = cfg.FindSource("team-2")
	assert.False(t, ok)

	_, err = e.run(t, "source", "remove", "team-2")
	assert.Error(t, err)
	_, err = e.run(t, "source", "add", upstream)
	assert.Error(t, err, "ecosystem is required")
}

func TestImportAndSync(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init", "--yes")
	upstream := t.TempDir()
	writeBundle(t, filepath.Join(upstream, "pdf"))
	writeBundle(t, filepath.Join(upstream, "docx"))
	e.mustRun(t, "source", "add", upstream, "-e", "claude", "--id", "team")

	out := e.mustRun(t, "diff", "team")
	assert.Contains(t, out, "+ docx")
	assert.Contains(t, out, "never accepted")

	_, err := e.run(t, "import", "team")
	assert.Error(t, err, "without a terminal, names or --all are required")

	var report importer.Report
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "--json", "import", "team", "--all", "--accept")), &report))
	assert.Len(t, report.Imported, 2)

	out = e.mustRun(t, "diff", "team")
	assert.Contains(t, out, "no changes")

	target := filepath.Join(e.home, ".claude", "skills")
	out = e.mustRun(t, "sync", "--dry-run")
	assert.Contains(t, out, "dry run")
	assert.NoDirExists(t, target)

	var sr syncer.Report
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "--json", "sync")), &sr))
	require.Contains(t, sr.Agents, "claude")
	assert.Equal(t, 2, sr.Agents["claude"].Linked)
	dst, err := os.Readlink(filepath.Join(target, "pdf"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(e.poolDir, "skills", "pdf"), dst)

	e.mustRun(t, "maintain", "trash", "docx")
	out = e.mustRun(t, "prune-report", "claude")
	assert.Contains(t, out, "docx")
	e.mustRun(t, "sync", "--prune")
	_, err = os.Lstat(filepath.Join(target, "docx"))
	assert.True(t, os.IsNotExist(err))

	var st engine.Status
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "--json", "status")), &st))
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 1, st.Trashed)
	require.Len(t, st.Agents, 1)
	assert.Equal(t, 1, st.Agents[0].Linked)

	out = e.mustRun(t, "maintain", "audit")
	assert.Contains(t, out, "No issues found")
}

func TestEcosystemCommand(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init", "--yes")

	tests := map[string]struct {
		args       []string
		wantFollow []string
		wantGrant  []string
	}{
		"follow one": {
			args:       []string{"ecosystem", "--follow", "Claude, codex"},
			wantFollow: []string{"claude", "codex"},
		},
		"follow none": {
			args:       []string{"ecosystem", "--follow", "none"},
			wantFollow: []string{},
		},
		"grant keeps custom tags": {
			args:      []string{"ecosystem", "--grant", "gemini,obsidian,custom"},
			wantGrant: []string{"gemini", "obsidian", "custom"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			e.mustRun(t, tc.args...)
			cfg, err := config.LoadFile(e.configPath)
			require.NoError(t, err)
			if tc.wantFollow != nil {
				assert.ElementsMatch(t, tc.wantFollow, cfg.Ecosystem.Follow)
			}
			if tc.wantGrant != nil {
				assert.ElementsMatch(t, tc.wantGrant, cfg.Ecosystem.Grant)
			}
		})
	}

	e.mustRun(t, "ecosystem", "--reset")
	cfg, err := config.LoadFile(e.configPath)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Ecosystem, cfg.Ecosystem)

	_, err = e.run(t, "ecosystem", "--reset", "--follow", "claude")
	assert.Error(t, err)
}

func TestFollowNoneSkipsImport(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init", "--yes")
	upstream := t.TempDir()
	writeBundle(t, filepath.Join(upstream, "pdf"))
	e.mustRun(t, "source", "add", upstream, "-e", "claude", "--id", "team")
	e.mustRun(t, "ecosystem", "--follow", "none")

	out := e.mustRun(t, "import", "team", "pdf")
	assert.Contains(t, out, "0 imported, 0 duplicate, 1 not followed")
}

func TestProxyCommand(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init", "--yes")

	tests := map[string]struct {
		args    []string
		wantErr bool
		want    config.Network
	}{
		"set": {
			args: []string{"proxy", "--set", "http://127.0.0.1:7890", "--no-proxy", "localhost, corp.internal"},
			want: config.Network{ProxyURL: "http://127.0.0.1:7890", NoProxy: "localhost,corp.internal"},
		},
		"bad scheme": {
			args:    []string{"proxy", "--set", "ftp://proxy:21"},
			wantErr: true,
			want:    config.Network{ProxyURL: "http://127.0.0.1:7890", NoProxy: "localhost,corp.internal"},
		},
		"clear": {
			args: []string{"proxy", "--clear"},
		},
	}

	for _, name := range []string{"set", "bad scheme", "clear"} {
		tc := tests[name]
		t.Run(name, func(t *testing.T) {
			_, err := e.run(t, tc.args...)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			cfg, err := config.LoadFile(e.configPath)
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.Network)
		})
	}
}

func TestPromoteCommand(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init", "--yes")
	handmade := filepath.Join(e.home, ".claude", "skills", "handmade")
	writeBundle(t, handmade)

	out := e.mustRun(t, "promote", "--list")
	assert.Contains(t, out, "handmade")

	out = e.mustRun(t, "promote", handmade)
	assert.Contains(t, out, "1 imported")
	assert.FileExists(t, filepath.Join(e.poolDir, "state", "promotions.jsonl"))

	_, err := e.run(t, "promote")
	assert.Error(t, err, "without a terminal, paths are required")

	var records []promote.LogRecord
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "--json", "promote", "--history")), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "handmade", records[0].Name)
	assert.Equal(t, importer.OutcomeImported, records[0].Outcome)
	assert.Contains(t, e.mustRun(t, "promote", "--history"), "handmade")

	var st engine.Status
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "--json", "status")), &st))
	assert.Equal(t, 1, st.Promotions)
}

func TestImportAcceptCoversUnselected(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init", "--yes")
	upstream := t.TempDir()
	writeBundle(t, filepath.Join(upstream, "pdf"))
	writeBundle(t, filepath.Join(upstream, "docx"))
	e.mustRun(t, "source", "add", upstream, "-e", "claude", "--id", "team")

	help := e.mustRun(t, "import", "--help")
	assert.Contains(t, help, "unselected bundles included")

	out := e.mustRun(t, "import", "team", "pdf", "--accept")
	assert.Contains(t, out, "1 imported")

	// docx was never imported but is part of the accepted baseline
	out = e.mustRun(t, "diff", "team")
	assert.Contains(t, out, "no changes")
	assert.NotContains(t, out, "+ docx")
}

func TestScanCommand(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init", "--yes")
	handmade := filepath.Join(e.home, ".claude", "skills", "handmade")
	writeBundle(t, handmade)
	writeBundle(t, filepath.Join(engineOptions.Workspace, ".gemini", "skills", "project"))

	assert.Contains(t, e.mustRun(t, "status"), "never scanned")

	out := e.mustRun(t, "scan")
	assert.Contains(t, out, "1 skill found, 0 in pool")
	assert.Contains(t, out, "handmade")
	assert.NotContains(t, out, "project", "workspace is opt-in")
	assert.FileExists(t, filepath.Join(e.poolDir, "state", inventory.LatestJSON))
	assert.FileExists(t, filepath.Join(e.poolDir, "state", inventory.LatestMarkdown))

	e.mustRun(t, "promote", handmade)

	var r inventory.Report
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "--json", "scan", "--workspace")), &r))
	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 1, r.InPool)
	assert.Equal(t, map[string]int{"claude": 1, "gemini": 1}, r.CountsByAgent)

	md := e.mustRun(t, "scan", "--markdown")
	assert.Contains(t, md, "# Skills Inventory")
	assert.Contains(t, md, "| claude | user | handmade | native | yes | handmade |")

	var st engine.Status
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "--json", "status")), &st))
	require.NotNil(t, st.Inventory)
	assert.Equal(t, 1, st.Inventory.Total)
	assert.Contains(t, e.mustRun(t, "status"), "1 skill, 1 in pool")
}

func TestSourceMarkets(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init", "--yes")
	require.NoError(t, os.MkdirAll(filepath.Join(e.home, ".claude", "skills"), 0o755))

	out := e.mustRun(t, "source", "markets")
	assert.Contains(t, out, "openai-skills")
	assert.Contains(t, out, "antigravity-skills")

	var views []source.MarketView
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "--json", "source", "markets")), &views))
	require.NotEmpty(t, views)
	assert.Equal(t, "openai-skills", views[0].ID)

	e.mustRun(t, "source", "add", "--market", "claude-skills")
	e.mustRun(t, "source", "add", "--market", "OpenAI", "-e", "gemini")

	_, err := e.run(t, "source", "add", "--market", "codex-skills")
	assert.Error(t, err, "the market directory is missing")
	_, err = e.run(t, "source", "add", "--market", "npm")
	assert.Error(t, err)
	_, err = e.run(t, "source", "add", t.TempDir(), "--market", "claude-skills", "-e", "claude")
	assert.Error(t, err, "location and market are exclusive")
	_, err = e.run(t, "source", "add")
	assert.Error(t, err)

	cfg, err := config.LoadFile(e.configPath)
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "claude-skills", cfg.Sources[0].ID)
	assert.Equal(t, "claude", cfg.Sources[0].Ecosystem)
	assert.Equal(t, filepath.Join(e.home, ".claude", "skills"), cfg.Sources[0].Location)
	assert.Equal(t, "openai-skills", cfg.Sources[1].ID)
	assert.Equal(t, "gemini", cfg.Sources[1].Ecosystem, "--ecosystem overrides the market's")
	assert.Equal(t, "https://github.com/openai/skills.git", cfg.Sources[1].Location)
}

func TestAgentsCommand(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "init", "--yes")

	out := e.mustRun(t, "agents")
	assert.Contains(t, out, "claude")
	assert.Contains(t, out, "targets.conf")

	out = e.mustRun(t, "agents", "--builtin")
	for _, id := range []string{"antigravity", "claude", "codex", "gemini"} {
		assert.Contains(t, out, id)
	}
}
