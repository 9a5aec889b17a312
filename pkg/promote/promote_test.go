package promote

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swang430/skills-pool/pkg/agents"
	_ "github.com/swang430/skills-pool/pkg/agents/all"
	"github.com/swang430/skills-pool/pkg/ecosystem"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/importer"
	"github.com/swang430/skills-pool/pkg/pool"
	"github.com/swang430/skills-pool/pkg/store"
)

var now = time.Date(2026, 9, 10, 8, 0, 0, 0, time.UTC)

func writeBundle(t *testing.T, dir, desc string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := "---\nname: " + filepath.Base(dir) + "\ndescription: " + desc + "\n---\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644))
}

func newPromoter(t *testing.T) (*Promoter, *pool.Registry) {
	t.Helper()
	st := store.New(t.TempDir())
	require.NoError(t, st.EnsureLayout())
	reg, err := pool.OpenStore(st)
	require.NoError(t, err)
	// nothing followed: promotion must not depend on the follow gate
	imp := importer.New(st, reg, ecosystem.Policy{Follow: []string{}})
	p := New(imp, st)
	p.Now = func() time.Time { return now }
	return p, reg
}

func TestPromote(t *testing.T) {
	p, reg := newPromoter(t)
	work := t.TempDir()
	writeBundle(t, filepath.Join(work, "review"), "code review")
	writeBundle(t, filepath.Join(work, "notes"), "notes")

	r, err := p.Promote(context.Background(), []string{
		filepath.Join(work, "review"),
		filepath.Join(work, "notes", "SKILL.md"),
	})
	require.NoError(t, err)
	require.Len(t, r.Imported, 2)
	assert.Empty(t, r.Errors)

	e, ok := reg.ByName("review")
	require.True(t, ok)
	assert.True(t, e.Local(), "promoted entries carry no external source")
	assert.Equal(t, filepath.ToSlash(filepath.Join(work, "review")), e.ExternalRelDir)
	assert.Equal(t, "code review", e.Description)

	recs, err := ReadLog(p.Store)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "promote", recs[0].Action)
	assert.Equal(t, filepath.Join(work, "review"), recs[0].Source)
	assert.Equal(t, p.Store.SkillPath("review"), recs[0].Destination)
	assert.Equal(t, importer.OutcomeImported, recs[0].Outcome)
	assert.Equal(t, now, recs[0].Time)
}

func TestPromoteTwiceIsDuplicate(t *testing.T) {
	p, reg := newPromoter(t)
	dir := filepath.Join(t.TempDir(), "review")
	writeBundle(t, dir, "code review")

	_, err := p.Promote(context.Background(), []string{dir})
	require.NoError(t, err)
	r, err := p.Promote(context.Background(), []string{dir})
	require.NoError(t, err)

	assert.Empty(t, r.Imported)
	require.Len(t, r.SkippedDuplicate, 1)
	assert.Equal(t, "review", r.SkippedDuplicate[0].StoredName)
	assert.Equal(t, 1, reg.Len())
}

func TestPromoteNameCollision(t *testing.T) {
	p, reg := newPromoter(t)
	a := filepath.Join(t.TempDir(), "review")
	b := filepath.Join(t.TempDir(), "review")
	writeBundle(t, a, "first")
	writeBundle(t, b, "second")

	r, err := p.Promote(context.Background(), []string{a, b})
	require.NoError(t, err)
	require.Len(t, r.Imported, 2)

	_, ok := reg.ByName("review")
	assert.True(t, ok)
	_, ok = reg.ByName("review-local")
	assert.True(t, ok, "second bundle gets a disambiguated name")
}

func TestPromoteBadPaths(t *testing.T) {
	p, _ := newPromoter(t)
	noManifest := t.TempDir()
	file := filepath.Join(t.TempDir(), "README.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := map[string]struct {
		path string
		code errors.ErrorCode
	}{
		"missing":        {path: filepath.Join(t.TempDir(), "nope"), code: errors.ErrNotFound},
		"no manifest":    {path: noManifest, code: errors.ErrInvalidInput},
		"unrelated file": {path: file, code: errors.ErrInvalidInput},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r, err := p.Promote(context.Background(), []string{tc.path})
			require.NoError(t, err, "bad paths are per-item errors")
			require.Len(t, r.Errors, 1)
			assert.True(t, errors.IsErrorCode(r.Errors[0].Err, tc.code), "got %v", r.Errors[0].Err)
		})
	}
}

func TestDiscoverLocal(t *testing.T) {
	p, reg := newPromoter(t)
	target := filepath.Join(t.TempDir(), "claude", "skills")
	workspace := t.TempDir()

	writeBundle(t, filepath.Join(target, "handmade"), "written in place")
	writeBundle(t, filepath.Join(target, "promoted"), "already pooled")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "empty"), 0o755))
	writeBundle(t, filepath.Join(workspace, ".agent", "skills", "project-tool"), "project")

	linked := filepath.Join(t.TempDir(), "elsewhere")
	writeBundle(t, linked, "linked")
	require.NoError(t, os.Symlink(linked, filepath.Join(target, "linked")))

	_, err := p.Promote(context.Background(), []string{filepath.Join(target, "promoted")})
	require.NoError(t, err)

	claude := agents.Agent{ID: "claude", Ecosystem: "claude", TargetDir: target}
	got, err := DiscoverLocal(context.Background(), reg, []agents.Agent{claude, claude}, workspace)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "handmade", got[0].Name)
	assert.Equal(t, "claude", got[0].Origin)
	assert.False(t, got[0].Promoted())
	assert.Equal(t, "project-tool", got[1].Name)
	assert.Equal(t, OriginWorkspace, got[1].Origin)
	assert.Equal(t, "promoted", got[2].Name)
	assert.True(t, got[2].Promoted())
	assert.Equal(t, "promoted", got[2].PoolName)
}
