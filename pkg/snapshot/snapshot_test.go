package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/fingerprint"
)

func snap(bundles map[string]fingerprint.Fingerprint) *Snapshot {
	return &Snapshot{SourceID: "src", Bundles: bundles}
}

func TestDiff(t *testing.T) {
	tests := map[string]struct {
		current       *Snapshot
		previous      *Snapshot
		wantAdded     []string
		wantRemoved   []string
		wantChanged   []string
		wantUnchanged []string
	}{
		"add remove and keep": {
			previous:      snap(map[string]fingerprint.Fingerprint{"a": "h1", "b": "h2"}),
			current:       snap(map[string]fingerprint.Fingerprint{"a": "h1", "c": "h3"}),
			wantAdded:     []string{"c"},
			wantRemoved:   []string{"b"},
			wantChanged:   []string{},
			wantUnchanged: []string{"a"},
		},
		"no previous snapshot": {
			previous:      nil,
			current:       snap(map[string]fingerprint.Fingerprint{"b": "h2", "a": "h1"}),
			wantAdded:     []string{"a", "b"},
			wantRemoved:   []string{},
			wantChanged:   []string{},
			wantUnchanged: []string{},
		},
		"content changed": {
			previous:      snap(map[string]fingerprint.Fingerprint{"a": "h1"}),
			current:       snap(map[string]fingerprint.Fingerprint{"a": "h9"}),
			wantAdded:     []string{},
			wantRemoved:   []string{},
			wantChanged:   []string{"a"},
			wantUnchanged: []string{},
		},
		"source emptied": {
			previous:      snap(map[string]fingerprint.Fingerprint{"a": "h1"}),
			current:       snap(map[string]fingerprint.Fingerprint{}),
			wantAdded:     []string{},
			wantRemoved:   []string{"a"},
			wantChanged:   []string{},
			wantUnchanged: []string{},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := Diff(tc.current, tc.previous)
			assert.Equal(t, tc.wantAdded, r.Added)
			assert.Equal(t, tc.wantRemoved, r.Removed)
			assert.Equal(t, tc.wantChanged, r.Changed)
			assert.Equal(t, tc.wantUnchanged, r.Unchanged)
			assert.Equal(t, "src", r.SourceID)
		})
	}
}

func TestResultCandidates(t *testing.T) {
	r := Diff(
		snap(map[string]fingerprint.Fingerprint{"a": "x", "b": "h2", "c": "h3"}),
		snap(map[string]fingerprint.Fingerprint{"a": "h1", "b": "h2"}),
	)
	assert.True(t, r.HasChanges())
	assert.Equal(t, []string{"a", "c"}, r.Candidates())

	same := Diff(snap(map[string]fingerprint.Fingerprint{"a": "h1"}), snap(map[string]fingerprint.Fingerprint{"a": "h1"}))
	assert.False(t, same.HasChanges())
}

func writeBundle(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644))
}

func TestScanTree(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "pdf", "pdf skill")
	writeBundle(t, root, "docx", "docx skill")
	writeBundle(t, root, ".git", "not a bundle")
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("top level file"), 0o644))

	elsewhere := t.TempDir()
	writeBundle(t, elsewhere, "linked", "linked skill")
	require.NoError(t, os.Symlink(filepath.Join(elsewhere, "linked"), filepath.Join(root, "linked")))

	got, err := ScanTree(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Contains(t, got, "pdf")
	assert.Contains(t, got, "docx")
	assert.Contains(t, got, "linked")

	want, err := fingerprint.Dir(filepath.Join(root, "pdf"))
	require.NoError(t, err)
	assert.Equal(t, want, got["pdf"])
}

func TestScanTreeFailureAborts(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "good", "ok")
	bad := filepath.Join(root, "bad")
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "nowhere"), filepath.Join(bad, "dangling")))

	got, err := ScanTree(context.Background(), root)
	require.Error(t, err)
	assert.Nil(t, got, "a failed scan must not return a partial mapping")
	assert.True(t, errors.IsErrorCode(err, errors.ErrIO))
}

func TestScanTreeMissingRoot(t *testing.T) {
	_, err := ScanTree(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrIO))
}

func TestStoreLoadSave(t *testing.T) {
	s := NewStore(t.TempDir())

	got, err := s.Load("anthropic")
	require.NoError(t, err)
	assert.Nil(t, got, "an unknown source has no snapshot")

	first := &Snapshot{
		SourceID:   "anthropic",
		Location:   "https://example.com/skills.git",
		CapturedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Bundles:    map[string]fingerprint.Fingerprint{"pdf": "sha256:aa"},
	}
	require.NoError(t, s.Save(first))

	got, err = s.Load("anthropic")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.Bundles, got.Bundles)
	assert.True(t, first.CapturedAt.Equal(got.CapturedAt))
	assert.Equal(t, first.Location, got.Location)

	second := &Snapshot{SourceID: "anthropic", Bundles: map[string]fingerprint.Fingerprint{"docx": "sha256:bb"}}
	require.NoError(t, s.Save(second))

	got, err = s.Load("anthropic")
	require.NoError(t, err)
	assert.Equal(t, second.Bundles, got.Bundles, "save replaces the whole snapshot")

	hist, err := s.History("anthropic")
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "no temp files left behind")
	}
}

func TestStoreSaveRejectsInvalidKeepsPrevious(t *testing.T) {
	s := NewStore(t.TempDir())
	orig := &Snapshot{SourceID: "x", Bundles: map[string]fingerprint.Fingerprint{"a": "h1"}}
	require.NoError(t, s.Save(orig))

	err := s.Save(&Snapshot{})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))

	got, err := s.Load("x")
	require.NoError(t, err)
	assert.Equal(t, orig.Bundles, got.Bundles)
}

func TestStoreCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))

	_, err := s.Load("broken")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrIO))
}

func TestStoreHistoryIsolationAndLimit(t *testing.T) {
	s := NewStore(t.TempDir())

	for i := 0; i < HistoryLimit+3; i++ {
		require.NoError(t, s.Save(&Snapshot{SourceID: "a", Bundles: map[string]fingerprint.Fingerprint{}}))
	}
	require.NoError(t, s.Save(&Snapshot{SourceID: "a-b", Bundles: map[string]fingerprint.Fingerprint{}}))
	require.NoError(t, s.Save(&Snapshot{SourceID: "a-b", Bundles: map[string]fingerprint.Fingerprint{}}))

	hist, err := s.History("a")
	require.NoError(t, err)
	assert.Len(t, hist, HistoryLimit)

	hist, err = s.History("a-b")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestStoreDelete(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Save(&Snapshot{SourceID: "gone", Bundles: map[string]fingerprint.Fingerprint{}}))
	require.NoError(t, s.Delete("gone"))
	require.NoError(t, s.Delete("gone"), "deleting twice is fine")

	got, err := s.Load("gone")
	require.NoError(t, err)
	assert.Nil(t, got)
}
