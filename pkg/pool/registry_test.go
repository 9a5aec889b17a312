package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/fingerprint"
)

func seq(names ...string) NameSequence {
	return func(i int) string {
		if i < len(names) {
			return names[i]
		}
		return ""
	}
}

func openTemp(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "state", "pool.json"))
	require.NoError(t, err)
	return r
}

func add(t *testing.T, r *Registry, name string, fp fingerprint.Fingerprint) {
	t.Helper()
	got, err := r.Reserve(fp, seq(name), nil)
	require.NoError(t, err)
	require.Equal(t, name, got)
	require.NoError(t, r.Commit(Entry{Name: name, Fingerprint: fp, ImportedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}))
}

func TestReserveCommit(t *testing.T) {
	r := openTemp(t)
	add(t, r, "pdf", "sha256:01")

	e, ok := r.ByName("pdf")
	require.True(t, ok)
	assert.Equal(t, fingerprint.Fingerprint("sha256:01"), e.Fingerprint)

	e, ok = r.ByFingerprint("sha256:01")
	require.True(t, ok)
	assert.Equal(t, "pdf", e.Name)
	assert.Equal(t, 1, r.Len())
}

func TestReserveDuplicateContent(t *testing.T) {
	r := openTemp(t)
	add(t, r, "pdf", "sha256:01")

	_, err := r.Reserve("sha256:01", seq("other-name"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrDuplicateContent))
	assert.Equal(t, 1, r.Len())
}

func TestReserveSkipsTakenNames(t *testing.T) {
	r := openTemp(t)
	add(t, r, "pdf", "sha256:01")

	name, err := r.Reserve("sha256:02", seq("pdf", "pdf-anthropic"), nil)
	require.NoError(t, err)
	assert.Equal(t, "pdf-anthropic", name)

	// an in-flight reservation also blocks the name
	name2, err := r.Reserve("sha256:03", seq("pdf", "pdf-anthropic", "pdf-03"), nil)
	require.NoError(t, err)
	assert.Equal(t, "pdf-03", name2)

	// and the external check can veto
	name3, err := r.Reserve("sha256:04", seq("a", "b"), func(n string) bool { return n == "a" })
	require.NoError(t, err)
	assert.Equal(t, "b", name3)

	_, err = r.Reserve("sha256:05", seq("pdf"), nil)
	assert.True(t, errors.IsErrorCode(err, errors.ErrNameCollision))
}

func TestReserveInFlightFingerprint(t *testing.T) {
	r := openTemp(t)
	_, err := r.Reserve("sha256:01", seq("a"), nil)
	require.NoError(t, err)

	_, err = r.Reserve("sha256:01", seq("b"), nil)
	assert.True(t, errors.IsErrorCode(err, errors.ErrDuplicateContent))

	r.Release("a")
	name, err := r.Reserve("sha256:01", seq("b"), nil)
	require.NoError(t, err)
	assert.Equal(t, "b", name)
}

func TestCommitRequiresReservation(t *testing.T) {
	r := openTemp(t)
	err := r.Commit(Entry{Name: "ghost", Fingerprint: "sha256:ff"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
}

func TestConcurrentReserveSameContent(t *testing.T) {
	r := openTemp(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, err := r.Reserve("sha256:same", seq(fmt.Sprintf("copy-%d", i)), nil)
			if err != nil {
				return
			}
			if r.Commit(Entry{Name: name, Fingerprint: "sha256:same"}) == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, 1, r.Len())
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.json")
	r, err := Open(path)
	require.NoError(t, err)
	add(t, r, "pdf", "sha256:01")
	add(t, r, "docx", "sha256:02")

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, r.Entries(), reopened.Entries())
	assert.Equal(t, "docx", reopened.Entries()[0].Name, "entries are sorted by name")
}

func TestOpenSkipsDuplicateFingerprints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "version": 1,
  "entries": [
    {"name": "a", "fingerprint": "sha256:01"},
    {"name": "b", "fingerprint": "sha256:01"},
    {"name": "", "fingerprint": "sha256:02"}
  ]
}`), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestOpenCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.json")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))
	_, err := Open(path)
	assert.True(t, errors.IsErrorCode(err, errors.ErrIO))
}

func TestTrashFreesFingerprint(t *testing.T) {
	r := openTemp(t)
	add(t, r, "pdf", "sha256:01")

	e, err := r.Trash("pdf", "/pool/trash/pdf-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "pdf", e.Name)
	assert.Equal(t, 0, r.Len())
	require.Len(t, r.TrashedEntries(), 1)

	// trashed content is not indexed, so it can come back
	name, err := r.Reserve("sha256:01", seq("pdf"), nil)
	require.NoError(t, err)
	assert.Equal(t, "pdf", name)

	_, err = r.Trash("missing", "", time.Now())
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotFound))
}
