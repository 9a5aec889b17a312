// Package importer merges bundles from a source tree into the pool. Content
// already in the pool is never imported twice, and an existing entry is
// never overwritten: a name clash with different content is stored under a
// disambiguated name instead.
package importer

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/ecosystem"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/fingerprint"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/pool"
	"github.com/swang430/skills-pool/pkg/skill"
	"github.com/swang430/skills-pool/pkg/snapshot"
	"github.com/swang430/skills-pool/pkg/store"
)

type Mode int

const (
	// ModeAll imports every bundle in the tree.
	ModeAll Mode = iota
	// ModeSelected imports only the named bundles.
	ModeSelected
)

// maxSuffix bounds the -N suffixes tried after the fingerprint suffix.
const maxSuffix = 100

// Request describes one import batch.
type Request struct {
	Source config.Source
	// Tree is the directory whose immediate subdirectories are bundles.
	Tree string
	// RelPrefix is recorded in front of the bundle name as the entry's
	// external_rel_dir.
	RelPrefix string
	Names     []string
	Mode      Mode
	// Local marks locally authored bundles: the ecosystem gate is skipped
	// and no external source is recorded.
	Local bool
}

type Importer struct {
	Store    store.Store
	Registry *pool.Registry
	Policy   ecosystem.Policy
	// Concurrency bounds parallel bundle imports. Zero means NumCPU.
	Concurrency int
	Now         func() time.Time

	locks  keyedMutex
	logger zerolog.Logger
}

func New(st store.Store, reg *pool.Registry, policy ecosystem.Policy) *Importer {
	return &Importer{
		Store:    st,
		Registry: reg,
		Policy:   policy,
		Now:      time.Now,
		logger:   logging.GetLogger("importer"),
	}
}

type candidate struct {
	name string
	dir  string
	err  error
}

// Import runs the batch. Per-bundle failures land in the report's Errors;
// the returned error is reserved for failures that stop the whole batch,
// such as an unwritable pool root or cancellation. A report is returned in
// every case.
func (imp *Importer) Import(ctx context.Context, req Request) (*Report, error) {
	report := NewReport(req.Source.ID)
	defer report.sort()
	defer logging.LogOperationStart(imp.logger, "import "+req.Source.ID)()

	candidates, err := imp.candidates(req)
	if err != nil {
		return report, err
	}

	if !req.Local && !imp.Policy.MayFollow(req.Source.Ecosystem) {
		for _, c := range candidates {
			report.add(Item{
				Name:    c.name,
				Outcome: OutcomeSkippedPolicy,
				Err:     errors.Newf(errors.ErrPolicyRejected, "ecosystem %q is not followed", req.Source.Ecosystem),
			})
		}
		return report, nil
	}

	if err := imp.Store.EnsureDir(store.SkillsDir); err != nil {
		return report, err
	}

	limit := imp.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	// The group context is never cancelled by a bundle failure: bundles
	// report errors instead of returning them.
	g := errgroup.Group{}
	g.SetLimit(limit)
	for _, c := range candidates {
		if c.err != nil {
			report.add(Item{Name: c.name, Outcome: OutcomeError, Err: c.err})
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			report.add(imp.importOne(req, c))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	imp.logger.Info().
		Str("source", req.Source.ID).
		Int("imported", len(report.Imported)).
		Int("duplicates", len(report.SkippedDuplicate)).
		Int("errors", len(report.Errors)).
		Msg("Import finished")
	return report, nil
}

func (imp *Importer) candidates(req Request) ([]candidate, error) {
	dirs, err := snapshot.BundleDirs(req.Tree)
	if err != nil {
		return nil, err
	}

	if req.Mode == ModeAll {
		out := make([]candidate, 0, len(dirs))
		for name, dir := range dirs {
			out = append(out, candidate{name: name, dir: dir})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
		return out, nil
	}

	seen := map[string]bool{}
	var out []candidate
	for _, name := range req.Names {
		if seen[name] {
			continue
		}
		seen[name] = true

		c := candidate{name: name}
		dir, ok := dirs[name]
		switch {
		case !skill.ValidName(name):
			c.err = errors.Newf(errors.ErrInvalidInput, "invalid bundle name %q", name)
		case !ok:
			c.err = errors.Newf(errors.ErrNotFound, "bundle %q not found in %s", name, req.Tree)
		default:
			c.dir = dir
		}
		out = append(out, c)
	}
	return out, nil
}

func (imp *Importer) importOne(req Request, c candidate) Item {
	item := Item{Name: c.name}

	// The tree may have changed since it was diffed.
	fp, err := fingerprint.Dir(c.dir)
	if err != nil {
		item.Outcome, item.Err = OutcomeError, err
		return item
	}
	item.Fingerprint = fp

	unlock := imp.locks.Lock(fp.String())
	defer unlock()

	name, err := imp.Registry.Reserve(fp, candidateNames(c.name, req.Source.ID, fp), imp.occupied)
	if err != nil {
		if errors.IsErrorCode(err, errors.ErrDuplicateContent) {
			item.Outcome = OutcomeSkippedDuplicate
			if e, ok := imp.Registry.ByFingerprint(fp); ok {
				item.StoredName = e.Name
			}
			imp.logger.Debug().Str("bundle", c.name).Str("existing", item.StoredName).Msg("Skipping duplicate content")
			return item
		}
		item.Outcome, item.Err = OutcomeError, err
		return item
	}
	item.StoredName = name
	item.Renamed = name != c.name

	if err := imp.place(c.dir, name, fp); err != nil {
		imp.Registry.Release(name)
		item.Outcome, item.Err = OutcomeError, err
		return item
	}

	entry := pool.Entry{
		Name:           name,
		Fingerprint:    fp,
		ExternalRelDir: path.Join(filepath.ToSlash(req.RelPrefix), c.name),
		Description:    skill.Describe(c.dir),
		ImportedAt:     imp.Now().UTC(),
	}
	if !req.Local {
		entry.ExternalSource = req.Source.ID
	}
	if err := imp.Registry.Commit(entry); err != nil {
		imp.Registry.Release(name)
		_ = os.RemoveAll(imp.Store.SkillPath(name))
		item.Outcome, item.Err = OutcomeError, err
		return item
	}

	if item.Renamed {
		imp.logger.Info().Str("bundle", c.name).Str("stored", name).Msg("Name taken by different content, stored under new name")
	}
	item.Outcome = OutcomeImported
	return item
}

// place copies src into a staging directory inside the skills root and
// renames it to its final name, so a half-copied bundle is never visible
// under a pool name. The copy is fingerprinted again before the rename.
func (imp *Importer) place(src, name string, want fingerprint.Fingerprint) error {
	skillsRoot := imp.Store.Path(store.SkillsDir)
	staging, err := os.MkdirTemp(skillsRoot, ".import-")
	if err != nil {
		return errors.Wrapf(err, errors.ErrIO, "creating staging dir in %s", skillsRoot)
	}
	defer os.RemoveAll(staging)

	tmp := filepath.Join(staging, "bundle")
	if err := store.CopyTree(src, tmp); err != nil {
		return errors.Wrapf(err, errors.ErrIO, "copying %s", src)
	}

	got, err := fingerprint.Dir(tmp)
	if err != nil {
		return err
	}
	if got != want {
		return errors.Newf(errors.ErrIO, "%s changed while being copied", src)
	}

	dest := imp.Store.SkillPath(name)
	if err := os.Rename(tmp, dest); err != nil {
		return errors.Wrapf(err, errors.ErrIO, "moving bundle into %s", dest)
	}
	return nil
}

// occupied reports names whose storage directory exists without a registry
// entry, such as leftovers from an interrupted run. They are never reused.
func (imp *Importer) occupied(name string) bool {
	exists, err := imp.Store.Exists(store.SkillsDir, name)
	return err != nil || exists
}

// candidateNames yields name, name-<source>, name-<fp8>, then
// name-<fp8>-2 and so on.
func candidateNames(name, sourceID string, fp fingerprint.Fingerprint) pool.NameSequence {
	short := fp.Short()
	return func(i int) string {
		switch {
		case i == 0:
			return name
		case i == 1:
			if sourceID == "" {
				return name
			}
			return fmt.Sprintf("%s-%s", name, skill.Slugify(sourceID, "source"))
		case i == 2:
			return fmt.Sprintf("%s-%s", name, short)
		case i < maxSuffix:
			return fmt.Sprintf("%s-%s-%d", name, short, i-1)
		default:
			return ""
		}
	}
}
