// Package promote moves locally authored bundles, the ones written by
// hand inside an agent or project skills directory, into the pool.
package promote

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/swang430/skills-pool/pkg/agents"
	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/fingerprint"
	"github.com/swang430/skills-pool/pkg/importer"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/pool"
	"github.com/swang430/skills-pool/pkg/skill"
	"github.com/swang430/skills-pool/pkg/store"
)

// LogFile is the append-only promotion log under the pool state dir.
const LogFile = "promotions.jsonl"

// SourceID labels promoted bundles in reports and name disambiguation.
const SourceID = "local"

// OriginWorkspace marks candidates found in a project directory.
const OriginWorkspace = agents.OriginWorkspace

// Candidate is a bundle directory that is not a pool link.
type Candidate struct {
	Name        string                  `json:"name"`
	Dir         string                  `json:"dir"`
	Origin      string                  `json:"origin"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	// PoolName is the entry holding identical content, if any.
	PoolName string `json:"pool_name,omitempty"`
}

// Promoted reports whether identical content is already in the pool.
func (c Candidate) Promoted() bool {
	return c.PoolName != ""
}

// DiscoverLocal lists real bundle directories, those holding SKILL.md,
// inside the agents' target dirs and the workspace's agent skills dirs.
// Symlinks are skipped: a link is either managed by the pool or points at
// content owned elsewhere.
func DiscoverLocal(ctx context.Context, reg *pool.Registry, targets []agents.Agent, workspace string) ([]Candidate, error) {
	type root struct{ dir, origin string }
	var roots []root
	for _, a := range targets {
		roots = append(roots, root{a.TargetDir, a.ID})
	}
	if workspace != "" {
		for _, d := range agents.WorkspaceDirs(workspace) {
			roots = append(roots, root{d, OriginWorkspace})
		}
	}

	seen := map[string]bool{}
	var out []Candidate
	for _, r := range roots {
		dirents, err := os.ReadDir(r.dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, errors.ErrIO, "reading %s", r.dir)
		}
		for _, d := range dirents {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				continue
			}
			dir := filepath.Join(r.dir, d.Name())
			key := dir
			if real, err := filepath.EvalSymlinks(dir); err == nil {
				key = real
			}
			if seen[key] || !skill.HasManifest(dir) {
				continue
			}
			seen[key] = true

			fp, err := fingerprint.Dir(dir)
			if err != nil {
				logger := logging.GetLogger("promote")
				logger.Warn().Err(err).Str("dir", dir).Msg("Skipping unreadable bundle")
				continue
			}
			c := Candidate{Name: d.Name(), Dir: dir, Origin: r.origin, Fingerprint: fp}
			if e, ok := reg.ByFingerprint(fp); ok {
				c.PoolName = e.Name
			}
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Dir < out[j].Dir
	})
	return out, nil
}

// LogRecord is one line of the promotion log.
type LogRecord struct {
	Action      string                  `json:"action"`
	Source      string                  `json:"source"`
	Destination string                  `json:"destination"`
	Name        string                  `json:"name"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Outcome     importer.Outcome        `json:"outcome"`
	Time        time.Time               `json:"time"`
}

type Promoter struct {
	Importer *importer.Importer
	Store    store.Store
	Now      func() time.Time

	logger zerolog.Logger
}

func New(imp *importer.Importer, st store.Store) *Promoter {
	return &Promoter{
		Importer: imp,
		Store:    st,
		Now:      time.Now,
		logger:   logging.GetLogger("promote"),
	}
}

// Promote imports each path, a bundle directory or its SKILL.md, as a
// locally authored entry. The ecosystem follow gate does not apply.
// Imports and duplicates are appended to the promotion log.
func (p *Promoter) Promote(ctx context.Context, paths []string) (*importer.Report, error) {
	report := importer.NewReport(SourceID)

	for _, in := range paths {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		dir, err := bundleDir(in)
		if err != nil {
			bad := importer.NewReport(SourceID)
			bad.Errors = append(bad.Errors, importer.Item{Name: filepath.Base(in), Outcome: importer.OutcomeError, Error: err.Error(), Err: err})
			report.Merge(bad)
			continue
		}

		parent, name := filepath.Dir(dir), filepath.Base(dir)
		r, err := p.Importer.Import(ctx, importer.Request{
			Source:    config.Source{ID: SourceID, Location: parent},
			Tree:      parent,
			RelPrefix: filepath.ToSlash(parent),
			Names:     []string{name},
			Mode:      importer.ModeSelected,
			Local:     true,
		})
		report.Merge(r)
		if err != nil {
			return report, err
		}

		for _, it := range r.Items() {
			if it.Outcome != importer.OutcomeImported && it.Outcome != importer.OutcomeSkippedDuplicate {
				continue
			}
			rec := LogRecord{
				Action:      "promote",
				Source:      dir,
				Destination: p.Store.SkillPath(it.StoredName),
				Name:        it.StoredName,
				Fingerprint: it.Fingerprint,
				Outcome:     it.Outcome,
				Time:        p.Now().UTC(),
			}
			if err := p.appendLog(rec); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// bundleDir resolves a user path to an absolute bundle directory.
func bundleDir(in string) (string, error) {
	abs, err := filepath.Abs(config.ExpandHome(in))
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrInvalidInput, "resolving %q", in)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errors.Newf(errors.ErrNotFound, "%s does not exist", abs)
	}
	if !info.IsDir() {
		if filepath.Base(abs) != skill.FileName {
			return "", errors.Newf(errors.ErrInvalidInput, "%s is neither a bundle directory nor a %s", abs, skill.FileName)
		}
		abs = filepath.Dir(abs)
	}
	if !skill.HasManifest(abs) {
		return "", errors.Newf(errors.ErrInvalidInput, "%s has no %s", abs, skill.FileName)
	}
	return abs, nil
}

func (p *Promoter) appendLog(rec LogRecord) error {
	path := p.Store.Path(store.StateDir, LogFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrIO, "creating %s", filepath.Dir(path))
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.ErrIO, "encoding promotion record")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, errors.ErrIO, "opening %s", path)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrapf(err, errors.ErrIO, "writing %s", path)
	}
	p.logger.Debug().Str("name", rec.Name).Str("outcome", string(rec.Outcome)).Msg("Recorded promotion")
	return nil
}

// ReadLog returns every record of the promotion log, oldest first.
func ReadLog(st store.Store) ([]LogRecord, error) {
	data, err := st.ReadFile(store.StateDir, LogFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrIO, "reading promotion log")
	}
	var out []LogRecord
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec LogRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			logger := logging.GetLogger("promote")
			logger.Warn().Err(err).Msg("Skipping malformed promotion record")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
