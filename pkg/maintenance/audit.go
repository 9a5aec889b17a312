// Package maintenance checks a pool for drift between the registry, the
// skills directory and the agent target directories, and repairs what
// can be repaired without touching user data.
package maintenance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/swang430/skills-pool/pkg/agents"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/logging"
	"github.com/swang430/skills-pool/pkg/pool"
	"github.com/swang430/skills-pool/pkg/skill"
	"github.com/swang430/skills-pool/pkg/store"
	"github.com/swang430/skills-pool/pkg/syncer"
)

type IssueKind string

const (
	IssueMissingManifest IssueKind = "missing_skill_md"
	IssueInvalidManifest IssueKind = "invalid_skill_md"
	IssueDuplicateName   IssueKind = "duplicate_name"
	IssueMissingOnDisk   IssueKind = "missing_on_disk"
	IssueUntracked       IssueKind = "untracked"
	IssueDrift           IssueKind = "fingerprint_drift"
	IssueBrokenLink      IssueKind = "broken_link"
)

// LatestReport is the file under the state dir holding the last audit.
const LatestReport = "maintenance-latest.json"

const reportStamp = "20060102-150405"

type Issue struct {
	Kind    IssueKind `json:"type"`
	Name    string    `json:"name,omitempty"`
	Agent   string    `json:"agent,omitempty"`
	Path    string    `json:"path,omitempty"`
	Paths   []string  `json:"paths,omitempty"`
	Message string    `json:"message"`
}

type Report struct {
	ScannedAt time.Time         `json:"scanned_at"`
	Summary   map[IssueKind]int `json:"summary"`
	Total     int               `json:"total_issues"`
	Issues    []Issue           `json:"issues"`
}

func (r *Report) add(is Issue) {
	r.Issues = append(r.Issues, is)
	r.Summary[is.Kind]++
	r.Total++
}

// Audit inspects the pool without changing it. Fingerprints of registry
// entries are recomputed, so the cost grows with pool size.
func Audit(st store.Store, reg *pool.Registry, targets []agents.Agent, now time.Time) (*Report, error) {
	logger := logging.GetLogger("maintenance")
	defer logging.LogOperationStart(logger, "audit")()

	r := &Report{ScannedAt: now, Summary: map[IssueKind]int{}, Issues: []Issue{}}
	skillsRoot := st.Path(store.SkillsDir)

	dirents, err := os.ReadDir(skillsRoot)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, errors.ErrIO, "reading %s", skillsRoot)
	}

	onDisk := map[string]bool{}
	byManifestName := map[string][]string{}
	for _, d := range dirents {
		// hidden entries are import staging dirs
		if strings.HasPrefix(d.Name(), ".") {
			continue
		}
		dir := filepath.Join(skillsRoot, d.Name())
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		onDisk[d.Name()] = true

		if _, ok := reg.ByName(d.Name()); !ok {
			r.add(Issue{Kind: IssueUntracked, Name: d.Name(), Path: dir, Message: "directory is not in the pool registry"})
		}

		if !skill.HasManifest(dir) {
			r.add(Issue{Kind: IssueMissingManifest, Name: d.Name(), Path: dir, Message: "bundle has no " + skill.FileName})
			continue
		}
		name := d.Name()
		m, err := skill.Load(dir)
		if err == nil {
			err = m.Validate()
			if m.Name != "" {
				name = m.Name
			}
		}
		if err != nil {
			r.add(Issue{Kind: IssueInvalidManifest, Name: d.Name(), Path: dir, Message: strings.ReplaceAll(err.Error(), "\n", "; ")})
		}
		key := strings.ToLower(strings.TrimSpace(name))
		byManifestName[key] = append(byManifestName[key], dir)
	}

	keys := make([]string, 0, len(byManifestName))
	for k := range byManifestName {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if paths := byManifestName[k]; len(paths) > 1 {
			r.add(Issue{Kind: IssueDuplicateName, Name: k, Paths: paths, Message: "several bundles declare the same name"})
		}
	}

	for _, e := range reg.Entries() {
		dir := st.SkillPath(e.Name)
		if !onDisk[e.Name] {
			r.add(Issue{Kind: IssueMissingOnDisk, Name: e.Name, Path: dir, Message: "registry entry has no directory"})
			continue
		}
		fp, err := st.HashDir(store.SkillsDir, e.Name)
		if err != nil {
			r.add(Issue{Kind: IssueDrift, Name: e.Name, Path: dir, Message: err.Error()})
			continue
		}
		if fp != e.Fingerprint {
			r.add(Issue{Kind: IssueDrift, Name: e.Name, Path: dir, Message: "content changed since import: " + e.Fingerprint.Short() + " -> " + fp.Short()})
		}
	}

	for _, a := range targets {
		links, err := syncer.ManagedLinks(skillsRoot, a.TargetDir)
		if err != nil {
			r.add(Issue{Kind: IssueBrokenLink, Agent: a.ID, Path: a.TargetDir, Message: err.Error()})
			continue
		}
		for _, l := range links {
			if l.Broken {
				r.add(Issue{Kind: IssueBrokenLink, Agent: a.ID, Name: l.Name, Path: l.Path, Message: "managed link points at a missing bundle"})
			}
		}
	}

	logger.Debug().Int("issues", r.Total).Msg("Audit finished")
	return r, nil
}

// WriteReport stores r as state/maintenance-latest.json and a timestamped
// copy next to it. It returns the latest path.
func WriteReport(st store.Store, r *Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrIO, "encoding maintenance report")
	}
	data = append(data, '\n')

	stamped := "maintenance-" + r.ScannedAt.Format(reportStamp) + ".json"
	if err := st.WriteFileAtomic(data, store.StateDir, stamped); err != nil {
		return "", err
	}
	if err := st.WriteFileAtomic(data, store.StateDir, LatestReport); err != nil {
		return "", err
	}
	return st.Path(store.StateDir, LatestReport), nil
}
