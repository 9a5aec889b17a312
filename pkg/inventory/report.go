package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/store"
)

const (
	LatestJSON     = "inventory-latest.json"
	LatestMarkdown = "inventory-latest.md"
)

const reportStamp = "20060102-150405"

type Report struct {
	ScannedAt     time.Time      `json:"scanned_at"`
	Workspace     string         `json:"workspace"`
	Total         int            `json:"total"`
	InPool        int            `json:"in_pool"`
	CountsByAgent map[string]int `json:"counts_by_agent"`
	// CountsByScope is keyed "agent:scope".
	CountsByScope map[string]int `json:"counts_by_scope"`
	Records       []Record       `json:"records"`
}

func newReport(now time.Time, workspace string, records []Record) *Report {
	r := &Report{
		ScannedAt:     now,
		Workspace:     workspace,
		Total:         len(records),
		CountsByAgent: map[string]int{},
		CountsByScope: map[string]int{},
		Records:       records,
	}
	if r.Records == nil {
		r.Records = []Record{}
	}
	for _, rec := range records {
		r.CountsByAgent[rec.Agent]++
		r.CountsByScope[rec.Agent+":"+rec.Scope]++
		if rec.InPool() {
			r.InPool++
		}
	}
	return r
}

// Paths are the files WriteReport produced.
type Paths struct {
	JSON     string `json:"json"`
	Latest   string `json:"latest"`
	Markdown string `json:"markdown"`
}

// WriteReport stores r under the state dir as a timestamped JSON file,
// inventory-latest.json and inventory-latest.md.
func WriteReport(st store.Store, r *Report) (Paths, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return Paths{}, errors.Wrap(err, errors.ErrIO, "encoding inventory")
	}
	data = append(data, '\n')

	stamped := "inventory-" + r.ScannedAt.Format(reportStamp) + ".json"
	for _, f := range []struct {
		name string
		data []byte
	}{
		{stamped, data},
		{LatestJSON, data},
		{LatestMarkdown, []byte(r.Markdown())},
	} {
		if err := st.WriteFileAtomic(f.data, store.StateDir, f.name); err != nil {
			return Paths{}, err
		}
	}
	return Paths{
		JSON:     st.Path(store.StateDir, stamped),
		Latest:   st.Path(store.StateDir, LatestJSON),
		Markdown: st.Path(store.StateDir, LatestMarkdown),
	}, nil
}

// LoadLatest reads the last written inventory. It returns nil and no error
// when no scan has run yet.
func LoadLatest(st store.Store) (*Report, error) {
	data, err := st.ReadFile(store.StateDir, LatestJSON)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrIO, "reading inventory")
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "decoding inventory")
	}
	return &r, nil
}

// Markdown renders r as a document with per-agent counts and a record
// table.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Skills Inventory\n\n")
	fmt.Fprintf(&b, "- Scanned at: %s\n", r.ScannedAt.Format(time.RFC3339))
	if r.Workspace != "" {
		fmt.Fprintf(&b, "- Workspace: `%s`\n", r.Workspace)
	}
	fmt.Fprintf(&b, "- Total: %d\n", r.Total)
	fmt.Fprintf(&b, "- In pool: %d\n\n", r.InPool)

	b.WriteString("## Counts By Agent\n\n")
	agentIDs := make([]string, 0, len(r.CountsByAgent))
	for id := range r.CountsByAgent {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)
	for _, id := range agentIDs {
		fmt.Fprintf(&b, "- %s: %d\n", id, r.CountsByAgent[id])
	}
	if len(agentIDs) == 0 {
		b.WriteString("- none\n")
	}

	b.WriteString("\n## Records\n\n")
	b.WriteString("| Agent | Scope | Name | Source | Enabled | Pool | Path |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for _, rec := range r.Records {
		pool := rec.PoolName
		if pool == "" {
			pool = "-"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | `%s` |\n",
			cell(rec.Agent), cell(rec.Scope), cell(rec.Name), rec.SourceType,
			enabledText(rec.Enabled), cell(pool), rec.Dir)
	}
	return b.String()
}

func enabledText(v *bool) string {
	switch {
	case v == nil:
		return "unknown"
	case *v:
		return "yes"
	default:
		return "no"
	}
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
