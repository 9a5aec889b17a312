package importer

import (
	"sort"
	"sync"

	"github.com/swang430/skills-pool/pkg/fingerprint"
)

type Outcome string

const (
	OutcomeImported         Outcome = "imported"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeSkippedPolicy    Outcome = "skipped_policy"
	OutcomeError            Outcome = "error"
)

// Item is the result for one candidate bundle.
type Item struct {
	// Name is the bundle's directory name in the source tree.
	Name string `json:"name"`
	// StoredName is the pool entry name: the new entry for imports, the
	// existing one for duplicates.
	StoredName  string                  `json:"stored_name,omitempty"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	Outcome     Outcome                 `json:"outcome"`
	// Renamed is set when a name collision forced a different stored name.
	Renamed bool   `json:"renamed,omitempty"`
	Error   string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Report lists every candidate under exactly one outcome.
type Report struct {
	SourceID         string `json:"source_id"`
	Imported         []Item `json:"imported"`
	SkippedDuplicate []Item `json:"skipped_duplicate"`
	SkippedPolicy    []Item `json:"skipped_policy"`
	Errors           []Item `json:"errors"`

	mu sync.Mutex
}

// NewReport returns an empty report for sourceID.
func NewReport(sourceID string) *Report {
	return &Report{
		SourceID:         sourceID,
		Imported:         []Item{},
		SkippedDuplicate: []Item{},
		SkippedPolicy:    []Item{},
		Errors:           []Item{},
	}
}

func (r *Report) add(it Item) {
	if it.Err != nil {
		it.Error = it.Err.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch it.Outcome {
	case OutcomeImported:
		r.Imported = append(r.Imported, it)
	case OutcomeSkippedDuplicate:
		r.SkippedDuplicate = append(r.SkippedDuplicate, it)
	case OutcomeSkippedPolicy:
		r.SkippedPolicy = append(r.SkippedPolicy, it)
	default:
		it.Outcome = OutcomeError
		r.Errors = append(r.Errors, it)
	}
}

func (r *Report) sort() {
	for _, items := range [][]Item{r.Imported, r.SkippedDuplicate, r.SkippedPolicy, r.Errors} {
		sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	}
}

// Merge adds every item of o to r.
func (r *Report) Merge(o *Report) {
	for _, it := range o.Items() {
		r.add(it)
	}
	r.sort()
}

// Total is the number of candidates considered.
func (r *Report) Total() int {
	return len(r.Imported) + len(r.SkippedDuplicate) + len(r.SkippedPolicy) + len(r.Errors)
}

// Items returns every item in name order.
func (r *Report) Items() []Item {
	out := make([]Item, 0, r.Total())
	out = append(out, r.Imported...)
	out = append(out, r.SkippedDuplicate...)
	out = append(out, r.SkippedPolicy...)
	out = append(out, r.Errors...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
