// Package snapshot records the last observed state of each tracked source
// and classifies what changed since then.
package snapshot

import (
	"sort"
	"time"

	"github.com/swang430/skills-pool/pkg/fingerprint"
)

// Snapshot is the name to fingerprint mapping of a source tree at a point
// in time. A snapshot is replaced wholesale, never edited in place.
type Snapshot struct {
	SourceID   string                             `json:"source_id"`
	Location   string                             `json:"location,omitempty"`
	Commit     string                             `json:"commit,omitempty"`
	CapturedAt time.Time                          `json:"captured_at"`
	Bundles    map[string]fingerprint.Fingerprint `json:"bundles"`
}

// Names returns the bundle names in sorted order.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Bundles))
	for name := range s.Bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Result classifies every bundle name seen in either snapshot. It is
// advisory: producing one never touches the pool or the snapshot store.
type Result struct {
	SourceID  string   `json:"source_id"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Changed   []string `json:"changed"`
	Unchanged []string `json:"unchanged"`

	// Current is what Accept persists once the caller is satisfied.
	Current  *Snapshot `json:"-"`
	Previous *Snapshot `json:"-"`
}

// HasChanges reports whether anything was added, removed or changed.
func (r *Result) HasChanges() bool {
	return len(r.Added)+len(r.Removed)+len(r.Changed) > 0
}

// Candidates are the names worth importing: added and changed bundles.
func (r *Result) Candidates() []string {
	out := make([]string, 0, len(r.Added)+len(r.Changed))
	out = append(out, r.Added...)
	out = append(out, r.Changed...)
	sort.Strings(out)
	return out
}

// Diff compares current against previous. A nil previous means the source
// has never been accepted and every current bundle is Added.
func Diff(current, previous *Snapshot) *Result {
	if current == nil {
		current = &Snapshot{}
	}
	r := &Result{
		SourceID:  current.SourceID,
		Added:     []string{},
		Removed:   []string{},
		Changed:   []string{},
		Unchanged: []string{},
		Current:   current,
		Previous:  previous,
	}

	var prev map[string]fingerprint.Fingerprint
	if previous != nil {
		prev = previous.Bundles
	}

	for _, name := range current.Names() {
		old, ok := prev[name]
		switch {
		case !ok:
			r.Added = append(r.Added, name)
		case old != current.Bundles[name]:
			r.Changed = append(r.Changed, name)
		default:
			r.Unchanged = append(r.Unchanged, name)
		}
	}

	for _, name := range previous.Names() {
		if _, ok := current.Bundles[name]; !ok {
			r.Removed = append(r.Removed, name)
		}
	}

	return r
}
