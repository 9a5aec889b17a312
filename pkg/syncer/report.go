package syncer

import (
	"sort"

	"github.com/swang430/skills-pool/pkg/agents"
)

type Action string

const (
	// ActionUnchanged: the managed link already points at the entry.
	ActionUnchanged Action = "unchanged"
	ActionCreated   Action = "created"
	// ActionReplaced: a managed link pointing elsewhere in the pool was
	// repointed.
	ActionReplaced Action = "replaced"
	// ActionBackedUp: an unmanaged occupant was renamed aside and the link
	// created.
	ActionBackedUp        Action = "backed_up"
	ActionSkippedConflict Action = "skipped_conflict"
	ActionPruned          Action = "pruned"
	ActionError           Action = "error"
)

// Item is the outcome for one link slot.
type Item struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Target string `json:"target,omitempty"`
	Action Action `json:"action"`
	Backup string `json:"backup,omitempty"`
	Error  string `json:"error,omitempty"`

	Err error `json:"-"`
}

// AgentReport summarizes one agent. Linked counts every entry whose slot
// ends up as the correct managed link, including no-ops.
type AgentReport struct {
	Agent           agents.Agent `json:"agent"`
	DryRun          bool         `json:"dry_run"`
	Linked          int          `json:"linked"`
	SkippedConflict int          `json:"skipped_conflict"`
	Pruned          int          `json:"pruned"`
	Errors          []Item       `json:"errors"`
	Items           []Item       `json:"items"`
}

func newAgentReport(a agents.Agent, dryRun bool) *AgentReport {
	return &AgentReport{Agent: a, DryRun: dryRun, Errors: []Item{}, Items: []Item{}}
}

func (r *AgentReport) add(it Item) {
	if it.Err != nil {
		it.Error = it.Err.Error()
		it.Action = ActionError
	}
	switch it.Action {
	case ActionUnchanged, ActionCreated, ActionReplaced, ActionBackedUp:
		r.Linked++
	case ActionSkippedConflict:
		r.SkippedConflict++
	case ActionPruned:
		r.Pruned++
	case ActionError:
		r.Errors = append(r.Errors, it)
	}
	r.Items = append(r.Items, it)
}

// Changed counts items that touched (or in a dry run would touch) the
// filesystem.
func (r *AgentReport) Changed() int {
	n := 0
	for _, it := range r.Items {
		switch it.Action {
		case ActionCreated, ActionReplaced, ActionBackedUp, ActionPruned:
			n++
		}
	}
	return n
}

// Report is the result of a sync across agents.
type Report struct {
	Agents map[string]*AgentReport `json:"agents"`
	// NotGranted lists agents dropped by the grant gate.
	NotGranted []string `json:"not_granted"`
}

// AgentIDs returns the synced agent ids in order.
func (r *Report) AgentIDs() []string {
	ids := make([]string, 0, len(r.Agents))
	for id := range r.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
