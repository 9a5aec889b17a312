package ecosystem

// Kind distinguishes tools that run skills from apps that only store them.
type Kind string

const (
	KindAgent Kind = "agent"
	KindApp   Kind = "app"
)

// Entry describes a known ecosystem.
type Entry struct {
	ID          string
	Name        string
	Kind        Kind
	CanGenerate bool
	CanConsume  bool
	// SyncAgent is the agent id that distribution uses for this ecosystem.
	// Empty when there is no installable skills directory.
	SyncAgent string
	Note      string
}

// catalog lists the built-in ecosystems in display order.
var catalog = []Entry{
	{ID: "codex", Name: "Codex", Kind: KindAgent, CanGenerate: true, CanConsume: true, SyncAgent: "codex"},
	{ID: "gemini", Name: "Gemini CLI", Kind: KindAgent, CanGenerate: true, CanConsume: true, SyncAgent: "gemini"},
	{ID: "claude", Name: "Claude", Kind: KindAgent, CanGenerate: true, CanConsume: true, SyncAgent: "claude"},
	{ID: "antigravity", Name: "Antigravity", Kind: KindAgent, CanGenerate: true, CanConsume: true, SyncAgent: "antigravity"},
	{ID: "obsidian", Name: "Obsidian", Kind: KindApp, CanConsume: true, Note: "no install path; grant is recorded only"},
}

// Lookup finds a built-in ecosystem by id.
func Lookup(id string) (Entry, bool) {
	for _, e := range catalog {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Known reports whether id is a built-in ecosystem.
func Known(id string) bool {
	_, ok := Lookup(id)
	return ok
}
