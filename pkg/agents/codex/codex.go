package codex

import "github.com/swang430/skills-pool/pkg/agents"

// Definition is the built-in codex target.
var Definition = agents.Definition{
	ID:                 "codex",
	Ecosystem:          "codex",
	HomeDir:            ".codex",
	SkillsDir:          ".codex/skills",
	WorkspaceSkillsDir: ".codex/skills",
}

func init() {
	if err := agents.Register(Definition); err != nil {
		panic(err)
	}
}
