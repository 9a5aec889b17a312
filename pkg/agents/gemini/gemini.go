package gemini

import "github.com/swang430/skills-pool/pkg/agents"

// Definition is the built-in gemini target.
var Definition = agents.Definition{
	ID:                 "gemini",
	Ecosystem:          "gemini",
	HomeDir:            ".gemini",
	SkillsDir:          ".gemini/skills",
	WorkspaceSkillsDir: ".gemini/skills",
}

func init() {
	if err := agents.Register(Definition); err != nil {
		panic(err)
	}
}
