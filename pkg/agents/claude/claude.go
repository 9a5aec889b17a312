package claude

import "github.com/swang430/skills-pool/pkg/agents"

// Definition is the built-in claude target.
var Definition = agents.Definition{
	ID:                 "claude",
	Ecosystem:          "claude",
	HomeDir:            ".claude",
	SkillsDir:          ".claude/skills",
	WorkspaceSkillsDir: ".claude/skills",
}

func init() {
	if err := agents.Register(Definition); err != nil {
		panic(err)
	}
}
