package antigravity

import "github.com/swang430/skills-pool/pkg/agents"

// Definition is the built-in antigravity target. Antigravity keeps its
// global skills under the Gemini home but reads workspace skills from
// .agent/skills.
var Definition = agents.Definition{
	ID:                 "antigravity",
	Ecosystem:          "antigravity",
	HomeDir:            ".gemini/antigravity",
	SkillsDir:          ".gemini/antigravity/skills",
	WorkspaceSkillsDir: ".agent/skills",
}

func init() {
	if err := agents.Register(Definition); err != nil {
		panic(err)
	}
}
