// Package all registers every built-in agent.
package all

import (
	_ "github.com/swang430/skills-pool/pkg/agents/antigravity"
	_ "github.com/swang430/skills-pool/pkg/agents/claude"
	_ "github.com/swang430/skills-pool/pkg/agents/codex"
	_ "github.com/swang430/skills-pool/pkg/agents/gemini"
)
