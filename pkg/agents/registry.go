// Package agents defines distribution targets. Built-in agents register a
// Definition from init() in their own sub-package; the effective target set
// for a run is resolved from targets.conf, the app config and those
// built-ins.
package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Agent is one resolved distribution target. It is static for a run.
type Agent struct {
	ID        string `json:"id"`
	Ecosystem string `json:"ecosystem"`
	TargetDir string `json:"target_dir"`
	// Origin says where the mapping came from: "builtin", "targets.conf"
	// or "config".
	Origin string `json:"origin"`
}

// Definition describes a built-in agent.
type Definition struct {
	ID        string
	Ecosystem string
	// HomeDir is the agent's config directory relative to $HOME. Its
	// presence means the agent is installed.
	HomeDir string
	// SkillsDir is the skills directory relative to $HOME.
	SkillsDir string
	// WorkspaceSkillsDir is the skills directory relative to a project.
	WorkspaceSkillsDir string
}

// registry tracks built-in Definitions by agent id
type registry map[string]Definition

var defaultRegistry = make(registry)

// Register adds a built-in agent.
// Note: this is NOT thread safe, and should only be called in init()
func Register(def Definition) error {
	if _, ok := defaultRegistry[def.ID]; ok {
		return fmt.Errorf("failed to register agent %q: other definition already registered", def.ID)
	}
	defaultRegistry[def.ID] = def
	return nil
}

// Registered returns a sorted list of all built-in agent ids.
func Registered() []string {
	ids := make([]string, 0, len(defaultRegistry))
	for id := range defaultRegistry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func Lookup(id string) (Definition, bool) {
	def, ok := defaultRegistry[id]
	return def, ok
}

// Installed reports whether the agent's home directory exists under home.
func (d Definition) Installed(home string) bool {
	info, err := os.Stat(filepath.Join(home, d.HomeDir))
	return err == nil && info.IsDir()
}

// Agent resolves the definition against a home directory.
func (d Definition) Agent(home string) Agent {
	return Agent{
		ID:        d.ID,
		Ecosystem: d.Ecosystem,
		TargetDir: filepath.Join(home, d.SkillsDir),
		Origin:    OriginBuiltin,
	}
}

// OriginWorkspace marks agents resolved against a project directory.
const OriginWorkspace = "workspace"

// WorkspaceAgents resolves every built-in agent with a project-level skills
// directory against workspace, sorted by id.
func WorkspaceAgents(workspace string) []Agent {
	var out []Agent
	for _, id := range Registered() {
		def := defaultRegistry[id]
		if def.WorkspaceSkillsDir == "" {
			continue
		}
		out = append(out, Agent{
			ID:        def.ID,
			Ecosystem: def.Ecosystem,
			TargetDir: filepath.Join(workspace, def.WorkspaceSkillsDir),
			Origin:    OriginWorkspace,
		})
	}
	return out
}

// WorkspaceDirs returns the project-level skills directories of every
// built-in agent under workspace, without duplicates.
func WorkspaceDirs(workspace string) []string {
	seen := map[string]bool{}
	var dirs []string
	for _, a := range WorkspaceAgents(workspace) {
		if !seen[a.TargetDir] {
			seen[a.TargetDir] = true
			dirs = append(dirs, a.TargetDir)
		}
	}
	sort.Strings(dirs)
	return dirs
}
