package agents

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/errors"
)

const (
	OriginBuiltin = "builtin"
	OriginTargets = "targets.conf"
	OriginConfig  = "config"
)

// TargetsFile is the target mapping path relative to the pool root.
var TargetsFile = filepath.Join("config", "targets.conf")

// ParseTargets reads "agent | ecosystem | target_dir" lines. Blank lines
// and lines starting with # are ignored, as are lines with fewer than three
// fields. An empty or "-" ecosystem defaults to the agent id. Relative
// target dirs are resolved against poolRoot and ~ is expanded. The first
// line for an agent wins.
func ParseTargets(r io.Reader, poolRoot string) ([]Agent, error) {
	var out []Agent
	seen := map[string]bool{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 3 {
			continue
		}
		id := strings.ToLower(strings.TrimSpace(parts[0]))
		eco := strings.ToLower(strings.TrimSpace(parts[1]))
		dir := strings.TrimSpace(parts[2])
		if id == "" || dir == "" || seen[id] {
			continue
		}
		if eco == "" || eco == "-" {
			eco = id
		}
		seen[id] = true
		out = append(out, Agent{
			ID:        id,
			Ecosystem: eco,
			TargetDir: resolveDir(dir, poolRoot),
			Origin:    OriginTargets,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, "reading targets")
	}
	return out, nil
}

// LoadTargets parses the targets file at path. A missing file yields no
// agents.
func LoadTargets(path, poolRoot string) ([]Agent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.ErrConfig, "opening %s", path)
	}
	defer f.Close()
	return ParseTargets(f, poolRoot)
}

// FormatTargets renders agents in targets.conf syntax.
func FormatTargets(agents []Agent) []byte {
	var b bytes.Buffer
	b.WriteString("# agent | ecosystem | target_dir\n")
	b.WriteString("# relative dirs resolve against the pool root\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "%s | %s | %s\n", a.ID, a.Ecosystem, a.TargetDir)
	}
	return b.Bytes()
}

func resolveDir(dir, poolRoot string) string {
	dir = config.ExpandHome(dir)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(poolRoot, dir)
	}
	return filepath.Clean(dir)
}

// ResolveOptions are the inputs to Resolve.
type ResolveOptions struct {
	Home     string
	PoolRoot string
	// Targets is the parsed targets.conf, if any.
	Targets []Agent
	// Overrides are the [agents.<id>] tables of the app config.
	Overrides map[string]config.AgentConfig
}

// Resolve builds the effective agent set sorted by id. targets.conf entries
// are overlaid by config tables. Only when neither names any agent do the
// installed built-ins apply.
func Resolve(opts ResolveOptions) []Agent {
	byID := map[string]Agent{}

	for _, a := range opts.Targets {
		byID[a.ID] = a
	}

	for id, ov := range opts.Overrides {
		if ov.Disabled {
			continue
		}
		id = strings.ToLower(id)
		a, ok := byID[id]
		if !ok {
			a = Agent{ID: id, Ecosystem: id}
			if def, known := Lookup(id); known {
				a = def.Agent(opts.Home)
			}
		}
		if ov.Ecosystem != "" {
			a.Ecosystem = strings.ToLower(ov.Ecosystem)
		}
		if ov.TargetDir != "" {
			a.TargetDir = resolveDir(ov.TargetDir, opts.PoolRoot)
		}
		a.Origin = OriginConfig
		byID[id] = a
	}

	if len(byID) == 0 {
		for _, id := range Registered() {
			def := defaultRegistry[id]
			if def.Installed(opts.Home) {
				byID[id] = def.Agent(opts.Home)
			}
		}
	}

	// disabling applies whichever layer defined the agent
	for id, ov := range opts.Overrides {
		if ov.Disabled {
			delete(byID, strings.ToLower(id))
		}
	}

	out := make([]Agent, 0, len(byID))
	for _, a := range byID {
		if a.TargetDir == "" {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select filters agents to the given ids. An empty ids list selects all.
// Unknown ids are an ErrNotFound error.
func Select(all []Agent, ids []string) ([]Agent, error) {
	if len(ids) == 0 {
		return all, nil
	}
	byID := map[string]Agent{}
	for _, a := range all {
		byID[a.ID] = a
	}
	var out []Agent
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		a, ok := byID[id]
		if !ok {
			return nil, errors.Newf(errors.ErrNotFound, "unknown agent %q", id)
		}
		seen[id] = true
		out = append(out, a)
	}
	return out, nil
}
