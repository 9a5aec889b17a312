package skill

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sigs.k8s.io/yaml"
)

// FileName is the manifest every bundle directory is expected to carry.
const FileName = "SKILL.md"

var (
	yamlFrontMatterDelim = []byte{'-', '-', '-'}
	validSkillNameRegex  = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)
	slugInvalid          = regexp.MustCompile(`[^a-z0-9]+`)
)

// Metadata is the YAML front matter of a SKILL.md file.
type Metadata struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	License       string            `json:"license,omitempty"`
	Compatibility string            `json:"compatibility,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	AllowedTools  string            `json:"allowed-tools,omitempty"` // space delimited string

	dir string
}

// Dir returns the bundle directory the metadata was read from.
func (m *Metadata) Dir() string {
	return m.dir
}

// HasManifest reports whether dir contains a SKILL.md regular file.
func HasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil && info.Mode().IsRegular()
}

// Load reads the front matter of dir/SKILL.md.
func Load(dir string) (*Metadata, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file in %q: %w", FileName, dir, err)
	}
	defer f.Close()

	raw, err := frontMatter(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s frontmatter in %q: %w", FileName, dir, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s in %q is missing YAML front matter ('---' delimiters)", FileName, dir)
	}

	m := &Metadata{dir: dir}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("parsing %s frontmatter in %q: %w", FileName, dir, err)
	}
	return m, nil
}

// Describe returns the front matter description of the bundle in dir, or
// an empty string when the manifest is absent or unreadable.
func Describe(dir string) string {
	m, err := Load(dir)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(m.Description)
}

func frontMatter(r io.Reader) ([]byte, error) {
	reader := bufio.NewReader(r)
	inFrontMatter := false
	buf := bytes.Buffer{}

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if bytes.HasPrefix(line, yamlFrontMatterDelim) {
				if inFrontMatter {
					return buf.Bytes(), nil
				}
				inFrontMatter = true
			} else if inFrontMatter {
				buf.Write(line)
			} else if len(bytes.TrimSpace(line)) > 0 {
				// body text before any delimiter: there is no front matter
				return nil, nil
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}

	// an unterminated block is not front matter
	return nil, nil
}

// Validate checks the metadata against the naming and length rules agents
// enforce when loading a skill.
func (m *Metadata) Validate() error {
	var err error
	if !validSkillNameRegex.MatchString(m.Name) {
		err = errors.Join(err, fmt.Errorf("skill name must be max 64 characters with only lowercase letters, numbers, and hyphens. must not start or end with a hyphen"))
	}

	if len(m.Description) > 1024 {
		err = errors.Join(err, fmt.Errorf("skill description must be max 1024 characters"))
	}
	if len(m.Description) == 0 {
		err = errors.Join(err, fmt.Errorf("skill description must be provided"))
	}

	if len(m.Compatibility) > 500 {
		err = errors.Join(err, fmt.Errorf("compatibility must be max 500 characters"))
	}

	return err
}

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single hyphen. An input with nothing usable yields
// fallback.
func Slugify(s, fallback string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-"), "-")
	if slug == "" {
		return fallback
	}
	return slug
}

// ValidName reports whether name is acceptable as a pool entry and link
// name: non-empty, a single path element, and not hidden.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
