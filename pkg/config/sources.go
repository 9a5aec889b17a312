package config

import (
	"fmt"
	"strings"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/skill"
)

// Source is a tracked external origin of bundles.
type Source struct {
	ID        string `toml:"id" mapstructure:"id"`
	Ecosystem string `toml:"ecosystem" mapstructure:"ecosystem"`
	// Location is a local directory or a git URL.
	Location string `toml:"location" mapstructure:"location"`
	// Ref is the git branch, tag or commit. Defaults to the remote HEAD.
	Ref string `toml:"ref,omitempty" mapstructure:"ref"`
	// Path is the sub-directory of the fetched tree holding bundle dirs.
	Path     string `toml:"path,omitempty" mapstructure:"path"`
	Agent    string `toml:"agent,omitempty" mapstructure:"agent"`
	Disabled bool   `toml:"disabled,omitempty" mapstructure:"disabled"`
	Note     string `toml:"note,omitempty" mapstructure:"note"`
}

// Enabled reports whether the source takes part in bulk operations.
func (s Source) Enabled() bool {
	return !s.Disabled
}

// FindSource returns the source with id.
func (c *Config) FindSource(id string) (Source, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// AddSource registers s. When s.ID is empty one is derived from the
// location; a clash with an existing id gets a -2, -3, ... suffix. The
// stored source is returned.
func (c *Config) AddSource(s Source) (Source, error) {
	s.Location = strings.TrimSpace(s.Location)
	if s.Location == "" {
		return Source{}, errors.New(errors.ErrInvalidInput, "source location is required")
	}
	s.Ecosystem = strings.ToLower(strings.TrimSpace(s.Ecosystem))
	if s.Ecosystem == "" {
		return Source{}, errors.New(errors.ErrInvalidInput, "source ecosystem is required")
	}

	base := s.ID
	if base == "" {
		base = idFromLocation(s.Location)
	}
	base = skill.Slugify(base, "source")

	s.ID = base
	for n := 2; ; n++ {
		if _, taken := c.FindSource(s.ID); !taken {
			break
		}
		s.ID = fmt.Sprintf("%s-%d", base, n)
	}

	c.Sources = append(c.Sources, s)
	return s, nil
}

// UpdateSource applies fn to the source with id. The id itself cannot be
// changed.
func (c *Config) UpdateSource(id string, fn func(*Source)) (Source, error) {
	for i := range c.Sources {
		if c.Sources[i].ID != id {
			continue
		}
		updated := c.Sources[i]
		fn(&updated)
		updated.ID = id
		updated.Ecosystem = strings.ToLower(strings.TrimSpace(updated.Ecosystem))
		if strings.TrimSpace(updated.Location) == "" || updated.Ecosystem == "" {
			return Source{}, errors.Newf(errors.ErrInvalidInput, "source %q needs a location and an ecosystem", id)
		}
		c.Sources[i] = updated
		return updated, nil
	}
	return Source{}, errors.Newf(errors.ErrNotFound, "unknown source %q", id)
}

// RemoveSource deletes the source with id.
func (c *Config) RemoveSource(id string) error {
	for i, s := range c.Sources {
		if s.ID == id {
			c.Sources = append(c.Sources[:i], c.Sources[i+1:]...)
			return nil
		}
	}
	return errors.Newf(errors.ErrNotFound, "unknown source %q", id)
}

// idFromLocation picks the most descriptive part of a location: the
// repository name for git URLs, the last path element otherwise.
func idFromLocation(loc string) string {
	loc = strings.TrimRight(loc, "/")
	loc = strings.TrimSuffix(loc, ".git")
	if i := strings.LastIndexAny(loc, "/:"); i >= 0 {
		loc = loc[i+1:]
	}
	return loc
}
