// Package ecosystem holds the follow/grant policy that gates which sources
// may feed the pool and which agents may receive it.
package ecosystem

import (
	"sort"
	"strings"
)

// Policy is two tag sets. A tag absent from a set is not eligible.
type Policy struct {
	Follow []string `toml:"follow" mapstructure:"follow" json:"follow"`
	Grant  []string `toml:"grant" mapstructure:"grant" json:"grant"`
}

// DefaultPolicy follows every ecosystem that can produce skills and grants
// every consumer that has an install path.
func DefaultPolicy() Policy {
	var p Policy
	for _, e := range catalog {
		if e.CanGenerate {
			p.Follow = append(p.Follow, e.ID)
		}
		if e.CanConsume && e.SyncAgent != "" {
			p.Grant = append(p.Grant, e.ID)
		}
	}
	return p
}

// MayFollow reports whether sources tagged tag may be imported.
func (p Policy) MayFollow(tag string) bool {
	return contains(p.Follow, tag)
}

// MayGrant reports whether agents tagged tag may receive distribution.
func (p Policy) MayGrant(tag string) bool {
	return contains(p.Grant, tag)
}

func contains(set []string, tag string) bool {
	key := normalizeTag(tag)
	if key == "" {
		return false
	}
	for _, s := range set {
		if normalizeTag(s) == key {
			return true
		}
	}
	return false
}

// Normalized returns a copy with both sets normalized. Built-in ecosystems
// that cannot generate are dropped from Follow, and those that cannot
// consume are dropped from Grant.
func (p Policy) Normalized() Policy {
	var out Policy
	for _, tag := range Normalize(p.Follow) {
		if e, ok := Lookup(tag); ok && !e.CanGenerate {
			continue
		}
		out.Follow = append(out.Follow, tag)
	}
	for _, tag := range Normalize(p.Grant) {
		if e, ok := Lookup(tag); ok && !e.CanConsume {
			continue
		}
		out.Grant = append(out.Grant, tag)
	}
	return out
}

// Normalize lowercases and trims tags, dropping blanks, "none", "null" and
// duplicates. Order of first appearance is kept.
func Normalize(tags []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, raw := range tags {
		key := normalizeTag(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// SplitCSV parses a comma separated flag value into normalized tags.
func SplitCSV(s string) []string {
	return Normalize(strings.Split(s, ","))
}

func normalizeTag(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "none" || key == "null" {
		return ""
	}
	return key
}

// StatusRow is one line of the ecosystem overview.
type StatusRow struct {
	Entry
	Followed bool
	Granted  bool
	// Custom marks tags that appear in the policy but not in the catalog.
	Custom bool
}

// Status lists every catalog ecosystem followed by any custom tags named in
// the policy, sorted.
func Status(p Policy) []StatusRow {
	var rows []StatusRow
	for _, e := range catalog {
		rows = append(rows, StatusRow{
			Entry:    e,
			Followed: p.MayFollow(e.ID),
			Granted:  p.MayGrant(e.ID),
		})
	}

	custom := map[string]struct{}{}
	for _, tag := range Normalize(append(append([]string{}, p.Follow...), p.Grant...)) {
		if !Known(tag) {
			custom[tag] = struct{}{}
		}
	}
	ids := make([]string, 0, len(custom))
	for id := range custom {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rows = append(rows, StatusRow{
			Entry: Entry{
				ID:          id,
				Name:        id,
				Kind:        KindAgent,
				CanGenerate: true,
				CanConsume:  true,
				SyncAgent:   id,
			},
			Followed: p.MayFollow(id),
			Granted:  p.MayGrant(id),
			Custom:   true,
		})
	}
	return rows
}
