package source

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/swang430/skills-pool/pkg/errors"
)

// Market is a well-known place skills are published or installed, usable
// as a source location by id.
type Market struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	Ecosystem   string `json:"ecosystem"`
	Description string `json:"description"`
}

var markets = []Market{
	{ID: "openai-skills", Name: "OpenAI Skills (GitHub)", Location: "https://github.com/openai/skills.git", Ecosystem: "codex", Description: "OpenAI's public skills repository"},
	{ID: "claude-marketplace", Name: "Claude Skill Marketplace (local)", Location: "~/.claude/plugins/marketplaces", Ecosystem: "claude", Description: "Claude plugin marketplaces, including marketplace skills"},
	{ID: "claude-skills", Name: "Claude Skills (local)", Location: "~/.claude/skills", Ecosystem: "claude", Description: "Claude user-level skills"},
	{ID: "gemini-market-repos", Name: "Gemini Repos (local)", Location: "~/.gemini/skills/_repos", Ecosystem: "gemini", Description: "skills repositories Gemini has pulled"},
	{ID: "gemini-skills", Name: "Gemini Skills (local)", Location: "~/.gemini/skills", Ecosystem: "gemini", Description: "Gemini user-level skills"},
	{ID: "antigravity-skills", Name: "Antigravity Skills (local)", Location: "~/.gemini/antigravity/skills", Ecosystem: "antigravity", Description: "Antigravity skills"},
	{ID: "codex-skills", Name: "Codex Skills (local)", Location: "~/.codex/skills", Ecosystem: "codex", Description: "Codex user-level skills"},
}

var marketAliases = map[string]string{
	"openai-skill": "openai-skills",
	"openai":       "openai-skills",
}

// MarketView is a market with its location resolved against a home
// directory.
type MarketView struct {
	Market
	// Exists is always true for remote markets.
	Exists bool `json:"exists"`
}

// Markets lists the built-in markets in display order.
func Markets(home string) []MarketView {
	out := make([]MarketView, len(markets))
	for i, m := range markets {
		m.Location = expandMarket(m.Location, home)
		exists := IsGitURL(m.Location)
		if !exists {
			_, err := os.Stat(m.Location)
			exists = err == nil
		}
		out[i] = MarketView{Market: m, Exists: exists}
	}
	return out
}

// LookupMarket finds a market by id or alias, case-insensitively. A local
// market whose directory is missing is an error.
func LookupMarket(id, home string) (MarketView, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	if alias, ok := marketAliases[key]; ok {
		key = alias
	}
	for _, m := range Markets(home) {
		if m.ID != key {
			continue
		}
		if !m.Exists {
			return m, errors.Newf(errors.ErrNotFound, "market %q has no directory at %s", m.ID, m.Location)
		}
		return m, nil
	}
	return MarketView{}, errors.Newf(errors.ErrNotFound, "unknown market %q", id).
		WithDetail("hint", "skillctl source markets")
}

func expandMarket(loc, home string) string {
	if loc == "~" {
		return home
	}
	if rest, ok := strings.CutPrefix(loc, "~/"); ok {
		return filepath.Join(home, filepath.FromSlash(rest))
	}
	return loc
}
