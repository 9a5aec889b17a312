package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swang430/skills-pool/pkg/errors"
)

func TestMarkets(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".codex", "skills"), 0o755))

	views := Markets(home)
	byID := map[string]MarketView{}
	for _, v := range views {
		byID[v.ID] = v
	}
	require.Len(t, byID, len(views), "ids are unique")
	assert.Equal(t, "openai-skills", views[0].ID)

	assert.True(t, byID["openai-skills"].Exists, "remote markets always exist")
	assert.True(t, byID["codex-skills"].Exists)
	assert.Equal(t, filepath.Join(home, ".codex", "skills"), byID["codex-skills"].Location)
	assert.False(t, byID["gemini-skills"].Exists)
	assert.Equal(t, filepath.Join(home, ".gemini", "antigravity", "skills"), byID["antigravity-skills"].Location)
}

func TestLookupMarket(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".claude", "skills"), 0o755))

	tests := map[string]struct {
		id      string
		wantID  string
		wantEco string
		wantErr bool
	}{
		"exact":          {id: "claude-skills", wantID: "claude-skills", wantEco: "claude"},
		"case and space": {id: "  Claude-Skills ", wantID: "claude-skills", wantEco: "claude"},
		"alias":          {id: "openai", wantID: "openai-skills", wantEco: "codex"},
		"singular alias": {id: "openai-skill", wantID: "openai-skills", wantEco: "codex"},
		"missing dir":    {id: "gemini-skills", wantErr: true},
		"unknown":        {id: "npm", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, err := LookupMarket(tc.id, home)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsErrorCode(err, errors.ErrNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, m.ID)
			assert.Equal(t, tc.wantEco, m.Ecosystem)
		})
	}
}

func TestMarketLocationsParse(t *testing.T) {
	for _, m := range Markets(t.TempDir()) {
		parsed, err := ParseLocation(m.Location)
		require.NoError(t, err, m.ID)
		assert.Equal(t, m.Location, parsed.Location, m.ID)
	}
}
