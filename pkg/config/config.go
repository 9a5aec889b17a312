package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"

	"github.com/swang430/skills-pool/pkg/ecosystem"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/store"
)

// FileName is the app config filename under the XDG config dir.
const FileName = "config.toml"

type Config struct {
	PoolDir   string                 `toml:"pool_dir,omitempty" mapstructure:"pool_dir"`
	Ecosystem ecosystem.Policy       `toml:"ecosystem" mapstructure:"ecosystem"`
	Network   Network                `toml:"network" mapstructure:"network"`
	Sources   []Source               `toml:"sources,omitempty" mapstructure:"sources"`
	Agents    map[string]AgentConfig `toml:"agents,omitempty" mapstructure:"agents"`
}

// Network settings are only handed to the git fetcher.
type Network struct {
	ProxyURL string `toml:"proxy_url,omitempty" mapstructure:"proxy_url"`
	NoProxy  string `toml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// Environ returns the proxy variables to add to a child process
// environment, in both the upper and lower case spellings git honours.
func (n Network) Environ() []string {
	var env []string
	if p := strings.TrimSpace(n.ProxyURL); p != "" {
		for _, k := range []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY"} {
			env = append(env, k+"="+p, strings.ToLower(k)+"="+p)
		}
	}
	if np := strings.TrimSpace(n.NoProxy); np != "" {
		env = append(env, "NO_PROXY="+np, "no_proxy="+np)
	}
	return env
}

// AgentConfig overrides or adds a distribution target.
type AgentConfig struct {
	Ecosystem string `toml:"ecosystem,omitempty" mapstructure:"ecosystem"`
	TargetDir string `toml:"target_dir,omitempty" mapstructure:"target_dir"`
	Disabled  bool   `toml:"disabled,omitempty" mapstructure:"disabled"`
}

// Default is the config written by `skillctl init`.
func Default() *Config {
	return &Config{
		Ecosystem: ecosystem.DefaultPolicy(),
	}
}

// DefaultPath is $XDG_CONFIG_HOME/skillctl/config.toml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "skillctl", FileName)
}

// ResolvedPoolDir returns the configured pool directory with ~ expanded,
// or the XDG default.
func (c *Config) ResolvedPoolDir() string {
	if c.PoolDir == "" {
		return store.DefaultRoot()
	}
	return ExpandHome(c.PoolDir)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func UnmarshalConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// LoadFile reads only the file at path, with no env or flag layering. Use it
// for read-modify-write edits so overrides are never persisted. A missing
// file yields Default().
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, errors.Wrapf(err, errors.ErrConfig, "reading %s", path)
	}
	cfg, err := UnmarshalConfig(data)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfig, "parsing %s", path)
	}
	if !hasEcosystemKey(data, "follow") {
		cfg.Ecosystem.Follow = ecosystem.DefaultPolicy().Follow
	}
	if !hasEcosystemKey(data, "grant") {
		cfg.Ecosystem.Grant = ecosystem.DefaultPolicy().Grant
	}
	return cfg, nil
}

// hasEcosystemKey distinguishes an explicitly empty set, which allows
// nothing, from an absent one, which takes the defaults.
func hasEcosystemKey(data []byte, key string) bool {
	var raw struct {
		Ecosystem map[string]any `toml:"ecosystem"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}
	_, ok := raw.Ecosystem[key]
	return ok
}

// SaveFile writes cfg to path atomically.
func SaveFile(path string, cfg *Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return store.WriteFileAtomic(path, data)
}
