package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/swang430/skills-pool/pkg/ecosystem"
	"github.com/swang430/skills-pool/pkg/errors"
)

// EnvPrefix namespaces environment overrides, e.g. SKILLCTL_POOL_DIR.
const EnvPrefix = "SKILLCTL"

// Overrides are the values set from CLI flags. Empty fields do not
// override anything.
type Overrides struct {
	PoolDir string
	Follow  []string
	Grant   []string
}

// Load resolves the effective configuration using Viper precedence:
// CLI flags > SKILLCTL_* environment > config file > defaults.
// A missing file is not an error.
func Load(path string, flags Overrides) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	def := ecosystem.DefaultPolicy()
	v.SetDefault("pool_dir", "")
	v.SetDefault("ecosystem.follow", def.Follow)
	v.SetDefault("ecosystem.grant", def.Grant)
	v.SetDefault("network.proxy_url", "")
	v.SetDefault("network.no_proxy", "")

	// Lowest priority above defaults: the config file
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfig, "reading %s", path)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{"pool_dir", "network.proxy_url", "network.no_proxy"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	// Highest priority: CLI flags
	if flags.PoolDir != "" {
		v.Set("pool_dir", flags.PoolDir)
	}
	if flags.Follow != nil {
		v.Set("ecosystem.follow", flags.Follow)
	}
	if flags.Grant != nil {
		v.Set("ecosystem.grant", flags.Grant)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, "unmarshaling config")
	}
	cfg.Ecosystem = cfg.Ecosystem.Normalized()
	for i := range cfg.Sources {
		cfg.Sources[i].Ecosystem = strings.ToLower(strings.TrimSpace(cfg.Sources[i].Ecosystem))
	}
	return cfg, nil
}
