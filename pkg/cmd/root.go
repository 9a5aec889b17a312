// Package cmd is the skillctl command line. Commands resolve configuration
// once in the root PersistentPreRunE, call into the engine and render the
// reports it returns.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/engine"
	"github.com/swang430/skills-pool/pkg/logging"
)

var (
	flagConfig  string
	flagPool    string
	flagLogFile string
	flagVerbose int
	flagJSON    bool

	// Cfg holds the resolved configuration, available to all subcommands
	// after PersistentPreRunE completes.
	Cfg *config.Config

	// engineOptions is replaced in tests to pin home and workspace.
	engineOptions = engine.Options{}
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "skillctl",
		Short: "Skill pool manager",
		Long: `skillctl keeps one pool of agent skills, imports them from tracked sources
and links them into each coding agent's skills directory.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			configureColor(cmd.OutOrStdout())
			cfg, err := config.Load(configPath(), config.Overrides{PoolDir: flagPool})
			if err != nil {
				return err
			}
			Cfg = cfg
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $XDG_CONFIG_HOME/skillctl/config.toml)")
	root.PersistentFlags().StringVar(&flagPool, "pool", "", "pool directory (overrides pool_dir)")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "log file (default $XDG_STATE_HOME/skillctl/skillctl.log)")
	root.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity (-v info, -vv debug, -vvv trace)")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "print reports as JSON")

	root.AddCommand(newInitCmd())
	root.AddCommand(newSourceCmd())
	root.AddCommand(newDiffCmd())
	root.AddCommand(newImportCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newPruneReportCmd())
	root.AddCommand(newPromoteCmd())
	root.AddCommand(newMaintainCmd())
	root.AddCommand(newEcosystemCmd())
	root.AddCommand(newProxyCmd())
	root.AddCommand(newAgentsCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newWatchCmd())

	return root
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	_ = logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	logging.Setup(flagVerbose, flagLogFile)
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.DefaultPath()
}

func openEngine() (*engine.Engine, error) {
	return engine.Open(Cfg, engineOptions)
}

// editConfig applies fn to the config file alone, so that environment and
// flag overrides are never written back, saves it and re-resolves Cfg.
func editConfig(fn func(*config.Config) error) error {
	path := configPath()
	fileCfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if err := fn(fileCfg); err != nil {
		return err
	}
	if err := config.SaveFile(path, fileCfg); err != nil {
		return err
	}
	cfg, err := config.Load(path, config.Overrides{PoolDir: flagPool})
	if err != nil {
		return err
	}
	Cfg = cfg
	return nil
}
