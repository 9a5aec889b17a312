package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/swang430/skills-pool/pkg/agents"
	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/store"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file and pool layout",
		Long: `Writes a default config.toml, creates the pool directories and seeds
config/targets.conf with the agents installed on this machine.`,
		Args: cobra.NoArgs,
		RunE: runInit,
		// init creates the config the root would load; only set up logging.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			configureColor(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return err
	}

	path := configPath()
	if _, err := os.Stat(path); err == nil && !force {
		return errors.Newf(errors.ErrInvalidInput, "%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	if flagPool != "" {
		cfg.PoolDir = flagPool
	}
	poolDir := cfg.ResolvedPoolDir()

	if !yes && interactive(cmd) {
		ok, err := confirm(fmt.Sprintf("Create config %s with pool %s?", path, poolDir))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
	}

	if err := config.SaveFile(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)

	st := store.New(poolDir)
	if err := st.EnsureLayout(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pool ready at %s\n", st.Root())

	targets := st.Path(agents.TargetsFile)
	if _, err := os.Stat(targets); err == nil {
		return nil
	}
	home, err := homeDir()
	if err != nil {
		return err
	}
	installed := agents.Resolve(agents.ResolveOptions{Home: home, PoolRoot: st.Root()})
	if err := store.WriteFileAtomic(targets, agents.FormatTargets(installed)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s with %s\n", targets, plural(len(installed), "agent"))
	return nil
}

func confirm(title string) (bool, error) {
	ok := true
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Value(&ok),
		),
	).Run()
	if err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return ok, nil
}
