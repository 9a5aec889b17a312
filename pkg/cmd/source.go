package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/source"
)

func newSourceCmd() *cobra.Command {
	sourceCmd := &cobra.Command{
		Use:   "source",
		Short: "Manage tracked sources",
	}

	addCmd := &cobra.Command{
		Use:   "add [location]",
		Short: "Track a new source",
		Long: `Adds a source to the config.

A local path (./, ../, ~ or absolute) is read in place. A git URL is
cloned into the pool cache. owner/repo[/path][@ref] is short for a GitHub
repository.

--market names a well-known location instead (see "skillctl source
markets"). The market's ecosystem is used unless --ecosystem is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSourceAdd,
	}
	addCmd.Flags().String("id", "", "source id (derived from the location by default)")
	addCmd.Flags().StringP("ecosystem", "e", "", "ecosystem the source belongs to (required without --market)")
	addCmd.Flags().String("market", "", "add a built-in market by id instead of a location")
	addCmd.Flags().String("ref", "", "git branch, tag or commit")
	addCmd.Flags().String("path", "", "sub-directory holding the bundle directories")
	addCmd.Flags().String("agent", "", "agent the source is meant for")
	addCmd.Flags().String("note", "", "free-form note")

	marketsCmd := &cobra.Command{
		Use:   "markets",
		Short: "List built-in markets usable with source add --market",
		Args:  cobra.NoArgs,
		RunE:  runSourceMarkets,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked sources",
		Args:  cobra.NoArgs,
		RunE:  runSourceList,
	}

	updateCmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Change a tracked source",
		Args:  cobra.ExactArgs(1),
		RunE:  runSourceUpdate,
	}
	updateCmd.Flags().String("location", "", "new location")
	updateCmd.Flags().StringP("ecosystem", "e", "", "new ecosystem")
	updateCmd.Flags().String("ref", "", "new git ref")
	updateCmd.Flags().String("path", "", "new sub-directory")
	updateCmd.Flags().String("agent", "", "new agent")
	updateCmd.Flags().String("note", "", "new note")
	updateCmd.Flags().Bool("enable", false, "include the source in bulk operations")
	updateCmd.Flags().Bool("disable", false, "exclude the source from bulk operations")
	updateCmd.MarkFlagsMutuallyExclusive("enable", "disable")

	removeCmd := &cobra.Command{
		Use:   "remove [id]",
		Short: "Stop tracking a source",
		Long:  "Removes the source from the config and deletes its accepted snapshot. Pool entries imported from it are kept.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSourceRemove,
	}

	sourceCmd.AddCommand(addCmd, listCmd, marketsCmd, updateCmd, removeCmd)
	return sourceCmd
}

func runSourceAdd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	marketID, _ := flags.GetString("market")
	ecosystem, _ := flags.GetString("ecosystem")

	var location string
	switch {
	case marketID != "" && len(args) > 0:
		return errors.New(errors.ErrInvalidInput, "give either a location or --market, not both")
	case marketID != "":
		home, err := homeDir()
		if err != nil {
			return err
		}
		m, err := source.LookupMarket(marketID, home)
		if err != nil {
			return err
		}
		location = m.Location
		if ecosystem == "" {
			ecosystem = m.Ecosystem
		}
		if !flags.Changed("id") {
			_ = flags.Set("id", m.ID)
		}
	case len(args) == 0:
		return errors.New(errors.ErrInvalidInput, "a location or --market is required")
	default:
		location = args[0]
	}
	if ecosystem == "" {
		return errors.New(errors.ErrInvalidInput, "--ecosystem is required")
	}

	parsed, err := source.ParseLocation(location)
	if err != nil {
		return errors.Wrap(err, errors.ErrInvalidInput, "parsing location")
	}

	parsed.ID, _ = flags.GetString("id")
	parsed.Ecosystem = ecosystem
	parsed.Agent, _ = flags.GetString("agent")
	parsed.Note, _ = flags.GetString("note")
	if ref, _ := flags.GetString("ref"); ref != "" {
		parsed.Ref = ref
	}
	if path, _ := flags.GetString("path"); path != "" {
		parsed.Path = path
	}

	var added config.Source
	err = editConfig(func(c *config.Config) error {
		var err error
		added, err = c.AddSource(parsed)
		return err
	})
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), added)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added source %s (%s)\n", headerStyle.Render(added.ID), added.Location)
	if !Cfg.Ecosystem.MayFollow(added.Ecosystem) {
		fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render(fmt.Sprintf(
			"Ecosystem %q is not followed; imports will be skipped until it is (skillctl ecosystem --follow)", added.Ecosystem)))
	}
	return nil
}

func runSourceList(cmd *cobra.Command, args []string) error {
	if flagJSON {
		sources := Cfg.Sources
		if sources == nil {
			sources = []config.Source{}
		}
		return printJSON(cmd.OutOrStdout(), sources)
	}
	if len(Cfg.Sources) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sources tracked")
		return nil
	}
	rows := make([][]string, 0, len(Cfg.Sources))
	for _, s := range Cfg.Sources {
		loc := s.Location
		if s.Path != "" {
			loc += " (" + s.Path + ")"
		}
		if s.Ref != "" {
			loc += " @" + s.Ref
		}
		rows = append(rows, []string{s.ID, s.Ecosystem, yesNo(s.Enabled()), yesNo(Cfg.Ecosystem.MayFollow(s.Ecosystem)), loc})
	}
	table(cmd.OutOrStdout(), []string{"ID", "ECOSYSTEM", "ENABLED", "FOLLOWED", "LOCATION"}, rows)
	return nil
}

func runSourceMarkets(cmd *cobra.Command, args []string) error {
	home, err := homeDir()
	if err != nil {
		return err
	}
	views := source.Markets(home)
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), views)
	}
	renderMarkets(cmd.OutOrStdout(), views)
	return nil
}

func renderMarkets(w io.Writer, views []source.MarketView) {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{v.ID, v.Ecosystem, yesNo(v.Exists), v.Location})
	}
	table(w, []string{"ID", "ECOSYSTEM", "AVAILABLE", "LOCATION"}, rows)
}

// homeDir is the home directory pinned for tests, or the user's.
func homeDir() (string, error) {
	if engineOptions.Home != "" {
		return engineOptions.Home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return home, nil
}

func runSourceUpdate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	var updated config.Source
	err := editConfig(func(c *config.Config) error {
		var err error
		updated, err = c.UpdateSource(args[0], func(s *config.Source) {
			if flags.Changed("location") {
				s.Location, _ = flags.GetString("location")
			}
			if flags.Changed("ecosystem") {
				s.Ecosystem, _ = flags.GetString("ecosystem")
			}
			if flags.Changed("ref") {
				s.Ref, _ = flags.GetString("ref")
			}
			if flags.Changed("path") {
				s.Path, _ = flags.GetString("path")
			}
			if flags.Changed("agent") {
				s.Agent, _ = flags.GetString("agent")
			}
			if flags.Changed("note") {
				s.Note, _ = flags.GetString("note")
			}
			if flags.Changed("enable") {
				s.Disabled = false
			}
			if flags.Changed("disable") {
				s.Disabled = true
			}
		})
		return err
	})
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), updated)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated source %s\n", headerStyle.Render(updated.ID))
	return nil
}

func runSourceRemove(cmd *cobra.Command, args []string) error {
	id := args[0]
	eng, err := openEngine()
	if err != nil {
		return err
	}
	if err := eng.RemoveSource(cmd.Context(), id); err != nil {
		return err
	}
	err = editConfig(func(c *config.Config) error {
		if err := c.RemoveSource(id); err != nil && !errors.IsErrorCode(err, errors.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed source %s\n", headerStyle.Render(id))
	return nil
}
