package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swang430/skills-pool/pkg/maintenance"
)

func newMaintainCmd() *cobra.Command {
	maintainCmd := &cobra.Command{
		Use:   "maintain",
		Short: "Check and repair the pool",
	}

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Report problems in the pool and agent links",
		Long: `Looks for bundles without SKILL.md, duplicate skill names, entries edited
or missing on disk, directories the pool does not track and broken links.
The report is also written to state/maintenance-latest.json.`,
		Args: cobra.NoArgs,
		RunE: runAudit,
	}

	pruneCmd := &cobra.Command{
		Use:   "prune-broken",
		Short: "Remove managed links whose bundle is gone",
		Args:  cobra.NoArgs,
		RunE:  runPruneBroken,
	}
	pruneCmd.Flags().Bool("dry-run", false, "list the links without removing them")

	trashCmd := &cobra.Command{
		Use:   "trash [names...]",
		Short: "Move pool entries to the trash",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTrash,
	}

	maintainCmd.AddCommand(auditCmd, pruneCmd, trashCmd)
	return maintainCmd
}

func runAudit(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	report, path, err := eng.Audit(cmd.Context())
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	w := cmd.OutOrStdout()
	if report.Total == 0 {
		fmt.Fprintln(w, okStyle.Render("No issues found"))
	} else {
		header(w, "%s", plural(report.Total, "issue"))
		for _, is := range report.Issues {
			line(w, warnStyle, string(is.Kind), is.Message)
		}
	}
	fmt.Fprintln(w, mutedStyle.Render("Report written to "+path))
	return nil
}

func runPruneBroken(cmd *cobra.Command, args []string) error {
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	eng, err := openEngine()
	if err != nil {
		return err
	}
	removed, err := eng.PruneBroken(cmd.Context(), dryRun)
	if flagJSON {
		if removed == nil {
			removed = []maintenance.Removed{}
		}
		if jerr := printJSON(cmd.OutOrStdout(), removed); jerr != nil {
			return jerr
		}
		return err
	}

	w := cmd.OutOrStdout()
	label := "removed"
	if dryRun {
		label = "would remove"
	}
	for _, r := range removed {
		line(w, mutedStyle, label, fmt.Sprintf("%s (%s)", r.Path, r.Agent))
	}
	if len(removed) == 0 {
		fmt.Fprintln(w, "No broken links")
	}
	return err
}

func runTrash(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	for _, name := range args {
		dst, err := eng.Trash(cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to %s\n", headerStyle.Render(name), dst)
	}
	fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Run `skillctl sync --prune` to drop their agent links"))
	return nil
}
