package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/swang430/skills-pool/pkg/engine"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/syncer"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Link pool entries into agent skills directories",
		Long: `Creates a symlink in each granted agent's skills directory for every pool
entry. Files and links skillctl did not create are never replaced unless
--backup-conflicts moves them aside first.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
	cmd.Flags().StringSlice("agents", nil, "only sync these agents (e.g. claude,codex)")
	cmd.Flags().Bool("prune", false, "remove managed links whose entry left the pool")
	cmd.Flags().Bool("backup-conflicts", false, "rename unmanaged occupants aside and link in their place")
	cmd.Flags().Bool("dry-run", false, "report what would change without touching anything")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	req := engine.SyncRequest{}
	var err error
	if req.Agents, err = flags.GetStringSlice("agents"); err != nil {
		return err
	}
	if req.Prune, err = flags.GetBool("prune"); err != nil {
		return err
	}
	if req.BackupConflicts, err = flags.GetBool("backup-conflicts"); err != nil {
		return err
	}
	if req.DryRun, err = flags.GetBool("dry-run"); err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	report, err := eng.Sync(cmd.Context(), req)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}
	return renderSync(cmd.OutOrStdout(), report)
}

func renderSync(w io.Writer, r *syncer.Report) error {
	failed := 0
	for _, id := range r.AgentIDs() {
		ar := r.Agents[id]
		renderAgentReport(w, ar)
		failed += len(ar.Errors)
	}
	for _, id := range r.NotGranted {
		header(w, "%s", id)
		line(w, mutedStyle, "not granted", "")
	}
	if len(r.Agents) == 0 && len(r.NotGranted) == 0 {
		fmt.Fprintln(w, "No agents configured")
	}
	if failed > 0 {
		return errors.Newf(errors.ErrIO, "%s failed", plural(failed, "link"))
	}
	return nil
}

var actionLabels = map[syncer.Action]string{
	syncer.ActionCreated:         "link",
	syncer.ActionReplaced:        "relink",
	syncer.ActionBackedUp:        "backup+link",
	syncer.ActionSkippedConflict: "conflict",
	syncer.ActionPruned:          "prune",
	syncer.ActionError:           "error",
}

func renderAgentReport(w io.Writer, ar *syncer.AgentReport) {
	title := fmt.Sprintf("%s -> %s", ar.Agent.ID, ar.Agent.TargetDir)
	if ar.DryRun {
		title += " (dry run)"
	}
	header(w, "%s", title)
	for _, it := range ar.Items {
		label, shown := actionLabels[it.Action]
		if !shown {
			continue
		}
		style := okStyle
		detail := it.Name
		switch it.Action {
		case syncer.ActionBackedUp:
			style = warnStyle
			detail += " (was moved to " + it.Backup + ")"
		case syncer.ActionSkippedConflict:
			style = warnStyle
			detail += " (" + it.Path + " is not managed)"
		case syncer.ActionPruned:
			style = mutedStyle
		case syncer.ActionError:
			style = errStyle
			detail += ": " + it.Error
		}
		line(w, style, label, detail)
	}
	fmt.Fprintf(w, "  %d linked, %d changed, %d conflicts, %d pruned, %d errors\n",
		ar.Linked, ar.Changed(), ar.SkippedConflict, ar.Pruned, len(ar.Errors))
}

func newPruneReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune-report [agent]",
		Short: "List managed links sync --prune would remove",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			ar, err := eng.PruneReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(cmd.OutOrStdout(), ar)
			}
			if len(ar.Items) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing to prune for %s\n", ar.Agent.ID)
				return nil
			}
			renderAgentReport(cmd.OutOrStdout(), ar)
			return nil
		},
	}
}
