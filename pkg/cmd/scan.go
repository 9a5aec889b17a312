package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/swang430/skills-pool/pkg/inventory"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Inventory the skills installed on this machine",
		Long: `Lists every skill bundle in the agents' skills directories, their hidden
.system directories and the Claude plugin marketplaces, and tells which
ones are pool links or hold content already in the pool. With --workspace
the project directories of the agents are included.

The inventory is written to state/inventory-latest.json and
state/inventory-latest.md; --markdown prints the latter.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().BoolP("workspace", "w", false, "include the current project's agent directories")
	cmd.Flags().Bool("markdown", false, "print the markdown report")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	withWorkspace, err := cmd.Flags().GetBool("workspace")
	if err != nil {
		return err
	}
	markdown, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	eng, err := openEngine()
	if err != nil {
		return err
	}
	report, paths, err := eng.Inventory(cmd.Context(), withWorkspace)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	w := cmd.OutOrStdout()
	if markdown {
		fmt.Fprint(w, renderMarkdown(w, report.Markdown()))
		return nil
	}
	renderInventory(w, report)
	fmt.Fprintln(w, mutedStyle.Render("Report written to "+paths.Latest))
	return nil
}

func renderInventory(w io.Writer, r *inventory.Report) {
	header(w, "%s found, %d in pool", plural(r.Total, "skill"), r.InPool)
	agentIDs := make([]string, 0, len(r.CountsByAgent))
	for id := range r.CountsByAgent {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)
	for _, id := range agentIDs {
		line(w, mutedStyle, id, plural(r.CountsByAgent[id], "skill"))
	}
	if r.Total == 0 {
		return
	}

	rows := make([][]string, 0, len(r.Records))
	for _, rec := range r.Records {
		pool := mutedStyle.Render("-")
		if rec.InPool() {
			pool = okStyle.Render(rec.PoolName)
		}
		enabled := mutedStyle.Render("?")
		if rec.Enabled != nil {
			enabled = yesNo(*rec.Enabled)
		}
		rows = append(rows, []string{rec.Agent, rec.Scope, rec.Name, rec.SourceType, enabled, pool})
	}
	fmt.Fprintln(w)
	table(w, []string{"AGENT", "SCOPE", "NAME", "SOURCE", "ENABLED", "POOL"}, rows)
}

// renderMarkdown styles md for a terminal. Anything else gets it raw.
func renderMarkdown(w io.Writer, md string) string {
	f, ok := w.(*os.File)
	if !ok || !isTerminal(f) {
		return md
	}
	const maxWidth = 100
	width := 80
	if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
		width = min(cols, maxWidth)
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
