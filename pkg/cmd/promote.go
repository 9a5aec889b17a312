package cmd

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/promote"
)

func newPromoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote [paths...]",
		Short: "Move locally written skills into the pool",
		Long: `Imports bundle directories written directly in an agent's skills directory
or a project's .claude/.codex/.gemini/.agent skills directory into the
pool. Each promotion is recorded in state/promotions.jsonl.

With --list the candidates are shown instead, and --history prints the
promotion log. In a terminal, running without paths offers the candidates
not yet in the pool for selection.`,
		RunE: runPromote,
	}
	cmd.Flags().Bool("list", false, "list promotable bundles")
	cmd.Flags().Bool("history", false, "show the promotion log")
	cmd.MarkFlagsMutuallyExclusive("list", "history")
	return cmd
}

func runPromote(cmd *cobra.Command, args []string) error {
	list, err := cmd.Flags().GetBool("list")
	if err != nil {
		return err
	}
	history, err := cmd.Flags().GetBool("history")
	if err != nil {
		return err
	}
	eng, err := openEngine()
	if err != nil {
		return err
	}

	if history {
		records, err := eng.PromotionLog()
		if err != nil {
			return err
		}
		return renderPromotionLog(cmd, records)
	}

	paths := args
	if list || len(paths) == 0 {
		cands, err := eng.DiscoverLocal(cmd.Context())
		if err != nil {
			return err
		}
		if list {
			return renderCandidates(cmd, cands)
		}
		if !interactive(cmd) {
			return errors.New(errors.ErrInvalidInput, "name the bundle directories to promote or pass --list")
		}
		if paths, err = promptCandidates(cands); err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing selected")
			return nil
		}
	}

	report, err := eng.Promote(cmd.Context(), paths)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}
	renderImport(cmd.OutOrStdout(), report)
	if len(report.Errors) > 0 {
		return errors.Newf(errors.ErrIO, "%s failed", plural(len(report.Errors), "bundle"))
	}
	return nil
}

func renderCandidates(cmd *cobra.Command, cands []promote.Candidate) error {
	if flagJSON {
		if cands == nil {
			cands = []promote.Candidate{}
		}
		return printJSON(cmd.OutOrStdout(), cands)
	}
	if len(cands) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No local bundles found")
		return nil
	}
	rows := make([][]string, 0, len(cands))
	for _, c := range cands {
		pooled := mutedStyle.Render("-")
		if c.Promoted() {
			pooled = okStyle.Render(c.PoolName)
		}
		rows = append(rows, []string{c.Name, c.Origin, pooled, c.Dir})
	}
	table(cmd.OutOrStdout(), []string{"NAME", "ORIGIN", "IN POOL", "PATH"}, rows)
	return nil
}

func renderPromotionLog(cmd *cobra.Command, records []promote.LogRecord) error {
	if flagJSON {
		if records == nil {
			records = []promote.LogRecord{}
		}
		return printJSON(cmd.OutOrStdout(), records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No promotions recorded")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{r.Time.Local().Format("2006-01-02 15:04"), r.Name, string(r.Outcome), r.Source})
	}
	table(cmd.OutOrStdout(), []string{"WHEN", "NAME", "OUTCOME", "FROM"}, rows)
	return nil
}

func promptCandidates(cands []promote.Candidate) ([]string, error) {
	var options []huh.Option[string]
	for _, c := range cands {
		if c.Promoted() {
			continue
		}
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", c.Name, c.Origin), c.Dir))
	}
	if len(options) == 0 {
		return nil, nil
	}

	var selected []string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Promote into the pool").
				Options(options...).
				Value(&selected),
		),
	).Run()
	if err != nil {
		return nil, fmt.Errorf("prompt failed: %w", err)
	}
	return selected, nil
}
