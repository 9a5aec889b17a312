package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/swang430/skills-pool/pkg/engine"
	"github.com/swang430/skills-pool/pkg/errors"
	"github.com/swang430/skills-pool/pkg/importer"
	"github.com/swang430/skills-pool/pkg/snapshot"
)

func newDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff [id]",
		Short: "Show what changed in tracked sources",
		Long: `Compares each source's current tree with the last accepted snapshot.
Nothing is imported. With --accept the current state becomes the new
baseline. Without an id every enabled source is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDiff,
	}
	cmd.Flags().Bool("accept", false, "accept the current state as the new baseline")
	return cmd
}

func runDiff(cmd *cobra.Command, args []string) error {
	accept, err := cmd.Flags().GetBool("accept")
	if err != nil {
		return err
	}
	eng, err := openEngine()
	if err != nil {
		return err
	}

	ids := args
	if len(ids) == 0 {
		for _, s := range Cfg.Sources {
			if s.Enabled() {
				ids = append(ids, s.ID)
			}
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No enabled sources")
			return nil
		}
	}

	var (
		results []*snapshot.Result
		failed  int
	)
	for _, id := range ids {
		d, err := eng.Diff(cmd.Context(), id)
		if err != nil {
			// a single source is reported as the command's error
			if len(args) == 1 {
				return err
			}
			failed++
			fmt.Fprintln(cmd.ErrOrStderr(), errStyle.Render(fmt.Sprintf("%s: %v", id, err)))
			continue
		}
		if accept {
			if err := eng.Accept(cmd.Context(), d); err != nil {
				return err
			}
		}
		results = append(results, d)
	}

	if flagJSON {
		if results == nil {
			results = []*snapshot.Result{}
		}
		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		for _, d := range results {
			renderDiff(cmd.OutOrStdout(), d, accept)
		}
	}
	if failed > 0 {
		return errors.Newf(errors.ErrFetchFailed, "%s could not be checked", plural(failed, "source"))
	}
	return nil
}

func renderDiff(w io.Writer, d *snapshot.Result, accepted bool) {
	header(w, "%s", d.SourceID)
	if d.Previous == nil {
		line(w, mutedStyle, "never accepted", "")
	}
	if !d.HasChanges() {
		line(w, mutedStyle, "no changes", plural(len(d.Unchanged), "bundle"))
	}
	for _, n := range d.Added {
		line(w, okStyle, "+", n)
	}
	for _, n := range d.Changed {
		line(w, warnStyle, "~", n)
	}
	for _, n := range d.Removed {
		line(w, errStyle, "-", n)
	}
	if accepted {
		line(w, okStyle, "accepted", "")
	}
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [id] [names...]",
		Short: "Import bundles from a source into the pool",
		Long: `Copies the named bundles, or every bundle with --all, from a tracked
source into the pool. Content already in the pool is skipped. In a
terminal, running without names or --all offers the added and changed
bundles for selection.

With --accept, once every selected bundle was imported, the source's whole
scanned tree becomes the new baseline. Bundles left unselected are accepted
too and no longer show up in diff.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}
	cmd.Flags().Bool("all", false, "import every bundle of the source")
	cmd.Flags().Bool("accept", false, "after a fully successful import, accept the whole scanned source (unselected bundles included) as the new baseline")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return err
	}
	accept, err := cmd.Flags().GetBool("accept")
	if err != nil {
		return err
	}
	eng, err := openEngine()
	if err != nil {
		return err
	}

	req := engine.ImportRequest{
		SourceID: args[0],
		Names:    args[1:],
		All:      all,
		Accept:   accept,
	}

	if !req.All && len(req.Names) == 0 {
		if !interactive(cmd) {
			return errors.New(errors.ErrInvalidInput, "name the bundles to import or pass --all")
		}
		d, err := eng.Diff(cmd.Context(), req.SourceID)
		if err != nil {
			return err
		}
		req.Names, err = promptBundles(d)
		if err != nil {
			return err
		}
		if len(req.Names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing selected")
			return nil
		}
	}

	report, err := eng.Import(cmd.Context(), req)
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

// promptBundles offers the added and changed bundles of d, all preselected.
func promptBundles(d *snapshot.Result) ([]string, error) {
	candidates := d.Candidates()
	if len(candidates) == 0 {
		candidates = d.Current.Names()
	}
	options := make([]huh.Option[string], len(candidates))
	for i, name := range candidates {
		options[i] = huh.NewOption(name, name).Selected(true)
	}

	var selected []string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title(fmt.Sprintf("Import from %s", d.SourceID)).
				Options(options...).
				Value(&selected),
		),
	).Run()
	if err != nil {
		return nil, fmt.Errorf("prompt failed: %w", err)
	}
	return selected, nil
}

func renderImport(w io.Writer, r *importer.Report) {
	header(w, "Import from %s", r.SourceID)
	for _, it := range r.Imported {
		detail := it.Name
		if it.Renamed {
			detail += " as " + it.StoredName
		}
		line(w, okStyle, "imported", detail)
	}
	for _, it := range r.SkippedDuplicate {
		line(w, mutedStyle, "duplicate", it.Name+" (in pool as "+it.StoredName+")")
	}
	for _, it := range r.SkippedPolicy {
		line(w, warnStyle, "not followed", it.Name)
	}
	for _, it := range r.Errors {
		line(w, errStyle, "error", it.Name+": "+it.Error)
	}
	fmt.Fprintf(w, "%d imported, %d duplicate, %d not followed, %d failed\n",
		len(r.Imported), len(r.SkippedDuplicate), len(r.SkippedPolicy), len(r.Errors))
}
