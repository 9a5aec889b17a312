package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/swang430/skills-pool/pkg/engine"
	"github.com/swang430/skills-pool/pkg/syncer"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-sync agents whenever the pool changes",
		Long: `Runs sync, then watches the pool's skills directory and registry and
syncs again after every import, promotion or trash. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
	cmd.Flags().StringSlice("agents", nil, "only sync these agents")
	cmd.Flags().Bool("prune", true, "remove managed links whose entry left the pool")
	cmd.Flags().Bool("backup-conflicts", false, "rename unmanaged occupants aside and link in their place")
	cmd.Flags().Duration("debounce", engine.DefaultDebounce, "wait this long for changes to settle")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	opts := engine.WatchOptions{}
	var err error
	if opts.Sync.Agents, err = flags.GetStringSlice("agents"); err != nil {
		return err
	}
	if opts.Sync.Prune, err = flags.GetBool("prune"); err != nil {
		return err
	}
	if opts.Sync.BackupConflicts, err = flags.GetBool("backup-conflicts"); err != nil {
		return err
	}
	if opts.Debounce, err = flags.GetDuration("debounce"); err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	opts.OnSync = func(r *syncer.Report, err error) {
		stamp := mutedStyle.Render(time.Now().Format(time.Kitchen))
		if err != nil {
			fmt.Fprintf(w, "%s %s\n", stamp, errStyle.Render(err.Error()))
			return
		}
		changed, failed := 0, 0
		for _, ar := range r.Agents {
			changed += ar.Changed()
			failed += len(ar.Errors)
		}
		if changed == 0 && failed == 0 {
			fmt.Fprintf(w, "%s %s\n", stamp, mutedStyle.Render("in sync"))
			return
		}
		fmt.Fprintf(w, "%s synced %s\n", stamp, plural(changed, "change"))
		if flagVerbose > 0 || failed > 0 {
			_ = renderSync(w, r)
		}
	}

	fmt.Fprintf(w, "Watching %s\n", eng.Store.Root())
	return eng.Watch(cmd.Context(), opts)
}
