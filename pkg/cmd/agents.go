package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/swang430/skills-pool/pkg/agents"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List distribution targets",
		Long: `Shows the agents sync links into, where each mapping comes from and
whether its ecosystem is granted. Mappings come from config/targets.conf
in the pool, overlaid by [agents.<id>] tables in the config. With neither,
the installed built-in agents are used.`,
		Args: cobra.NoArgs,
		RunE: runAgents,
	}
	cmd.Flags().Bool("builtin", false, "list the built-in agent catalog instead")
	return cmd
}

func runAgents(cmd *cobra.Command, args []string) error {
	builtin, err := cmd.Flags().GetBool("builtin")
	if err != nil {
		return err
	}
	if builtin {
		return renderBuiltinAgents(cmd)
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	st, err := eng.Status(cmd.Context())
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), st.Agents)
	}
	if len(st.Agents) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No agents configured")
		return nil
	}
	rows := make([][]string, 0, len(st.Agents))
	for _, a := range st.Agents {
		links := strconv.Itoa(a.Linked)
		if a.Broken > 0 {
			links += warnStyle.Render(fmt.Sprintf(" (%d broken)", a.Broken))
		}
		rows = append(rows, []string{a.ID, a.Ecosystem, yesNo(a.Granted), links, a.Origin, a.TargetDir})
	}
	table(cmd.OutOrStdout(), []string{"AGENT", "ECOSYSTEM", "GRANTED", "LINKS", "ORIGIN", "TARGET"}, rows)
	return nil
}

func renderBuiltinAgents(cmd *cobra.Command) error {
	var defs []agents.Definition
	for _, id := range agents.Registered() {
		def, _ := agents.Lookup(id)
		defs = append(defs, def)
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), defs)
	}
	home := engineOptions.Home
	rows := make([][]string, 0, len(defs))
	for _, d := range defs {
		installed := mutedStyle.Render("-")
		if home != "" {
			installed = yesNo(d.Installed(home))
		}
		rows = append(rows, []string{d.ID, d.Ecosystem, "~/" + d.SkillsDir, d.WorkspaceSkillsDir, installed})
	}
	table(cmd.OutOrStdout(), []string{"AGENT", "ECOSYSTEM", "SKILLS DIR", "PROJECT DIR", "INSTALLED"}, rows)
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the pool, its sources and agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			st, err := eng.Status(cmd.Context())
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}

			w := cmd.OutOrStdout()
			header(w, "Pool %s", st.PoolDir)
			fmt.Fprintf(w, "  %d entries, %d in trash, %d promoted\n", st.Entries, st.Trashed, st.Promotions)

			section(w, "Sources")
			if len(st.Sources) == 0 {
				line(w, mutedStyle, "none", "")
			}
			for _, s := range st.Sources {
				accepted := mutedStyle.Render("never accepted")
				if !s.AcceptedAt.IsZero() {
					accepted = fmt.Sprintf("%s accepted %s", plural(s.Bundles, "bundle"), s.AcceptedAt.Local().Format("2006-01-02 15:04"))
				}
				style := okStyle
				if !s.Enabled || !s.Followed {
					style = mutedStyle
				}
				line(w, style, s.ID, fmt.Sprintf("[%s] %s", s.Ecosystem, accepted))
			}

			section(w, "Agents")
			if len(st.Agents) == 0 {
				line(w, mutedStyle, "none", "")
			}
			for _, a := range st.Agents {
				style := okStyle
				if !a.Granted {
					style = mutedStyle
				}
				detail := fmt.Sprintf("%s linked", plural(a.Linked, "skill"))
				if a.Broken > 0 {
					detail += warnStyle.Render(fmt.Sprintf(", %d broken", a.Broken))
				}
				line(w, style, a.ID, detail)
			}

			section(w, "Inventory")
			if st.Inventory == nil {
				line(w, mutedStyle, "never scanned", "run skillctl scan")
			} else {
				line(w, okStyle, "scanned", fmt.Sprintf("%s %s, %d in pool",
					st.Inventory.ScannedAt.Local().Format("2006-01-02 15:04"), plural(st.Inventory.Total, "skill"), st.Inventory.InPool))
			}
			return nil
		},
	}
}
