package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"})
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"})
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"})
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"})
	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// configureColor drops styling when w is not a terminal, such as when
// output is piped or captured.
func configureColor(w io.Writer) {
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

// interactive reports whether the command reads from and writes to a
// terminal, which is when prompts may be shown.
func interactive(cmd *cobra.Command) bool {
	in, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(in) {
		return false
	}
	out, ok := cmd.OutOrStdout().(*os.File)
	return ok && isTerminal(out)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func header(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf(format, args...)))
}

func section(w io.Writer, title string) {
	fmt.Fprintln(w, sectionStyle.Render(title))
}

// line prints one indented "label  detail" row with the label styled.
func line(w io.Writer, style lipgloss.Style, label, detail string) {
	if detail == "" {
		fmt.Fprintf(w, "  %s\n", style.Render(label))
		return
	}
	fmt.Fprintf(w, "  %s %s\n", style.Render(label), detail)
}

// table renders rows with left-aligned columns padded to the widest cell.
func table(w io.Writer, head []string, rows [][]string) {
	widths := make([]int, len(head))
	for i, h := range head {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i, c := range r {
			if i < len(widths) && lipgloss.Width(c) > widths[i] {
				widths[i] = lipgloss.Width(c)
			}
		}
	}
	render := func(cells []string, style *lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			pad := lipgloss.NewStyle().Width(widths[i])
			if style != nil {
				pad = pad.Inherit(*style)
			}
			parts[i] = pad.Render(c)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	render(head, &headerStyle)
	for _, r := range rows {
		render(r, nil)
	}
}

func yesNo(b bool) string {
	if b {
		return okStyle.Render("yes")
	}
	return mutedStyle.Render("no")
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
