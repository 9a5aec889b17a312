package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swang430/skills-pool/pkg/config"
	"github.com/swang430/skills-pool/pkg/ecosystem"
	"github.com/swang430/skills-pool/pkg/errors"
)

func newEcosystemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ecosystem",
		Short: "Show or edit which ecosystems are followed and granted",
		Long: `Sources are imported only when their ecosystem is followed. Agents receive
links only when their ecosystem is granted. Without flags the current
policy is shown.

--follow and --grant replace the whole set; pass "none" for an empty set,
which lets nothing through.`,
		Args: cobra.NoArgs,
		RunE: runEcosystem,
	}
	cmd.Flags().String("follow", "", "comma-separated ecosystems to follow")
	cmd.Flags().String("grant", "", "comma-separated ecosystems to grant")
	cmd.Flags().Bool("reset", false, "restore the default policy")
	cmd.MarkFlagsMutuallyExclusive("reset", "follow")
	cmd.MarkFlagsMutuallyExclusive("reset", "grant")
	return cmd
}

func runEcosystem(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	reset, _ := flags.GetBool("reset")

	if reset || flags.Changed("follow") || flags.Changed("grant") {
		err := editConfig(func(c *config.Config) error {
			if reset {
				c.Ecosystem = ecosystem.DefaultPolicy()
				return nil
			}
			if flags.Changed("follow") {
				v, _ := flags.GetString("follow")
				c.Ecosystem.Follow = nonNil(ecosystem.SplitCSV(v))
			}
			if flags.Changed("grant") {
				v, _ := flags.GetString("grant")
				c.Ecosystem.Grant = nonNil(ecosystem.SplitCSV(v))
			}
			c.Ecosystem = c.Ecosystem.Normalized()
			c.Ecosystem.Follow = nonNil(c.Ecosystem.Follow)
			c.Ecosystem.Grant = nonNil(c.Ecosystem.Grant)
			return nil
		})
		if err != nil {
			return err
		}
	}

	rows := ecosystem.Status(Cfg.Ecosystem)
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), struct {
			Policy ecosystem.Policy       `json:"policy"`
			Rows   []ecosystem.StatusRow `json:"ecosystems"`
		}{Cfg.Ecosystem, rows})
	}

	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		name := r.Name
		if r.Custom {
			name = mutedStyle.Render("custom")
		}
		out = append(out, []string{r.ID, name, string(r.Kind), yesNo(r.Followed), yesNo(r.Granted), r.Note})
	}
	table(cmd.OutOrStdout(), []string{"ID", "NAME", "KIND", "FOLLOWED", "GRANTED", "NOTE"}, out)
	return nil
}

// nonNil keeps an emptied set as an explicit empty list in the file, so it
// is not mistaken for an absent one.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func newProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Show or edit the proxy used for git fetches",
		Args:  cobra.NoArgs,
		RunE:  runProxy,
	}
	cmd.Flags().String("set", "", "proxy URL, e.g. http://127.0.0.1:7890")
	cmd.Flags().String("no-proxy", "", "comma-separated hosts that bypass the proxy")
	cmd.Flags().Bool("clear", false, "remove the proxy settings")
	cmd.MarkFlagsMutuallyExclusive("clear", "set")
	cmd.MarkFlagsMutuallyExclusive("clear", "no-proxy")
	return cmd
}

func runProxy(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	clearAll, _ := flags.GetBool("clear")

	if clearAll || flags.Changed("set") || flags.Changed("no-proxy") {
		proxyURL, _ := flags.GetString("set")
		if flags.Changed("set") {
			if err := validateProxy(proxyURL); err != nil {
				return err
			}
		}
		err := editConfig(func(c *config.Config) error {
			if clearAll {
				c.Network = config.Network{}
				return nil
			}
			if flags.Changed("set") {
				c.Network.ProxyURL = strings.TrimSpace(proxyURL)
			}
			if flags.Changed("no-proxy") {
				v, _ := flags.GetString("no-proxy")
				c.Network.NoProxy = strings.ReplaceAll(strings.TrimSpace(v), " ", "")
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), struct {
			ProxyURL string `json:"proxy_url"`
			NoProxy  string `json:"no_proxy"`
		}{Cfg.Network.ProxyURL, Cfg.Network.NoProxy})
	}
	w := cmd.OutOrStdout()
	if Cfg.Network.ProxyURL == "" {
		fmt.Fprintln(w, "proxy:    "+mutedStyle.Render("none"))
	} else {
		fmt.Fprintln(w, "proxy:    "+Cfg.Network.ProxyURL)
	}
	if Cfg.Network.NoProxy != "" {
		fmt.Fprintln(w, "no_proxy: "+Cfg.Network.NoProxy)
	}
	return nil
}

func validateProxy(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf(errors.ErrInvalidInput, "invalid proxy URL %q", raw)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
		return nil
	}
	return errors.Newf(errors.ErrInvalidInput, "unsupported proxy scheme %q", u.Scheme)
}
