package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/proxydesk/pkg/cache"
	"github.com/lkarlslund/proxydesk/pkg/pages"
	"github.com/lkarlslund/proxydesk/pkg/session"
)

const tokenEnv = "PROXYDESK_TOKEN"

func promptLine(reader *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := reader.ReadString('\n')
	if err != nil && len(line) == 0 {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) loginCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an admin token and the permissions it grants",
		Long:  "Resolves the token against the admin API and stores the session. The token is read from --token, $PROXYDESK_TOKEN or stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			token = strings.TrimSpace(token)
			if token == "" {
				token = strings.TrimSpace(os.Getenv(tokenEnv))
			}
			if token == "" {
				line, err := promptLine(bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr(), "Admin token: ")
				if err != nil {
					return fmt.Errorf("read token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return fmt.Errorf("token cannot be empty")
			}
			c, err := a.client(token, false)
			if err != nil {
				return err
			}
			me, err := c.Me(cmd.Context())
			if err != nil {
				return fmt.Errorf("resolve token: %w", err)
			}
			s := session.New(session.Stored{
				Token:        token,
				Username:     me.Username,
				IsSuperAdmin: me.IsSuperAdmin,
				Permissions:  me.Permissions,
			})
			if err := session.Save(a.cfg.SessionPath, s); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s).\n", displayName(s), describeRole(s))
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Admin token")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cache.RemoveJSON(a.cfg.SessionPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func displayName(s session.Session) string {
	if s.Username() == "" {
		return "unknown user"
	}
	return s.Username()
}

func describeRole(s session.Session) string {
	if s.IsSuperAdmin() {
		return "super admin"
	}
	return fmt.Sprintf("%d permissions", len(s.Stored().Permissions))
}

func (a *app) whoamiCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session and the pages it may open",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, s, err := a.pages(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				st := s.Stored()
				st.Token = ""
				return printJSON(out, map[string]any{"session": st, "pages": set.Visible(), "server_url": a.cfg.ServerURL})
			}
			fmt.Fprintf(out, "User:   %s (%s)\n", displayName(s), describeRole(s))
			fmt.Fprintf(out, "Server: %s\n", a.cfg.ServerURL)
			fmt.Fprintln(out, "Pages:")
			for _, name := range set.Names() {
				p, _ := set.Get(name)
				act := p.Actions()
				if !act.View && !act.Create {
					continue
				}
				fmt.Fprintf(out, "  %-14s %s\n", name, actionList(act))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func actionList(act pages.Actions) string {
	var parts []string
	for _, a := range []struct {
		ok   bool
		name string
	}{{act.View, "view"}, {act.Create, "create"}, {act.Update, "update"}, {act.Delete, "delete"}, {act.Batch, "batch"}} {
		if a.ok {
			parts = append(parts, a.name)
		}
	}
	return strings.Join(parts, ", ")
}
