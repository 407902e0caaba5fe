package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/proxydesk/pkg/authflow"
	"github.com/lkarlslund/proxydesk/pkg/backend"
	"github.com/lkarlslund/proxydesk/pkg/listing"
	"github.com/lkarlslund/proxydesk/pkg/pages"
	"github.com/lkarlslund/proxydesk/pkg/task"
)

const defaultFlowTimeout = 10 * time.Minute

var errFlowTimeout = errors.New("timed out waiting for authorization")

func (a *app) authFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "auth-files",
		Aliases: []string{"credentials"},
		Short:   "Manage OAuth credential records",
	}
	cmd.AddCommand(a.authFilesListCmd(), a.authTypesCmd(), a.authNewCmd(), a.authCallbackCmd())

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a credential record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _, err := a.pages(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			return set.AuthFiles.Delete(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-group <id> <group-id>",
		Short: "Move a credential record to an auth group (0 clears it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || gid < 0 {
				return fmt.Errorf("group id must be a non-negative integer")
			}
			set, _, err := a.pages(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			if err := set.AuthFiles.SetGroup(cmd.Context(), args[0], gid); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s moved to group %d\n", args[0], gid)
			return nil
		},
	})
	return cmd
}

func (a *app) authFilesListCmd() *cobra.Command {
	var (
		text, groups, typ, status string
		pageNum                   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show one page of credential records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _, err := a.pages(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			extra := map[string]string{}
			if typ != "" {
				extra["type"] = typ
			}
			if status != "" {
				extra["status"] = status
			}
			view, err := set.AuthFiles.View(cmd.Context(), pages.Query{
				Text:   text,
				Groups: listing.ParseIDs(groups),
				Extra:  extra,
				Page:   pageNum,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().StringVarP(&text, "query", "q", "", "Search text")
	cmd.Flags().StringVar(&groups, "group", "", "Comma separated auth group ids")
	cmd.Flags().StringVar(&typ, "type", "", "Only records of this provider type")
	cmd.Flags().StringVar(&status, "status", "", "enabled or disabled")
	cmd.Flags().IntVar(&pageNum, "page", 1, "Page number")
	return cmd
}

func (a *app) authTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the auth types this session may start",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _, err := a.pages(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range set.AuthFiles.AuthTypes() {
				kind := "oauth"
				if t.Cookie {
					kind = "cookie"
				}
				fmt.Fprintf(out, "%-14s %-12s %s\n", t.Key, kind, t.Label)
			}
			return nil
		},
	}
}

// flowWatch turns flow hooks into channels the command can wait on.
type flowWatch struct {
	changed   chan struct{}
	refreshed chan struct{}
	once      sync.Once
}

func newFlowWatch() *flowWatch {
	return &flowWatch{changed: make(chan struct{}, 1), refreshed: make(chan struct{})}
}

func (w *flowWatch) hooks(out io.Writer) pages.FlowHooks {
	return pages.FlowHooks{
		Notify: func(msg string) { fmt.Fprintln(out, msg) },
		OnChange: func(authflow.View) {
			select {
			case w.changed <- struct{}{}:
			default:
			}
		},
		Refreshed: func() { w.once.Do(func() { close(w.refreshed) }) },
	}
}

func (a *app) authNewCmd() *cobra.Command {
	var (
		group    int64
		cookie   string
		callback string
		noInput  bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "new <type>",
		Short: "Start an authorization flow and wait for the new credential",
		Long: "Prints the authorization URL and polls until the provider reports success. " +
			"If the browser cannot reach the redirect, paste the callback URL on stdin or pass --callback. " +
			"Cookie types take --cookie or read the cookie from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _, err := a.pages(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			watch := newFlowWatch()
			f := set.AuthFiles.NewFlow(watch.hooks(errOut), a.flowOptions()...)
			defer f.Close()

			if err := set.AuthFiles.StartFlow(cmd.Context(), f, args[0]); err != nil {
				return err
			}
			if group > 0 {
				if err := f.SetTargetGroup(group); err != nil {
					return err
				}
			}
			reader := bufio.NewReader(cmd.InOrStdin())

			if f.Session().Cookie {
				if cookie == "" && !noInput {
					cookie, _ = promptLine(reader, errOut, "Cookie: ")
				}
				if err := f.SubmitCookie(cmd.Context(), cookie); err != nil {
					return err
				}
				return printJSON(out, f.Session())
			}

			u, err := f.Commit()
			if err != nil {
				return err
			}
			fmt.Fprintf(errOut, "Open this URL to authorize:\n\n  %s\n\n", u)
			if callback != "" {
				if err := f.SubmitCallback(cmd.Context(), callback); err != nil {
					return err
				}
			} else if !noInput {
				fmt.Fprintln(errOut, "Waiting for authorization. Paste the callback URL here if the redirect fails.")
				go pasteCallbacks(cmd.Context(), reader, f, errOut)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := waitFlow(ctx, f, watch); err != nil {
				return err
			}
			return printJSON(out, f.Session())
		},
	}
	cmd.Flags().Int64Var(&group, "group", 0, "Move the new credential into this auth group")
	cmd.Flags().StringVar(&cookie, "cookie", "", "Cookie value for cookie based types")
	cmd.Flags().StringVar(&callback, "callback", "", "Callback URL copied from the browser")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "Do not read from stdin")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultFlowTimeout, "Give up after this long")
	return cmd
}

func pasteCallbacks(ctx context.Context, reader *bufio.Reader, f *authflow.Flow, errOut io.Writer) {
	for ctx.Err() == nil {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			if serr := f.SubmitCallback(ctx, line); serr != nil {
				fmt.Fprintf(errOut, "callback rejected: %v\n", serr)
			}
		}
		if err != nil {
			return
		}
	}
}

// waitFlow blocks until the flow reaches ok (and its list refresh ran) or
// error.
func waitFlow(ctx context.Context, f *authflow.Flow, w *flowWatch) error {
	for {
		v := f.Session()
		switch v.Status {
		case authflow.StatusOK:
			select {
			case <-w.refreshed:
			case <-ctx.Done():
			}
			return nil
		case authflow.StatusError:
			return fmt.Errorf("authorization failed: %s", v.LastError)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errFlowTimeout
			}
			return ctx.Err()
		case <-w.changed:
		}
	}
}

// authCallbackCmd finishes an authorization whose callback was captured
// elsewhere, without a local flow.
func (a *app) authCallbackCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "callback <type> <callback-url>",
		Short: "Submit a copied callback URL and wait for the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, ok := authflow.LookupAuthType(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", authflow.ErrUnknownAuthType, args[0])
			}
			if typ.Cookie {
				return fmt.Errorf("%s takes a cookie, use `auth-files new %s`", typ.Key, typ.Key)
			}
			cb, err := authflow.ParseCallback(args[1])
			if err != nil {
				return err
			}
			if cb.State == "" {
				return authflow.ErrMissingState
			}
			if cb.Code == "" && cb.Error == "" {
				return authflow.ErrMissingCodeOrError
			}
			s, err := a.session()
			if err != nil {
				return err
			}
			if !s.Can(http.MethodPost, backend.PathOAuthCallback) {
				return pages.ErrForbidden
			}
			c, err := a.client(s.Token(), false)
			if err != nil {
				return err
			}
			if err := c.SubmitOAuthCallback(cmd.Context(), backend.OAuthCallback{
				Provider:    typ.Provider,
				RedirectURL: cb.RedirectURL,
				Code:        cb.Code,
				State:       cb.State,
				Error:       cb.Error,
			}); err != nil {
				return fmt.Errorf("submit callback: %s", backend.Message(err))
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			st, err := pollStatus(ctx, c, cb.State, a.cfg.PollInterval())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s authentication %s\n", typ.Label, st)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long")
	return cmd
}

// pollStatus polls the auth status of state until it settles.
func pollStatus(ctx context.Context, c *backend.Client, state string, interval time.Duration) (string, error) {
	type result struct {
		status string
		err    error
	}
	done := make(chan result, 1)
	r := task.Start(ctx, interval, func(ctx context.Context) {
		st, err := c.AuthStatus(ctx, state)
		if err != nil {
			return
		}
		var res result
		switch st.Status {
		case backend.StatusOK:
			res.status = "succeeded"
		case backend.StatusError:
			msg := st.Error
			if msg == "" {
				msg = "authentication failed"
			}
			res.err = errors.New(msg)
		default:
			return
		}
		select {
		case done <- res:
		default:
		}
	})
	defer r.Stop()
	select {
	case res := <-done:
		return res.status, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errFlowTimeout
		}
		return "", ctx.Err()
	}
}
