// Package cmd is the proxydesk command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/proxydesk/pkg/authflow"
	"github.com/lkarlslund/proxydesk/pkg/backend"
	"github.com/lkarlslund/proxydesk/pkg/cache"
	"github.com/lkarlslund/proxydesk/pkg/config"
	"github.com/lkarlslund/proxydesk/pkg/logutil"
	"github.com/lkarlslund/proxydesk/pkg/pages"
	"github.com/lkarlslund/proxydesk/pkg/session"
	"github.com/lkarlslund/proxydesk/pkg/version"
)

var errNotLoggedIn = errors.New("not logged in, run `proxydesk login` first")

// app is the state shared by all commands of one invocation.
type app struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

// Execute runs the command line. Interrupts cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "proxydesk",
		Short:         "Admin console for a multi-provider LLM proxy",
		Long:          "proxydesk manages billing rules, settings, prepaid cards, users, provider keys, auth groups and OAuth credentials of an LLM proxy.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.init(cmd)
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", config.DefaultConfigPath(), "Config TOML path")
	pf.StringVar(&a.envFile, "env-file", ".env", "Optional .env file loaded before reading the config")
	pf.StringVar(&a.logLevel, "loglevel", "", "Log level (trace, debug, info, warn, error, fatal)")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format (text, json, logfmt)")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.configCmd(),
		a.serveCmd(),
		a.versionCmd(),
		a.authFilesCmd(),
		a.exportCmd(),
	)
	for _, name := range crudPages {
		root.AddCommand(a.pageCmd(name))
	}
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if err := logutil.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// session loads the stored session. Commands that talk to the backend
// refuse to run without one.
func (a *app) session() (session.Session, error) {
	s, err := session.Load(a.cfg.SessionPath)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return s, errNotLoggedIn
		}
		return s, err
	}
	if !s.LoggedIn() {
		return s, errNotLoggedIn
	}
	return s, nil
}

func (a *app) client(token string, anonymous bool) (*backend.Client, error) {
	return backend.New(backend.Options{
		BaseURL:        a.cfg.ServerURL,
		Token:          token,
		Timeout:        a.cfg.RequestTimeout(),
		MaxRetries:     a.cfg.MaxRetries,
		Logger:         logutil.New("backend"),
		AllowAnonymous: anonymous,
	})
}

// pages builds the page controllers for the stored session. Notifications
// go to stderr so stdout stays machine readable.
func (a *app) pages(ctx context.Context, cmd *cobra.Command) (*pages.Set, session.Session, error) {
	s, err := a.session()
	if err != nil {
		return nil, s, err
	}
	c, err := a.client(s.Token(), false)
	if err != nil {
		return nil, s, err
	}
	errOut := cmd.ErrOrStderr()
	return pages.NewSet(pages.Deps{
		Session:  s,
		Client:   c,
		Logger:   logutil.New("pages"),
		PageSize: a.cfg.PageSize,
		Debounce: a.cfg.SearchDebounce(),
		Context:  ctx,
		Notify: func(page, msg string) {
			fmt.Fprintf(errOut, "%s: %s\n", page, msg)
		},
	}), s, nil
}

func (a *app) flowOptions() []authflow.Option {
	return []authflow.Option{
		authflow.WithPollInterval(a.cfg.PollInterval()),
		authflow.WithReconcileConcurrency(a.cfg.ReconcileConcurrency),
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print proxydesk version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed("proxydesk"))
		},
	}
}
