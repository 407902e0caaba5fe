package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/proxydesk/pkg/console"
	"github.com/lkarlslund/proxydesk/pkg/logutil"
	"github.com/lkarlslund/proxydesk/pkg/pages"
)

func (a *app) serveCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local console API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen-addr") {
				a.cfg.ListenAddr = listenAddr
			}
			s, err := a.session()
			if err != nil {
				return err
			}
			c, err := a.client(s.Token(), false)
			if err != nil {
				return err
			}
			ring := logutil.NewRing(1000)
			logutil.SetOutputTee(ring)
			defer logutil.SetOutputTee(nil)

			ctx := cmd.Context()
			srv := console.New(console.Options{
				Deps: pages.Deps{
					Session:  s,
					Client:   c,
					Logger:   logutil.New("pages"),
					PageSize: a.cfg.PageSize,
					Debounce: a.cfg.SearchDebounce(),
					Context:  ctx,
				},
				Logs:        ring,
				FlowOptions: a.flowOptions(),
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "Console for %s on http://%s\n", displayName(s), a.cfg.ListenAddr)
			return srv.Run(ctx, a.cfg.ListenAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:8090)")
	return cmd
}
