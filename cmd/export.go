package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/proxydesk/pkg/export"
)

func (a *app) exportCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export <page>",
		Short: "Write every row of a page to a zstd compressed JSON Lines file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.page(cmd, args[0])
			if err != nil {
				return err
			}
			rows, err := p.Export(cmd.Context())
			if err != nil {
				return err
			}
			path := outPath
			if path == "" {
				path = p.Name() + ".jsonl.zst"
			}
			n, err := export.WriteFile(path, rows)
			if err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d %s rows to %s\n", n, p.Name(), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default <page>.jsonl.zst)")
	return cmd
}
