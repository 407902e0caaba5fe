package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/proxydesk/pkg/listing"
	"github.com/lkarlslund/proxydesk/pkg/pages"
)

var crudPages = []string{"billing-rules", "settings", "prepaid-cards", "users", "provider-keys", "auth-groups"}

type enabler interface {
	SetEnabled(ctx context.Context, ids []int64, enabled bool) error
}

// readPayload returns the JSON given with --data, or read from --file ("-"
// is stdin).
func readPayload(cmd *cobra.Command, data, file string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case data != "":
		raw = []byte(data)
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, fmt.Errorf("pass the entity as --data '<json>' or --file <path>")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return raw, nil
}

func (a *app) page(cmd *cobra.Command, name string) (pages.Page, error) {
	set, _, err := a.pages(cmd.Context(), cmd)
	if err != nil {
		return nil, err
	}
	return set.Get(name)
}

func (a *app) pageCmd(name string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("List and edit %s", strings.ReplaceAll(name, "-", " ")),
	}

	var (
		text    string
		groups  string
		pageNum int
		filters map[string]string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Show one page of rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.page(cmd, name)
			if err != nil {
				return err
			}
			view, err := p.View(cmd.Context(), pages.Query{
				Text:   text,
				Groups: listing.ParseIDs(groups),
				Extra:  filters,
				Page:   pageNum,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	list.Flags().StringVarP(&text, "query", "q", "", "Search text")
	list.Flags().StringVar(&groups, "group", "", "Comma separated group ids")
	list.Flags().IntVar(&pageNum, "page", 1, "Page number")
	list.Flags().StringToStringVar(&filters, "filter", nil, "Page specific filter, e.g. --filter mode=per_token")

	var data, file string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a row from JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(cmd, data, file)
			if err != nil {
				return err
			}
			p, err := a.page(cmd, name)
			if err != nil {
				return err
			}
			out, err := p.CreateJSON(cmd.Context(), raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	if name == "prepaid-cards" {
		create.Short = `Generate a batch of cards, e.g. --data '{"count":10,"amount":5}'`
	}
	create.Flags().StringVar(&data, "data", "", "Entity JSON")
	create.Flags().StringVar(&file, "file", "", "File with entity JSON, - for stdin")

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a row from JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(cmd, data, file)
			if err != nil {
				return err
			}
			p, err := a.page(cmd, name)
			if err != nil {
				return err
			}
			out, err := p.UpdateJSON(cmd.Context(), args[0], raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	update.Flags().StringVar(&data, "data", "", "Entity JSON")
	update.Flags().StringVar(&file, "file", "", "File with entity JSON, - for stdin")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.page(cmd, name)
			if err != nil {
				return err
			}
			return p.Delete(cmd.Context(), args[0])
		},
	}
	cmd.AddCommand(list, create, update, del)

	if name == "billing-rules" || name == "provider-keys" {
		for _, enabled := range []bool{true, false} {
			use := "enable"
			if !enabled {
				use = "disable"
			}
			cmd.AddCommand(&cobra.Command{
				Use:   use + " <id>...",
				Short: fmt.Sprintf("%s several rows at once", strings.ToUpper(use[:1])+use[1:]),
				Args:  cobra.MinimumNArgs(1),
				RunE: func(cmd *cobra.Command, args []string) error {
					ids := listing.ParseIDs(strings.Join(args, ","))
					if len(ids) != len(args) {
						return fmt.Errorf("ids must be positive integers")
					}
					p, err := a.page(cmd, name)
					if err != nil {
						return err
					}
					e, ok := p.(enabler)
					if !ok {
						return pages.ErrUnsupported
					}
					return e.SetEnabled(cmd.Context(), ids, enabled)
				},
			})
		}
	}
	return cmd
}
