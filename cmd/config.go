package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/lkarlslund/proxydesk/pkg/config"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the proxydesk config",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := toml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", a.configPath, b)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadOrCreate(a.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config at %s\n", a.configPath)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one config value and save",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreate(a.configPath)
			if err != nil {
				return err
			}
			store := config.NewStore(a.configPath, cfg)
			if err := store.Update(func(c *config.Config) error {
				return setConfigValue(c, args[0], args[1])
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Saved.")
			return nil
		},
	})
	return cmd
}

func setConfigValue(c *config.Config, key, value string) error {
	value = strings.TrimSpace(value)
	atoi := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be an integer", key)
		}
		*dst = n
		return nil
	}
	switch strings.ReplaceAll(strings.ToLower(key), "-", "_") {
	case "server_url":
		c.ServerURL = value
	case "session_path":
		c.SessionPath = value
	case "listen_addr":
		c.ListenAddr = value
	case "page_size":
		return atoi(&c.PageSize)
	case "poll_interval_ms":
		return atoi(&c.PollIntervalMS)
	case "search_debounce_ms":
		return atoi(&c.SearchDebounceMS)
	case "request_timeout_seconds":
		return atoi(&c.RequestTimeoutSecond)
	case "max_retries":
		return atoi(&c.MaxRetries)
	case "reconcile_concurrency":
		return atoi(&c.ReconcileConcurrency)
	case "log_level":
		c.LogLevel = value
	case "log_format":
		c.LogFormat = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
