package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vango-dev/servermanager/internal/config"
)

func checkCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration",
		Long: `Load and validate the configuration without starting anything.

Environment overrides (SM_* and PORT) are applied as they would be by
serve. On success the effective settings are printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigFile, "Config file (YAML or JSON)")

	return cmd
}

func printSummary(w io.Writer, cfg *config.Config) {
	source := cfg.Path()
	if source == "" {
		source = "(defaults)"
	}
	fmt.Fprintf(w, "%s configuration is valid\n", successMark)
	fmt.Fprintf(w, "  Source:     %s\n", source)
	fmt.Fprintf(w, "  Address:    %s\n", cfg.Address())
	fmt.Fprintf(w, "  Web root:   %s\n", cfg.Web.Root)
	fmt.Fprintf(w, "  Transports: post=%t websocket=%t\n", !cfg.Web.DisablePost, cfg.Web.WebSocket)
	fmt.Fprintf(w, "  Database:   %s\n", cfg.Server.Database)
	fmt.Fprintf(w, "  Cache:      %s (every %s)\n", cfg.Cache.Format, cfg.CacheInterval())
	fmt.Fprintf(w, "  Log:        %s\n", cfg.Log.Format)
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "  Metrics:    %s\n", cfg.Metrics.Path)
	}
	if cfg.Server.Watch {
		fmt.Fprintf(w, "  Watching:   %d file(s), delay %s\n", len(cfg.Server.Files), cfg.WatchDelay())
	}
}
