package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vango-dev/servermanager/pkg/manager"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		port       int
		host       string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the server with the echo application.

Backends are brought up in parallel; the transports accept traffic once
the access log is ready, and the application starts once everything is.
SIGINT or SIGTERM flushes the cache and shuts down.

Examples:
  servermanager serve
  servermanager serve --config deploy/servermanager.yaml
  servermanager serve --port=9000 --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Web.Port = port
			}
			if host != "" {
				cfg.Web.Host = host
			}
			if watch {
				cfg.Server.Watch = true
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			m, err := manager.New(cfg, echoApp{}, manager.WithLogger(logger))
			if err != nil {
				return err
			}

			printBanner()
			fmt.Println()
			info("listening on %s", cfg.Address())
			fmt.Println()
			return m.Run(context.Background())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigFile, "Config file (YAML or JSON)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides web.port)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (overrides web.host)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reload the application when server.files change")

	return cmd
}
