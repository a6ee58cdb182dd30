package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vango-dev/servermanager/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┌─┐┬─┐┬  ┬┌─┐┬─┐┌┬┐┌─┐┌┐┌┌─┐┌─┐┌─┐┬─┐
  └─┐├┤ ├┬┘└┐┌┘├┤ ├┬┘│││├─┤│││├─┤│ ┬├┤ ├┬┘
  └─┘└─┘┴└─ └┘ └─┘┴└─┴ ┴┴ ┴┘└┘┴ ┴└─┘└─┘┴└─
`

func main() {
	if err := rootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var noColor bool

	root := &cobra.Command{
		Use:   "servermanager",
		Short: "Self-hosted application server with HTTP and WebSocket transports",
		Long: `servermanager hosts a single application behind two transports:
batched HTTP POST polling and persistent WebSocket connections.

It brings up the configured database, cache and access-log backends
before accepting traffic, keeps sessions and broadcast groups, and
flushes the application cache to durable storage on a timer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
				errors.DisableColors()
			}
		},
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		serveCmd(),
		checkCmd(),
		initCmd(),
		versionCmd(),
	)
	return root
}

func printBanner() {
	fmt.Print(banner)
}

var (
	successMark = color.New(color.FgGreen).Sprint("✓")
	warnMark    = color.New(color.FgYellow).Sprint("⚠")
)

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("%s %s\n", successMark, fmt.Sprintf(format, args...))
}

// info prints an indented info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

func warn(format string, args ...any) {
	fmt.Printf("%s %s\n", warnMark, fmt.Sprintf(format, args...))
}
