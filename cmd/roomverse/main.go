package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┬─┐┌─┐┌─┐┌┬┐┬  ┬┌─┐┬─┐┌─┐┌─┐
  ├┬┘│ ││ │││││  │├┤ ├┬┘└─┐├┤
  ┴└─└─┘└─┘┴ ┴└┘└┘└─┘┴└─└─┘└─┘
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomverse",
		Short: "Shared-room presence and voice-mesh server",
		Long: `Roomverse keeps a shared room in sync: who is present, where
they stand, and which voice links should exist between them.

The server owns the authoritative participant registry and pushes a
full snapshot to every client after each change. Clients mirror the
snapshot as smoothed shadow entities and keep a WebRTC audio mesh
converged on the same participant set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		joinCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// printBanner prints the roomverse ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}
