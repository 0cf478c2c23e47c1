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

func main() {
	rootCmd := &cobra.Command{
		Use:   "coachcall-edge",
		Short: "The CoachCall edge server",
		Long: `coachcall-edge is the single origin the CoachCall web app talks to.

It renders page shells with session hydration, proxies /api to the
backend with cookie rewriting, runs live sessions over WebSocket,
and stores avatar uploads.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
