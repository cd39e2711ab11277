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
		Use:   "gamebridge",
		Short: "Message bridge between a UI host and an embedded game engine",
		Long: `gamebridge runs the host side of a UI/engine message channel.

Messages are routed by named target and method, batched per frame,
rate-limited per method, and carried over a chunked binary protocol
with optional compression and delta-encoded payload streams.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		benchCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
