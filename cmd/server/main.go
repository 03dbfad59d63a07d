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
)

func main() {
	var opts serveOptions

	rootCmd := &cobra.Command{
		Use:   "sketch",
		Short: "Realtime room-based drawing relay",
		Long: `Sketch relays draw operations between the members of a room over
WebSocket and keeps each room's history for undo, redo and replay on join.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	bindServeFlags(rootCmd, &opts)

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
