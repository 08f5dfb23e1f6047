// Package cli implements Fern's command-line interface using Cobra: one
// subcommand per server lifecycle and guest-management operation.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fern",
	Short: "Fern — a distributed WASM guest runtime",
	Long: `Fern runs user-supplied WebAssembly modules as long-lived,
addressable participants on a peer-to-peer overlay.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
