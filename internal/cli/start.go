package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fern-network/fern/internal/daemon"
)

func init() {
	startCmd.Flags().StringVar(&startSecretPath, "secret", "", "Path to a 32-byte secret key file (overrides config)")
	rootCmd.AddCommand(startCmd)
}

var startSecretPath string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Fern daemon",
	Long:  `Start the guest command core and HTTP control API, and block until shutdown.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if startSecretPath != "" {
		cfg.Node.SecretKeyPath = startSecretPath
	}

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(context.Background())
}
