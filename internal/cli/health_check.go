package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(healthCheckCmd)
}

var healthCheckCmd = &cobra.Command{
	Use:   "health-check",
	Short: "Check whether the Fern daemon's API is reachable",
	RunE:  runHealthCheck,
}

func runHealthCheck(cmd *cobra.Command, args []string) error {
	client := localhostClient()
	if client.HealthCheck(context.Background()) {
		fmt.Println("ONLINE")
		return nil
	}
	fmt.Println("OFFLINE")
	return nil
}
