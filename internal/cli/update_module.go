package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(updateModuleCmd)
}

var updateModuleCmd = &cobra.Command{
	Use:   "update-module NAME MODULE_PATH",
	Short: "Hot-swap an existing guest's module",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpdateModule,
}

func runUpdateModule(cmd *cobra.Command, args []string) error {
	name, modulePath := args[0], args[1]

	module, err := os.ReadFile(modulePath)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}

	client := localhostClient()
	result, err := client.UpdateGuest(context.Background(), name, module)
	if err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("update failed: %s", result.Error)
	}
	fmt.Printf("Updated guest %s (module hash %s, previous %s)\n", name, result.ModuleHash, result.PreviousHash)
	return nil
}
