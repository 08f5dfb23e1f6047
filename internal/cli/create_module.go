package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(createModuleCmd)
}

var createModuleCmd = &cobra.Command{
	Use:   "create-module NAME MODULE_PATH",
	Short: "Create a new guest from a compiled WebAssembly module",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreateModule,
}

func runCreateModule(cmd *cobra.Command, args []string) error {
	name, modulePath := args[0], args[1]

	module, err := os.ReadFile(modulePath)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}

	client := localhostClient()
	result, err := client.CreateGuest(context.Background(), name, module)
	if err != nil {
		return err
	}

	fmt.Printf("Created guest %s with endpoint %s\n", name, result.EndpointID)
	return nil
}
