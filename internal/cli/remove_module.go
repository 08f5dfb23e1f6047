package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(removeModuleCmd)
}

var removeModuleCmd = &cobra.Command{
	Use:   "remove-module NAME",
	Short: "Remove a guest",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoveModule,
}

func runRemoveModule(cmd *cobra.Command, args []string) error {
	name := args[0]

	client := localhostClient()
	result, err := client.RemoveGuest(context.Background(), name)
	if err != nil {
		return err
	}

	fmt.Println(result.Message)
	return nil
}
