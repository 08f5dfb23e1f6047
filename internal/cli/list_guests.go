package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listGuestsCmd)
}

var listGuestsCmd = &cobra.Command{
	Use:     "list-guests",
	Aliases: []string{"ls"},
	Short:   "List every guest the daemon currently supervises",
	RunE:    runListGuests,
}

func runListGuests(cmd *cobra.Command, args []string) error {
	client := localhostClient()

	guests, err := client.ListGuests(context.Background())
	if err != nil {
		return err
	}

	if len(guests) == 0 {
		fmt.Println("No guests running.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENDPOINT\tMODULE HASH")
	for _, g := range guests {
		fmt.Fprintf(w, "%s\t%s\t%s\n", g.Name, g.EndpointID, g.ModuleHash)
	}
	return w.Flush()
}
