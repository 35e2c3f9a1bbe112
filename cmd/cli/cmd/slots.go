package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var slotsCmd = &cobra.Command{
	Use:   "slots",
	Short: "Show GPU slot occupancy",
	Long:  `Display which models are loaded into GPU slots and who is pinning them.`,
	RunE:  runSlots,
}

func init() {
	rootCmd.AddCommand(slotsCmd)
}

func runSlots(cmd *cobra.Command, args []string) error {
	var status SchedulerStatus
	if err := apiGet("/api/v1/slots", &status); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(status)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tMODEL\tREFS\tLAST USED")
	fmt.Fprintln(w, "----\t-----\t----\t---------")

	for _, s := range status.Slots {
		model := s.ModelID
		if model == "" {
			model = "(free)"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n",
			s.Index,
			model,
			s.RefCount,
			s.LastUsed,
		)
	}
	w.Flush()

	fmt.Printf("\nWaiters: %d  Swaps: %d  Evictions: %d\n",
		status.Waiters, status.Swaps, status.Evictions)
	return nil
}
