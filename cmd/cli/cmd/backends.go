package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List registered model backends",
	Long:  `Display the backend catalog with live health state.`,
	RunE:  runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	var result struct {
		Backends []BackendStatus `json:"backends"`
	}
	if err := apiGet("/api/v1/backends", &result); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(result)
	}

	if len(result.Backends) == 0 {
		fmt.Println("No backends registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTIER\tHEALTH\tFAILS\tLAST ERROR")
	fmt.Fprintln(w, "--\t----\t----\t------\t-----\t----------")

	for _, b := range result.Backends {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			b.Backend.ID,
			b.Backend.Name,
			b.Backend.Tier,
			b.Health,
			b.ConsecFails,
			truncateString(b.LastError, 40),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d backends\n", len(result.Backends))
	return nil
}

// truncateString shortens long cell values for table display
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
