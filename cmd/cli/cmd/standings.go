package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var standingsCmd = &cobra.Command{
	Use:   "standings",
	Short: "Show the model leaderboard",
	Long:  `Display ELO standings built from arena votes, best first.`,
	RunE:  runStandings,
}

func init() {
	rootCmd.AddCommand(standingsCmd)
}

func runStandings(cmd *cobra.Command, args []string) error {
	var result struct {
		Standings []Rating `json:"standings"`
	}
	if err := apiGet("/api/v1/standings", &result); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(result)
	}

	if len(result.Standings) == 0 {
		fmt.Println("No votes recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tMODEL\tSCORE\tGAMES\tWINS\tLOSSES\tTIES\tBOTH BAD")
	fmt.Fprintln(w, "----\t-----\t-----\t-----\t----\t------\t----\t--------")

	for i, r := range result.Standings {
		fmt.Fprintf(w, "%d\t%s\t%.0f\t%d\t%d\t%d\t%d\t%d\n",
			i+1,
			r.ModelID,
			r.Score,
			r.Games,
			r.Wins,
			r.Losses,
			r.Ties,
			r.BothBad,
		)
	}
	w.Flush()

	return nil
}
