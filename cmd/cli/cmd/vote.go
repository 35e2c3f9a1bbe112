package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var voteCmd = &cobra.Command{
	Use:   "vote <session> <outcome>",
	Short: "Vote on the pending pair",
	Long: `Cast the verdict for a session's pending response pair and reveal
which models were behind the labels. Outcome is one of a_wins, b_wins,
tie, both_bad.`,
	Args: cobra.ExactArgs(2),
	RunE: runVote,
}

func init() {
	rootCmd.AddCommand(voteCmd)
}

func runVote(cmd *cobra.Command, args []string) error {
	sessionID, outcome := args[0], args[1]

	var result VoteReply
	path := fmt.Sprintf("/api/v1/sessions/%s/vote", sessionID)
	if err := apiPost(path, map[string]string{"outcome": outcome}, &result); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(result)
	}

	fmt.Printf("Vote recorded for turn %d: %s\n\n", result.Turn, result.Outcome)
	fmt.Printf("  A was %s\n", result.Revealed.A)
	fmt.Printf("  B was %s\n", result.Revealed.B)
	return nil
}
