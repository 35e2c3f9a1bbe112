package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var askSessionID string

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Submit a prompt to the arena",
	Long: `Submit a prompt. Arena queries return two anonymized responses to
vote on; tool-requiring queries return a single answer. Pass --session to
continue an existing conversation.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVarP(&askSessionID, "session", "s", "", "Session ID to continue (omit for a new session)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	request := map[string]string{"prompt": args[0]}
	if askSessionID != "" {
		request["session_id"] = askSessionID
	}

	var result QueryResponse
	if err := apiPost("/api/v1/queries", request, &result); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(result)
	}

	if result.Path == "tool" {
		fmt.Printf("Session: %s (tool path, no vote)\n\n", result.SessionID)
		fmt.Println(result.Response.Text)
		return nil
	}

	fmt.Printf("Session: %s  Turn: %d\n", result.SessionID, result.Turn)
	for _, r := range result.Responses {
		fmt.Printf("\n=== Response %s ===\n", r.Label)
		if r.Note != "" {
			fmt.Printf("(%s)\n", r.Note)
		}
		fmt.Println(r.Text)
	}
	fmt.Printf("\nVote with: arena vote %s <a_wins|b_wins|tie|both_bad>\n", result.SessionID)
	return nil
}
