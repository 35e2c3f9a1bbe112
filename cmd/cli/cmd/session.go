package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session <id>",
	Short: "Show an arena session",
	Long:  `Display a session's state, turn count, and vote count.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSession,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	var view SessionView
	if err := apiGet("/api/v1/sessions/"+args[0], &view); err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(view)
	}

	fmt.Printf("Session:     %s\n", view.ID)
	fmt.Printf("State:       %s\n", view.State)
	fmt.Printf("Turn:        %d\n", view.Turn)
	fmt.Printf("Votes:       %d\n", view.Votes)
	fmt.Printf("Created:     %s\n", view.CreatedAt)
	fmt.Printf("Last active: %s\n", view.LastActive)
	return nil
}
