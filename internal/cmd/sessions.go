package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/catchat-dev/catchat/internal/store"
)

// sessionsCmd represents the sessions parent command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversation sessions",
	Long: `Manage the conversation sessions stored on this machine.

Sessions are created and switched from inside the chat, but can be
inspected and cleaned up from here.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func openStore() (*store.Store, func(), error) {
	backend, err := openState()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state storage: %w", err)
	}
	st := store.New(backend)
	if err := st.Load(); err != nil {
		backend.Close()
		return nil, nil, err
	}
	return st, func() { backend.Close() }, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	st, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	current := st.CurrentID()
	for _, s := range st.Sessions() {
		marker := " "
		if s.ID == current {
			marker = "*"
		}
		created := time.UnixMilli(s.CreatedAt).Format("2006-01-02 15:04")
		fmt.Printf("%s %s  %-23s %s  (%d messages)\n", marker, s.ID, s.Title, created, len(s.Messages))
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	st, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	if err := st.DeleteSession(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s. Active session is now %s.\n", args[0], st.CurrentID())
	return nil
}
