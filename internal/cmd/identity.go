package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/catchat-dev/catchat/internal/identity"
)

var identityRefresh bool

// identityCmd represents the identity command
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the client identity",
	Long: `Show the client identity used to route progress events.

The identity is sent as the "code" query parameter when the channel
connects. Note that every connect generates a fresh identity anyway;
--refresh only forces one now.`,
	RunE: runIdentity,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.Flags().BoolVar(&identityRefresh, "refresh", false, "Generate a fresh identity")
}

func runIdentity(cmd *cobra.Command, args []string) error {
	backend, err := openState()
	if err != nil {
		return fmt.Errorf("failed to open state storage: %w", err)
	}
	defer backend.Close()

	provider := identity.NewProvider(backend)
	var token string
	if identityRefresh {
		token, err = provider.Refresh()
	} else {
		token, err = provider.Current()
	}
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
