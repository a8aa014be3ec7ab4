package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/catchat-dev/catchat/internal/config"
)

var configForce bool

// defaultSettings is the settings file written by `config create`.
const defaultSettings = `# catchat settings
channel:
  # WebSocket endpoint for the progress channel (required).
  endpoint: "wss://localhost:9943/ws"
  keepalive_interval: "30s"
  reconnect_base: "3s"
  reconnect_multiplier: 1.5
  max_reconnect_attempts: 5

api:
  # REST base for job control and file lookups.
  base_url: "https://localhost:9943/api"
  requests_per_second: 5
  burst: 10

chat:
  endpoint: "https://api.deepseek.com/v1/chat/completions"
  # Leave empty to run with canned offline replies.
  api_key: ""
  model: "deepseek-chat"
  temperature: 0.7
  max_tokens: 2000

# Durable state backend: "file" or "sqlite".
storage: "file"

logging:
  level: "info"
  file: ""
  json: false
  components: ""
`

// configCmd represents the config parent command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage catchat configuration",
}

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a default settings file",
	Long: `Create a default settings file.

The file is written to the path catchat reads settings from: the
CATCHATRC environment variable when set, otherwise settings.yaml in the
catchat data directory. Review and customize it afterwards; at minimum
channel.endpoint must point at your server.`,
	RunE: runConfigCreate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Settings file: %s\n\n", cfgPath)
		fmt.Printf("channel.endpoint:       %s\n", cfg.Channel.Endpoint)
		fmt.Printf("channel.keepalive:      %s\n", cfg.Channel.KeepaliveInterval)
		fmt.Printf("channel.reconnect:      base %s, x%.1f, max %d attempts\n",
			cfg.Channel.ReconnectBase, cfg.Channel.ReconnectMultiplier, cfg.Channel.MaxReconnectAttempts)
		fmt.Printf("api.base_url:           %s\n", cfg.API.BaseURL)
		fmt.Printf("chat.endpoint:          %s\n", cfg.Chat.Endpoint)
		fmt.Printf("chat.model:             %s\n", cfg.Chat.Model)
		fmt.Printf("storage:                %s\n", cfg.Storage)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCreateCmd)
	configCmd.AddCommand(configShowCmd)

	configCreateCmd.Flags().BoolVarP(&configForce, "force", "f", false,
		"Overwrite an existing settings file")
}

func runConfigCreate(cmd *cobra.Command, args []string) error {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("settings file already exists at %s (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(defaultSettings), 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	fmt.Printf("Created %s\n", path)
	return nil
}
