// Package cmd provides the CLI commands for catchat.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/catchat-dev/catchat/internal/appdir"
	"github.com/catchat-dev/catchat/internal/config"
	"github.com/catchat-dev/catchat/internal/logging"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
	// cfgPath is where the configuration was (or would be) read from.
	cfgPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "catchat",
	Short: "catchat - chat-driven video generation client",
	Long: `catchat is a command-line client for a video generation service.

It keeps a persistent chat channel to the server, streams generation
progress into the conversation, and stores every session locally so you
can switch between conversations at any time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create catchat directory: %w", err)
		}

		var err error
		if configPath != "" {
			cfgPath = configPath
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
			}
		} else {
			cfgPath, err = config.DefaultConfigPath()
			if err != nil {
				return err
			}
			cfg, err = config.LoadOrDefault(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
		}

		return initLogging()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// initLogging wires the flags and the config file into the logging setup.
// Flags win over the config file.
func initLogging() error {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	} else if debug {
		level = "debug"
	}

	file := cfg.Logging.File
	if logFile != "" {
		file = logFile
	}
	var fileLog *logging.FileLogConfig
	if file != "" {
		fl := logging.DefaultFileLogConfig()
		fl.Path = file
		fileLog = &fl
	}

	componentSpec := cfg.Logging.Components
	if logComponents != "" {
		componentSpec = logComponents
	}
	var components []string
	for _, c := range strings.Split(componentSpec, ",") {
		if c = strings.TrimSpace(c); c != "" {
			components = append(components, c)
		}
	}

	if err := logging.Initialize(logging.Config{
		Level:      level,
		FileLog:    fileLog,
		JSON:       cfg.Logging.JSON,
		Components: components,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (overrides CATCHATRC and settings.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'channel,store'). Empty means all components.")
}
