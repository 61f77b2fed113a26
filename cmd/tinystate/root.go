package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tinystate/internal/config"
	"github.com/aretw0/tinystate/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tinystate",
	Short: "tinystate drives hierarchical state machines",
	Long: `tinystate is a hierarchical finite-state-machine engine with composite
states, message/timeout command states and error outcomes. The CLI runs and
inspects a demo order workflow.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}

		loaded, err := config.Load(files...)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel, _ = cmd.Flags().GetString("log-level")
		}
		level, err := loaded.Level()
		if err != nil {
			return err
		}

		cfg = loaded
		logger = logging.New(level)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("env-file", "", "Load settings from this dotenv file instead of .env")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error); overrides TINYSTATE_LOG_LEVEL")
}
