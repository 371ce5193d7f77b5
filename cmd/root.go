// Package cmd implements the pocali command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yawon3/pocali-backend/internal/config"
	"github.com/yawon3/pocali-backend/internal/logging"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pocali",
	Short: "Photocard collection backend",
	Long: `pocali serves a photocard catalog assembled from image filenames,
together with per-user collections, friend lists and an admin upload page.

Run "pocali serve" to start the HTTP server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if configPath == "" {
			configPath = config.FindConfigFile()
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if configPath != "" {
			logging.Debug().Str("path", configPath).Msg("config loaded")
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file (default: search pocali.yaml, ~/.config/pocali/config.yaml)")
}
