package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/filesync/internal/config"
	"github.com/vertextoedge/filesync/internal/logger"
)

const version = "0.1.0"

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "filesync",
	Short: "Incrementally sync files from local, S3, GCS and Synology sources",
	Long: `filesync copies new and modified files from configured sources into a
local destination. Each stream keeps a cursor state (a bounded history of
synced files plus a cursor value) so that later runs only read what changed.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "filesync", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and initializes logging for every command
// except version and shell completion
func setup(cmd *cobra.Command, args []string) error {
	if cmd == versionCmd || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
		return nil
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg = loaded

	if err := logger.Init(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.GetZapLogger().Debug("configuration loaded",
		zap.String("version", version),
		zap.String("config", configPath),
		zap.Int("streams", len(cfg.Streams)),
	)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
