package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/halozone/internal/config"
	"github.com/rudransh-shrivastava/halozone/internal/logger"
	"github.com/rudransh-shrivastava/halozone/internal/store"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "halozone",
	Short:        "nearby peer discovery, ranging and one-shot messaging",
	Long:         `halozone coordinates discovery, discovery-token exchange, ranging and a one-shot message exchange between nearby devices`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.FileName, "path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path (overrides db_path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(blockedCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(identityCmd)
}

// setup loads the config with flag overrides and builds the logger.
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg.Merge(dbPath, logLevel)

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewLogger()
	log.SetLevel(level)
	return cfg, log, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.DBPath, err)
	}
	return st, nil
}
