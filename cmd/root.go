package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/leafwalk/internal/config"
)

var (
	logLevel   string
	configPath string
	dataDir    string
	logger     *slog.Logger
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "leafwalk",
	Short: "Leaf value estimation with a damped gradient walker",
	Long: `leafwalk fits the leaf values of a decision tree fragment by walking
gradient or Newton steps, optionally backtracking until each step lowers the
loss. A mayfly optimizer is available as a derivative-free baseline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Logging.Level = logLevel
		}
		if cmd.Flags().Changed("data-dir") {
			loaded.DataDir = dataDir
		}

		level, err := loaded.Logging.SlogLevel()
		if err != nil {
			return err
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)

		cfg = loaded
		slog.Debug("Configuration loaded", "path", configPath, "data_dir", cfg.DataDir)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "leafwalk.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for saved runs")
}

func requireConfig() (*config.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}
