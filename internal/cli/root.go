// Package cli implements the power-status command-line interface using Cobra.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/power-state/internal/collector"
	"github.com/cptspacemanspiff/power-state/internal/config"
	"github.com/cptspacemanspiff/power-state/internal/monitor"
)

var (
	configPath string
	sourceName string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "power-status",
	Short: "Report AC line status, battery status and battery level",
	Long: `power-status reads the host power state and prints it, either once or
every time it changes.

Examples:
  # Print the current state
  power-status status

  # Ask the running daemon instead of querying locally
  power-status status --daemon

  # Print changes as they happen
  power-status watch --interval 2s`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&sourceName, "source", "", "power source (auto, sysfs, upower, battery, kernel32); overrides the config")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log source selection and query failures")
}

// Execute runs the root command. Called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if sourceName != "" {
		override := *cfg
		override.Monitor.Source = sourceName
		if cfg, err = config.NormalizeAndValidate(&override); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openMonitor returns the shared monitor for auto-detection, or a dedicated
// one for an explicitly named source.
func openMonitor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*monitor.Monitor, error) {
	if cfg.Monitor.Source == "auto" {
		slog.SetDefault(logger)
		return monitor.Default(), nil
	}
	src, err := collector.ByName(ctx, cfg.Monitor.Source, logger)
	if err != nil {
		return nil, fmt.Errorf("open power source: %w", err)
	}
	return monitor.New(src, logger), nil
}
