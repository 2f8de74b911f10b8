package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dashcache/dashcache/internal/config"
)

// Version is set at build time.
var Version = "dev"

var global struct {
	ConfigFile string
	LogLevel   string
	APIAddr    string
	Output     string
}

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#42E7FF"))

var rootCmd = &cobra.Command{
	Use:   "dashcache",
	Short: "Adaptive dashboard cache with performance telemetry",
	Long: `dashcache caches dashboard resources with adaptive TTLs and records load,
render and error telemetry for reports, budgets and A/B analysis.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: validateGlobalFlags,
	Example: `  # Run the service with a config file
  dashcache serve --config dashcache.yaml

  # Drive a synthetic workload and print the daily report
  dashcache simulate --requests 500

  # Fetch the weekly report from a running service as CSV
  dashcache report --period weekly --output csv`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&global.ConfigFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&global.LogLevel, "log-level", "", "Override the log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&global.APIAddr, "api", "localhost:8080", "Address of a running dashcache API")
	rootCmd.PersistentFlags().StringVarP(&global.Output, "output", "o", "text", "Output format (text, json, csv)")
}

func validateGlobalFlags(cmd *cobra.Command, args []string) error {
	switch global.Output {
	case "text", "json", "csv":
	default:
		return fmt.Errorf("invalid output format: %s (must be one of: text, json, csv)", global.Output)
	}
	return nil
}

// loadConfig reads the config file and environment, then applies flag
// overrides.
func loadConfig() (*config.Configuration, error) {
	cfg, err := config.Load(global.ConfigFile)
	if err != nil {
		return nil, err
	}
	if global.LogLevel != "" {
		cfg.Global.LogLevel = global.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
