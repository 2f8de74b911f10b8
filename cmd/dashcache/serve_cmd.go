package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dashcache/dashcache/internal/monitor"
	"github.com/dashcache/dashcache/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor and its HTTP API",
	Long: `Start the cache engine, telemetry and scheduled reports, and serve the
HTTP API until interrupted.`,
	Example: `  # Serve with defaults on localhost:8080
  dashcache serve

  # Serve on all interfaces
  DASHCACHE_API_ADDRESS=:8080 dashcache serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := monitor.New(cfg, nil)
	if err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		_ = m.Close(context.Background())
		return err
	}

	api.Version = Version
	server := api.NewServer(api.ServerConfigFrom(cfg), m)
	server.StartBackground()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		m.Logger().Warn("API shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	return m.Close(shutdownCtx)
}
