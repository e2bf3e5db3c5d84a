// Skymirror keeps a live local mirror of a cloud camera account.
//
// It logs in, opens the event channel, discovers the account's devices
// and then tracks their state for as long as the process runs. The
// mirrored state is served to host integrations over a local HTTP API
// and WebSocket feed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/reedholm/skymirror/internal/api"
	"github.com/reedholm/skymirror/internal/hub"
	"github.com/reedholm/skymirror/internal/infrastructure/config"
	"github.com/reedholm/skymirror/internal/infrastructure/logging"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting skymirror",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	mirror := hub.New(cfg, log.With("component", "hub"))

	server := api.New(api.Deps{
		Config: cfg.API,
		Logger: log.With("component", "api"),
		Mirror: mirror,
	})
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing api server", "error", closeErr)
		}
	}()

	// Run blocks until the context is cancelled.
	if err := mirror.Run(ctx); err != nil {
		return fmt.Errorf("running mirror: %w", err)
	}

	log.Info("skymirror stopped")
	return nil
}

// getConfigPath returns the configuration file path, preferring the
// SKYMIRROR_CONFIG environment variable.
func getConfigPath() string {
	if path := os.Getenv("SKYMIRROR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
