// Command server runs the riskflow decisioning pipeline and its HTTP API.
package main

import (
	"context"
	"os"

	"github.com/mbd888/riskflow/internal/config"
	"github.com/mbd888/riskflow/internal/logging"
	"github.com/mbd888/riskflow/internal/server"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	format := "json"
	if cfg.IsDevelopment() {
		format = "text"
	}
	logger := logging.New(cfg.LogLevel, format)

	logger.Info("starting riskflow",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"env", cfg.Env,
		"partitions", cfg.Partitions,
		"queue_size", cfg.QueueSize,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
