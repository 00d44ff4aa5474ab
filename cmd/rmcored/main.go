// rmcored is the resource manager broker daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"rmcore/broker"
	"rmcore/config"
	"rmcore/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	b, err := broker.New(cfg)
	if err != nil {
		logger.Error("broker startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("rmcored starting",
		"version", broker.Version, "listen", cfg.Listen, "data_dir", cfg.DataDir)

	serveErr := b.Serve(ctx)

	logger.Info("rmcored shutting down")
	if err := b.Close(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if serveErr != nil {
		logger.Error("broker exited with error", "error", serveErr)
		os.Exit(1)
	}
}
