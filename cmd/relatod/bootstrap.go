package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"relato/internal/config"
	"relato/internal/daemon"
	"relato/internal/logging"
)

func run() error {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	cfg, resolvedPath, exists, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if !exists && *configPath != "" {
		return fmt.Errorf("config file not found: %s", resolvedPath)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	if !exists {
		logger.Warn("no config file found, using defaults",
			logging.String("path", resolvedPath))
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	d.Stop()
	return nil
}
