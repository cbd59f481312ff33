package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/ethmiss/missmonitor/service"
)

func run(ctx *cli.Context) error {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogging(cfg.LogLevel, cfg.LogJSON)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Received shutdown signal, stopping")
		cancel()
	}()

	registry := prometheus.NewRegistry()
	monitor, err := service.New(rootCtx, cfg, registry)
	if err != nil {
		return fmt.Errorf("build monitor: %w", err)
	}

	return monitor.Run(rootCtx)
}

// setupLogging installs the default logger per the configured level and
// format, switching between a human-readable terminal handler and a JSON
// handler for production log shipping.
func setupLogging(level string, asJSON bool) {
	lvl := parseLevel(level)
	var handler slog.Handler
	if asJSON {
		handler = log.JSONHandlerWithLevel(os.Stderr, lvl)
	} else {
		handler = log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)
	}
	log.SetDefault(log.NewLogger(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "info":
		return log.LevelInfo
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit", "critical":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}
