// Command casewatch runs the portal monitoring service: the adaptive
// scheduler, the prioritized job pipeline, the browser pool and the HTTP
// control surface, in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/app"
	"github.com/litigio/casefile-monitor/internal/config"
	"github.com/litigio/casefile-monitor/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("fatal error", zap.Error(err))
		return 1
	}
	return 0
}
