package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/app"
	appcfg "github.com/park285/cheese-chess-server/internal/config"
	"github.com/park285/cheese-chess-server/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init_error", zap.Error(err))
	}

	runErr := deps.Run(ctx)
	if runErr != nil {
		logger.Error("server_error", zap.Error(runErr))
	}
	if err := deps.Close(); err != nil {
		logger.Warn("shutdown_error", zap.Error(err))
	}
	logger.Info("server_stopped")
	if runErr != nil {
		obslog.Sync()
		log.Fatal(runErr)
	}
}
