package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server"
	"github.com/dmitrijs2005/vaultnode/internal/server/config"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logging.NewConsoleZap(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app, err := server.NewApp(ctx, cfg, logging.NewZapLogger(zl))
	if err != nil {
		zl.Fatal("failed to initialize node", zap.Error(err))
	}
	if err := app.Run(ctx); err != nil {
		zl.Fatal("node stopped", zap.Error(err))
	}
}
