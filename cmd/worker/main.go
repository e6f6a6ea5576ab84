package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gains-sandbox-go/internal/app"
	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Database.Driver != "postgres" {
		log.Warn("Standalone workers share the queue through the database; sqlite only works when every process opens the same file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize sandbox", zap.Error(err))
	}
	defer a.Close()

	a.WorkerPool().Run(ctx)
	log.Info("Worker has been shut down.")
}
