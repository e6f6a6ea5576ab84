package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"gains-sandbox-go/internal/api"
	"gains-sandbox-go/internal/app"
	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/logger"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	if cfg.Notify.Backend != "postgres" && !cfg.Worker.Embedded {
		log.Warn("In-memory notifications only reach workers in this process; results from external workers are only visible by polling")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize sandbox", zap.Error(err))
	}
	defer a.Close()

	var workers sync.WaitGroup
	if cfg.Worker.Embedded {
		pool := a.WorkerPool()
		workers.Add(1)
		go func() {
			defer workers.Done()
			pool.Run(ctx)
		}()
	}

	server := api.NewServer(cfg.Server, a.Manager, a.Ledger, a.Bus, log)
	server.Start()

	<-ctx.Done()
	log.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	workers.Wait()

	log.Info("Sandbox API has been shut down.")
}
