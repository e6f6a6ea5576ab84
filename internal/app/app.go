// Package app wires the sandbox components from configuration.
package app

import (
	"context"
	"fmt"

	"gains-sandbox-go/internal/audit"
	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/database"
	"gains-sandbox-go/internal/gains"
	"gains-sandbox-go/internal/ledger"
	"gains-sandbox-go/internal/notify"
	"gains-sandbox-go/internal/queue"
	"gains-sandbox-go/internal/session"
	"gains-sandbox-go/internal/worker"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds the components shared by the api and worker binaries.
type App struct {
	Config   config.Config
	DB       *gorm.DB
	Ledger   ledger.Ledger
	Bus      notify.Bus
	Queue    *queue.DBQueue
	Sessions *session.GormStore
	Audit    *audit.Recorder
	Manager  *session.Manager
	Engine   *gains.Engine

	logger *zap.Logger
}

// New opens the database and builds every component.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	policy, err := gains.ParseOversoldPolicy(cfg.Gains.OversoldPolicy)
	if err != nil {
		return nil, err
	}
	eligibility, err := gains.ParseLotEligibility(cfg.Gains.LotEligibility)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection successful and schema migrated.", zap.String("driver", cfg.Database.Driver))

	l, err := ledger.New(cfg.Ledger, db, logger)
	if err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	bus, err := notify.New(ctx, cfg.Notify, cfg.Database, logger)
	if err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to create notify bus: %w", err)
	}

	a := &App{
		Config:   cfg,
		DB:       db,
		Ledger:   l,
		Bus:      bus,
		Queue:    queue.NewDBQueue(db, cfg.Worker.MaxAttempts),
		Sessions: session.NewGormStore(db),
		Audit:    audit.NewRecorder(db, logger),
		Engine:   &gains.Engine{Oversold: policy, Eligibility: eligibility},
		logger:   logger,
	}
	a.Manager = session.NewManager(a.Sessions, a.Queue, bus, a.Audit, cfg.Admission, logger)
	return a, nil
}

// WorkerPool builds a pool over the app's queue and stores.
func (a *App) WorkerPool() *worker.Pool {
	return worker.NewPool(a.Config.Worker, a.Queue, a.Sessions, a.Ledger, a.Engine, a.Bus, a.Audit, a.logger)
}

// Close releases the bus and the database.
func (a *App) Close() {
	if err := a.Bus.Close(); err != nil {
		a.logger.Warn("Failed to close notify bus", zap.Error(err))
	}
	if err := database.Close(a.DB); err != nil {
		a.logger.Warn("Failed to close database", zap.Error(err))
	}
}
