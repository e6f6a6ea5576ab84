package app

import (
	"context"
	"testing"
	"time"

	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() config.Config {
	return config.Config{
		Database:  config.Database{Driver: "sqlite", DSN: "file::memory:"},
		Ledger:    config.Ledger{Source: "db"},
		Worker:    config.Worker{Concurrency: 2, PollInterval: 5 * time.Millisecond, MaxAttempts: 3},
		Gains:     config.Gains{OversoldPolicy: "zero_basis"},
		Notify:    config.Notify{Backend: "memory"},
		Admission: config.Admission{},
	}
}

func TestApp_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	// Sells more than was bought; the zero_basis policy realizes the rest.
	require.NoError(t, a.DB.Create(&[]models.Trade{
		{ID: "b1", UserID: "u1", Asset: "BTC", Quantity: decimal.NewFromInt(1), PriceUSD: decimal.NewFromInt(100), FeeUSD: decimal.Zero, ExecutedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "s1", UserID: "u1", Asset: "BTC", Quantity: decimal.NewFromInt(-2), PriceUSD: decimal.NewFromInt(150), FeeUSD: decimal.Zero, ExecutedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}).Error)

	done := make(chan struct{})
	go func() {
		a.WorkerPool().Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	sess, err := a.Manager.CreateSession(ctx, "u1", "FIFO", nil)
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	got, err := a.Manager.Await(waitCtx, sess.ID, 10*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, models.SessionReady, got.Status)
	assert.Equal(t, "200", got.TotalGain.Decimal.String())
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Gains.OversoldPolicy = "ignore"
	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Gains.LotEligibility = "later"
	_, err = New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Ledger.Source = "rest"
	_, err = New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
