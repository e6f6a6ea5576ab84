package ledger

import (
	"context"
	"testing"
	"time"

	"gains-sandbox-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Trade{}))
	return db
}

func TestStore_TradesForUser(t *testing.T) {
	db := setupDB(t)
	store := NewStore(db)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := store.Record(ctx,
		models.Trade{ID: "s1", UserID: "u1", Asset: "BTC", Quantity: decimal.NewFromInt(-1), PriceUSD: decimal.RequireFromString("40000.25"), FeeUSD: decimal.NewFromInt(2), ExecutedAt: base.AddDate(0, 5, 0)},
		models.Trade{ID: "b1", UserID: "u1", Asset: "BTC", Quantity: decimal.RequireFromString("0.123456789"), PriceUSD: decimal.NewFromInt(30000), FeeUSD: decimal.NewFromInt(5), ExecutedAt: base},
		models.Trade{ID: "x1", UserID: "u2", Asset: "ETH", Quantity: decimal.NewFromInt(3), PriceUSD: decimal.NewFromInt(2000), FeeUSD: decimal.Zero, ExecutedAt: base},
	)
	require.NoError(t, err)

	trades, err := store.TradesForUser(ctx, "u1")

	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "b1", trades[0].ID)
	assert.Equal(t, "s1", trades[1].ID)
	assert.Equal(t, "0.123456789", trades[0].Quantity.String())
	assert.Equal(t, "40000.25", trades[1].PriceUSD.String())
	assert.True(t, trades[0].ExecutedAt.Equal(base))
}

func TestStore_TradesForUnknownUser(t *testing.T) {
	store := NewStore(setupDB(t))

	trades, err := store.TradesForUser(context.Background(), "nobody")

	assert.NoError(t, err)
	assert.Empty(t, trades)
}
