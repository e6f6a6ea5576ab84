package ledger

import (
	"context"
	"fmt"
	"slices"

	"gains-sandbox-go/internal/models"

	"gorm.io/gorm"
)

// Store is a Ledger backed by the trades table.
type Store struct {
	db *gorm.DB
}

// ensure Store implements the interface
var _ Ledger = (*Store)(nil)

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// TradesForUser returns the user's trades, oldest first.
func (s *Store) TradesForUser(ctx context.Context, userID string) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("executed_at asc, id asc").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load trades for user %s: %w", userID, err)
	}
	return trades, nil
}

// Record appends trades to the ledger. Recorded trades are never updated.
func (s *Store) Record(ctx context.Context, trades ...models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	trades = slices.Clone(trades)
	for i := range trades {
		// executed_at is compared as text by SQLite
		trades[i].ExecutedAt = trades[i].ExecutedAt.UTC()
	}
	if err := s.db.WithContext(ctx).Create(&trades).Error; err != nil {
		return fmt.Errorf("failed to record trades: %w", err)
	}
	return nil
}
