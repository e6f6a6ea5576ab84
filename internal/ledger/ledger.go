// Package ledger reads a user's trade history, either from the local database
// or from a remote ledger service.
package ledger

import (
	"context"
	"fmt"

	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ledger returns all trades of a user, ascending by execution time.
type Ledger interface {
	TradesForUser(ctx context.Context, userID string) ([]models.Trade, error)
}

// New builds the ledger selected by cfg.Source.
func New(cfg config.Ledger, db *gorm.DB, logger *zap.Logger) (Ledger, error) {
	switch cfg.Source {
	case "", "db":
		return NewStore(db), nil
	case "rest":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("ledger.base_url is required for the rest ledger")
		}
		return NewRestClient(&cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown ledger source %q", cfg.Source)
	}
}
