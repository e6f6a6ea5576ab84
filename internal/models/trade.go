package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one execution recorded in a user's trade ledger.
// A positive Quantity is an acquisition, a negative one a disposal.
type Trade struct {
	ID         string          `gorm:"primaryKey;size:64" json:"id"`
	UserID     string          `gorm:"index:idx_trades_user_time;size:64;not null" json:"userId"`
	Asset      string          `gorm:"size:32" json:"asset"`
	Quantity   decimal.Decimal `gorm:"type:varchar(64);not null" json:"quantity"`
	PriceUSD   decimal.Decimal `gorm:"type:varchar(64);not null" json:"priceUsd"`
	FeeUSD     decimal.Decimal `gorm:"type:varchar(64);not null" json:"feeUsd"`
	ExecutedAt time.Time       `gorm:"index:idx_trades_user_time;not null" json:"executedAt"`
	CreatedAt  time.Time       `json:"-"`
}

// IsAcquisition reports whether the trade adds to the position.
func (t Trade) IsAcquisition() bool {
	return t.Quantity.IsPositive()
}

// IsDisposal reports whether the trade reduces the position.
func (t Trade) IsDisposal() bool {
	return t.Quantity.IsNegative()
}
