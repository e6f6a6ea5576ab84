package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session statuses. A session leaves SessionQueued exactly once.
const (
	SessionQueued = "queued"
	SessionReady  = "ready"
	SessionFailed = "failed"
)

// Session is a persisted what-if calculation request.
type Session struct {
	ID              string              `gorm:"primaryKey;size:36"`
	UserID          string              `gorm:"index;size:64;not null"`
	Method          string              `gorm:"size:16;not null"`
	LotOrder        []string            `gorm:"serializer:json"`
	Status          string              `gorm:"index;size:16;not null"`
	ShortTermGain   decimal.NullDecimal `gorm:"type:varchar(64)"`
	LongTermGain    decimal.NullDecimal `gorm:"type:varchar(64)"`
	TotalGain       decimal.NullDecimal `gorm:"type:varchar(64)"`
	Error           string
	CancelRequested bool `gorm:"not null;default:false"`
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

// Terminal reports whether the session has reached ready or failed.
func (s *Session) Terminal() bool {
	return s.Status == SessionReady || s.Status == SessionFailed
}
