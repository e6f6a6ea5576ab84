// Package session creates what-if sessions and tracks them to a terminal state.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gains-sandbox-go/internal/gains"
	"gains-sandbox-go/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrValidation is returned for a request with a missing user or an unknown method.
	ErrValidation = errors.New("invalid session request")
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrRateLimited is returned when a user creates sessions too quickly.
	ErrRateLimited = errors.New("too many session requests")
)

// CancelledMessage is the failure message of a cancelled session.
const CancelledMessage = "session cancelled"

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	// Complete moves a queued session to status and reports whether this call
	// performed the transition.
	Complete(ctx context.Context, id, status string, summary *gains.Summary, errMsg string) (bool, error)
	// RequestCancel flags a queued session for cancellation.
	RequestCancel(ctx context.Context, id string) error
}

// GormStore implements Store on the sessions table.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, sess *models.Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("failed to create session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return &sess, nil
}

// Complete is a conditional update on status = queued, so concurrent callers
// see exactly one transition.
func (s *GormStore) Complete(ctx context.Context, id, status string, summary *gains.Summary, errMsg string) (bool, error) {
	if status != models.SessionReady && status != models.SessionFailed {
		return false, fmt.Errorf("invalid terminal status %q", status)
	}

	updates := map[string]any{
		"status":       status,
		"error":        errMsg,
		"completed_at": time.Now().UTC(),
	}
	if summary != nil {
		updates["short_term_gain"] = decimal.NewNullDecimal(summary.ShortTermGain)
		updates["long_term_gain"] = decimal.NewNullDecimal(summary.LongTermGain)
		updates["total_gain"] = decimal.NewNullDecimal(summary.TotalGain)
	}

	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", id, models.SessionQueued).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete session %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) RequestCancel(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", id, models.SessionQueued).
		Update("cancel_requested", true).Error
	if err != nil {
		return fmt.Errorf("failed to cancel session %s: %w", id, err)
	}
	return nil
}

// SummaryOf returns the persisted summary of a ready session, or nil.
func SummaryOf(s *models.Session) *gains.Summary {
	if s.Status != models.SessionReady || !s.TotalGain.Valid {
		return nil
	}
	return &gains.Summary{
		ShortTermGain: s.ShortTermGain.Decimal,
		LongTermGain:  s.LongTermGain.Decimal,
		TotalGain:     s.TotalGain.Decimal,
	}
}
