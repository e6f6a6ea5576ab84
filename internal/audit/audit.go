// Package audit records session lifecycle events.
package audit

import (
	"context"
	"encoding/json"

	"gains-sandbox-go/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actions written by the session pipeline.
const (
	ActionSessionStart    = "process_session_start"
	ActionSessionComplete = "process_session_complete"
	ActionSessionFailed   = "process_session_failed"
	ActionSessionCancel   = "process_session_cancel"
)

// Recorder writes audit rows. Failures are logged and never returned: an
// audit outage must not fail a calculation.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(db *gorm.DB, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, logger: logger.Named("audit")}
}

// Record stores one event for userID with meta encoded as JSON.
func (r *Recorder) Record(ctx context.Context, userID, action string, meta map[string]any) {
	raw := []byte("{}")
	if len(meta) > 0 {
		var err error
		raw, err = json.Marshal(meta)
		if err != nil {
			r.logger.Warn("Failed to encode audit metadata", zap.String("action", action), zap.Error(err))
			raw = []byte("{}")
		}
	}

	entry := models.AuditLog{UserID: userID, Action: action, MetaJSON: string(raw)}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		r.logger.Error("Failed to write audit log",
			zap.String("user_id", userID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// ForUser returns the audit rows of userID, oldest first.
func (r *Recorder) ForUser(ctx context.Context, userID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id asc").Find(&logs).Error
	return logs, err
}
