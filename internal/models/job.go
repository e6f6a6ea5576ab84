package models

import "time"

// Job statuses.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobDead    = "dead"
)

// Job is one queued calculation for a session. Delivery is at-least-once:
// a running job whose claim expires goes back to pending.
type Job struct {
	ID          uint   `gorm:"primaryKey"`
	SessionID   string `gorm:"index;size:36;not null"`
	UserID      string `gorm:"size:64;not null"`
	Method      string `gorm:"size:16;not null"`
	Status      string `gorm:"index:idx_jobs_status_created;size:16;not null"`
	Attempts    int    `gorm:"not null;default:0"`
	MaxAttempts int    `gorm:"not null;default:3"`
	ClaimedAt   *time.Time
	LastError   string
	CreatedAt   time.Time `gorm:"index:idx_jobs_status_created"`
	UpdatedAt   time.Time
}
