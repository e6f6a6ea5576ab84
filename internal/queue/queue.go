// Package queue is a durable, at-least-once work queue stored in the database.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gains-sandbox-go/internal/models"

	"gorm.io/gorm"
)

var (
	// ErrEmpty is returned by Claim when no job is pending.
	ErrEmpty = errors.New("queue empty")
	// ErrStaleClaim is returned by Ack and Nack when the claim expired and the
	// job was reclaimed or delivered again.
	ErrStaleClaim = errors.New("job claim no longer held")
)

// Queue hands out jobs to workers. A claimed job that is neither acked nor
// nacked within the claim timeout is delivered again.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	Claim(ctx context.Context) (*models.Job, error)
	Ack(ctx context.Context, job *models.Job) error
	Nack(ctx context.Context, job *models.Job, cause error) (dead bool, err error)
	ReclaimExpired(ctx context.Context, claimTimeout time.Duration) (dead []models.Job, err error)
	ExpirePending(ctx context.Context, maxWait time.Duration) ([]models.Job, error)
}

// claimAttempts bounds how often Claim retries after losing a race.
const claimAttempts = 5

// DBQueue implements Queue on the jobs table. Claims are conditional updates,
// so several processes may share one table.
type DBQueue struct {
	db          *gorm.DB
	maxAttempts int
	now         func() time.Time
}

var _ Queue = (*DBQueue)(nil)

// NewDBQueue creates a queue; maxAttempts applies to jobs enqueued without one.
func NewDBQueue(db *gorm.DB, maxAttempts int) *DBQueue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &DBQueue{
		db:          db,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores job as pending and fills in its ID.
func (q *DBQueue) Enqueue(ctx context.Context, job *models.Job) error {
	job.ID = 0
	job.Status = models.JobPending
	job.Attempts = 0
	job.ClaimedAt = nil
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.maxAttempts
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}
	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to enqueue job for session %s: %w", job.SessionID, err)
	}
	return nil
}

// Claim marks the oldest pending job as running and returns it.
func (q *DBQueue) Claim(ctx context.Context) (*models.Job, error) {
	for i := 0; i < claimAttempts; i++ {
		var job models.Job
		err := q.db.WithContext(ctx).
			Where("status = ?", models.JobPending).
			Order("created_at asc, id asc").
			Take(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("failed to find pending job: %w", err)
		}

		now := q.now()
		res := q.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobPending).
			Updates(map[string]any{
				"status":     models.JobRunning,
				"claimed_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim job %d: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			job.Status = models.JobRunning
			job.ClaimedAt = &now
			job.Attempts++
			return &job, nil
		}
		// Another worker claimed it first.
	}
	return nil, ErrEmpty
}

// Ack marks a claimed job as done. job must be the value returned by Claim.
func (q *DBQueue) Ack(ctx context.Context, job *models.Job) error {
	res := q.claimed(ctx, job).Update("status", models.JobDone)
	if res.Error != nil {
		return fmt.Errorf("failed to ack job %d: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("ack job %d attempt %d: %w", job.ID, job.Attempts, ErrStaleClaim)
	}
	return nil
}

// Nack returns a claimed job to pending, or marks it dead once the claim
// used its last attempt. job must be the value returned by Claim.
func (q *DBQueue) Nack(ctx context.Context, job *models.Job, cause error) (bool, error) {
	status := models.JobPending
	if job.Attempts >= job.MaxAttempts {
		status = models.JobDead
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	res := q.claimed(ctx, job).
		Updates(map[string]any{"status": status, "claimed_at": nil, "last_error": msg})
	if res.Error != nil {
		return false, fmt.Errorf("failed to nack job %d: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, fmt.Errorf("nack job %d attempt %d: %w", job.ID, job.Attempts, ErrStaleClaim)
	}
	return status == models.JobDead, nil
}

// claimed scopes an update to the claim job was returned with. A redelivery
// bumps attempts, so an expired claim no longer matches.
func (q *DBQueue) claimed(ctx context.Context, job *models.Job) *gorm.DB {
	return q.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ? AND attempts = ?", job.ID, models.JobRunning, job.Attempts)
}

// ReclaimExpired returns running jobs claimed longer than claimTimeout ago to
// pending. Jobs out of attempts become dead and are returned.
func (q *DBQueue) ReclaimExpired(ctx context.Context, claimTimeout time.Duration) ([]models.Job, error) {
	cutoff := q.now().Add(-claimTimeout)

	var expired []models.Job
	err := q.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", models.JobRunning, cutoff).
		Find(&expired).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired claims: %w", err)
	}

	var dead []models.Job
	for _, job := range expired {
		status := models.JobPending
		if job.Attempts >= job.MaxAttempts {
			status = models.JobDead
		}
		res := q.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND status = ? AND attempts = ?", job.ID, models.JobRunning, job.Attempts).
			Updates(map[string]any{"status": status, "claimed_at": nil, "last_error": "claim timeout"})
		if res.Error != nil {
			return dead, fmt.Errorf("failed to reclaim job %d: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 1 && status == models.JobDead {
			job.Status = models.JobDead
			dead = append(dead, job)
		}
	}
	return dead, nil
}

// ExpirePending marks jobs still pending maxWait after they were enqueued as
// dead and returns them.
func (q *DBQueue) ExpirePending(ctx context.Context, maxWait time.Duration) ([]models.Job, error) {
	cutoff := q.now().Add(-maxWait)

	var stale []models.Job
	err := q.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.JobPending, cutoff).
		Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find stale jobs: %w", err)
	}

	var expired []models.Job
	for _, job := range stale {
		res := q.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobPending).
			Updates(map[string]any{"status": models.JobDead, "last_error": "not claimed in time"})
		if res.Error != nil {
			return expired, fmt.Errorf("failed to expire job %d: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			job.Status = models.JobDead
			expired = append(expired, job)
		}
	}
	return expired, nil
}
