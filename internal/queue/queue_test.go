package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/database"
	"gains-sandbox-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) (*DBQueue, *time.Time) {
	t.Helper()
	db, err := database.NewDatabase(config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	q := NewDBQueue(db, 2)
	q.now = func() time.Time { return clock }
	return q, &clock
}

func TestQueue_EnqueueClaimAck(t *testing.T) {
	q, clock := setupQueue(t)
	ctx := context.Background()

	first := &models.Job{SessionID: "s1", UserID: "u1", Method: "FIFO"}
	require.NoError(t, q.Enqueue(ctx, first))
	*clock = clock.Add(time.Second)
	second := &models.Job{SessionID: "s2", UserID: "u2", Method: "LIFO"}
	require.NoError(t, q.Enqueue(ctx, second))

	assert.NotZero(t, first.ID)
	assert.Equal(t, 2, first.MaxAttempts)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", job.SessionID)
	assert.Equal(t, models.JobRunning, job.Status)
	assert.Equal(t, 1, job.Attempts)

	job2, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", job2.SessionID)

	_, err = q.Claim(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, q.Ack(ctx, job))
	var stored models.Job
	require.NoError(t, q.db.First(&stored, job.ID).Error)
	assert.Equal(t, models.JobDone, stored.Status)
}

func TestQueue_NackRetriesThenDies(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &models.Job{SessionID: "s1", UserID: "u1", Method: "FIFO"}))

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	dead, err := q.Nack(ctx, job, errors.New("ledger unavailable"))
	require.NoError(t, err)
	assert.False(t, dead)

	job, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
	dead, err = q.Nack(ctx, job, errors.New("ledger unavailable"))
	require.NoError(t, err)
	assert.True(t, dead)

	_, err = q.Claim(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	var stored models.Job
	require.NoError(t, q.db.First(&stored, job.ID).Error)
	assert.Equal(t, models.JobDead, stored.Status)
	assert.Equal(t, "ledger unavailable", stored.LastError)
}

func TestQueue_ReclaimExpired(t *testing.T) {
	q, clock := setupQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &models.Job{SessionID: "s1", UserID: "u1", Method: "FIFO"}))

	_, err := q.Claim(ctx)
	require.NoError(t, err)

	// not expired yet
	*clock = clock.Add(30 * time.Second)
	dead, err := q.ReclaimExpired(ctx, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, dead)
	_, err = q.Claim(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	// first expiry redelivers
	*clock = clock.Add(time.Minute)
	dead, err = q.ReclaimExpired(ctx, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, dead)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)

	// second expiry exhausts the attempts
	*clock = clock.Add(2 * time.Minute)
	dead, err = q.ReclaimExpired(ctx, time.Minute)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "s1", dead[0].SessionID)
}

func TestQueue_StaleClaimCannotSettleRedelivery(t *testing.T) {
	q, clock := setupQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &models.Job{SessionID: "s1", UserID: "u1", Method: "FIFO"}))

	first, err := q.Claim(ctx)
	require.NoError(t, err)

	*clock = clock.Add(2 * time.Minute)
	_, err = q.ReclaimExpired(ctx, time.Minute)
	require.NoError(t, err)
	second, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempts)

	// the first claim holds attempt 1 of 2 and must not touch attempt 2
	dead, err := q.Nack(ctx, first, errors.New("ledger unavailable"))
	assert.ErrorIs(t, err, ErrStaleClaim)
	assert.False(t, dead)
	assert.ErrorIs(t, q.Ack(ctx, first), ErrStaleClaim)

	var stored models.Job
	require.NoError(t, q.db.First(&stored, second.ID).Error)
	assert.Equal(t, models.JobRunning, stored.Status)

	require.NoError(t, q.Ack(ctx, second))
	require.NoError(t, q.db.First(&stored, second.ID).Error)
	assert.Equal(t, models.JobDone, stored.Status)
}

func TestQueue_ExpirePending(t *testing.T) {
	q, clock := setupQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &models.Job{SessionID: "old", UserID: "u1", Method: "FIFO"}))
	*clock = clock.Add(5 * time.Minute)
	require.NoError(t, q.Enqueue(ctx, &models.Job{SessionID: "new", UserID: "u1", Method: "FIFO"}))

	*clock = clock.Add(6 * time.Minute)
	expired, err := q.ExpirePending(ctx, 10*time.Minute)

	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].SessionID)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", job.SessionID)
}
