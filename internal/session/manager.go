package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gains-sandbox-go/internal/audit"
	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/gains"
	"gains-sandbox-go/internal/models"
	"gains-sandbox-go/internal/notify"
	"gains-sandbox-go/internal/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Manager is the request-side entry point. It never computes gains itself:
// sessions are persisted, queued and picked up by the worker pool.
type Manager struct {
	store  Store
	queue  queue.Queue
	bus    notify.Bus
	audit  *audit.Recorder
	logger *zap.Logger

	admission config.Admission
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewManager creates a Manager. bus may be nil, in which case Await only polls.
func NewManager(store Store, q queue.Queue, bus notify.Bus, rec *audit.Recorder, admission config.Admission, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		queue:     q,
		bus:       bus,
		audit:     rec,
		logger:    logger.Named("session-manager"),
		admission: admission,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// CreateSession validates the request, stores a queued session and enqueues
// its calculation. It returns as soon as the job is queued.
func (m *Manager) CreateSession(ctx context.Context, userID, method string, lotOrder []string) (*models.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}
	parsed, err := gains.ParseMethod(method)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if !m.allow(userID) {
		return nil, fmt.Errorf("%w: user %s", ErrRateLimited, userID)
	}

	sess := &models.Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		Method:   string(parsed),
		LotOrder: lotOrder,
		Status:   models.SessionQueued,
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	job := &models.Job{SessionID: sess.ID, UserID: userID, Method: sess.Method}
	if err := m.queue.Enqueue(ctx, job); err != nil {
		// Never leave a queued session that no worker will pick up.
		if _, cerr := m.store.Complete(context.WithoutCancel(ctx), sess.ID, models.SessionFailed, nil, "failed to enqueue calculation"); cerr != nil {
			m.logger.Error("Failed to fail unqueued session", zap.String("session_id", sess.ID), zap.Error(cerr))
		}
		return nil, err
	}

	m.logger.Info("Session queued",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
		zap.String("method", sess.Method),
	)
	return sess, nil
}

// allow applies the per-user admission limit. A non-positive rate disables it.
func (m *Manager) allow(userID string) bool {
	if m.admission.Rate <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[userID]
	if !ok {
		burst := m.admission.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(m.admission.Rate), burst)
		m.limiters[userID] = l
	}
	return l.Allow()
}

// GetStatus returns the persisted session.
func (m *Manager) GetStatus(ctx context.Context, sessionID string) (*models.Session, error) {
	return m.store.Get(ctx, sessionID)
}

// Cancel asks the worker to stop a queued session. It is best effort: a
// session already being matched still completes normally.
func (m *Manager) Cancel(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Terminal() {
		return sess, nil
	}
	if err := m.store.RequestCancel(ctx, sessionID); err != nil {
		return nil, err
	}
	m.audit.Record(ctx, sess.UserID, audit.ActionSessionCancel, map[string]any{"sessionId": sessionID})
	return m.store.Get(ctx, sessionID)
}

// Await blocks until the session is terminal. It listens on the session topic
// and polls the store every pollInterval, so a missed notification only
// delays the result.
func (m *Manager) Await(ctx context.Context, sessionID string, pollInterval time.Duration) (*models.Session, error) {
	var updates <-chan notify.Message
	if m.bus != nil {
		sub, err := m.bus.Subscribe(ctx, notify.Topic(sessionID))
		if err != nil && !errors.Is(err, notify.ErrClosed) {
			m.logger.Warn("Subscribe failed, polling only", zap.String("session_id", sessionID), zap.Error(err))
		}
		if sub != nil {
			defer sub.Unsubscribe()
			updates = sub.C()
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		sess, err := m.store.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.Terminal() {
			return sess, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-updates:
			if !ok {
				updates = nil
			}
		case <-ticker.C:
		}
	}
}
