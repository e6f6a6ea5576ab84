// Package worker runs the gains calculations queued by the session manager.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gains-sandbox-go/internal/audit"
	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/gains"
	"gains-sandbox-go/internal/ledger"
	"gains-sandbox-go/internal/models"
	"gains-sandbox-go/internal/notify"
	"gains-sandbox-go/internal/queue"
	"gains-sandbox-go/internal/session"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// Pool claims jobs and drives each session to its terminal state. Any number
// of pools, in any number of processes, may share one queue.
type Pool struct {
	cfg      config.Worker
	queue    queue.Queue
	sessions session.Store
	ledger   ledger.Ledger
	engine   *gains.Engine
	bus      notify.Bus
	audit    *audit.Recorder
	logger   *zap.Logger
}

// NewPool creates a worker pool.
func NewPool(cfg config.Worker, q queue.Queue, sessions session.Store, l ledger.Ledger, engine *gains.Engine, bus notify.Bus, rec *audit.Recorder, logger *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	return &Pool{
		cfg:      cfg,
		queue:    q,
		sessions: sessions,
		ledger:   l,
		engine:   engine,
		bus:      bus,
		audit:    rec,
		logger:   logger.Named("worker"),
	}
}

// Run starts the processors and the sweeper and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Info("Starting worker pool",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Duration("claim_timeout", p.cfg.ClaimTimeout),
	)

	var wg conc.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Go(func() { p.processLoop(ctx, i) })
	}
	wg.Go(func() { p.sweepLoop(ctx) })
	wg.Wait()

	p.logger.Info("Worker pool stopped")
}

func (p *Pool) processLoop(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("processor", id))
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Claim(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
				logger.Error("Failed to claim job", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		var pc panics.Catcher
		pc.Try(func() { p.process(ctx, job) })
		if r := pc.Recovered(); r != nil {
			logger.Error("Recovered from panic while processing job",
				zap.Uint("job_id", job.ID),
				zap.String("session_id", job.SessionID),
				zap.Any("panic", r.Value),
				zap.ByteString("stack", r.Stack),
			)
			p.retry(context.WithoutCancel(ctx), job, fmt.Errorf("panic: %v", r.Value))
		}
	}
}

// process runs one delivery of a job. Deliveries are at-least-once, so a
// session that is already terminal is acknowledged without side effects.
func (p *Pool) process(ctx context.Context, job *models.Job) {
	// Bookkeeping outlives shutdown so a finished calculation is not lost.
	bg := context.WithoutCancel(ctx)
	started := time.Now()
	logger := p.logger.With(
		zap.Uint("job_id", job.ID),
		zap.String("session_id", job.SessionID),
		zap.Int("attempt", job.Attempts),
	)

	sess, err := p.sessions.Get(bg, job.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		logger.Warn("Dropping job for unknown session")
		p.ack(bg, job)
		return
	}
	if err != nil {
		p.retry(bg, job, err)
		return
	}
	if sess.Terminal() {
		logger.Info("Session already terminal, acknowledging duplicate delivery", zap.String("status", sess.Status))
		p.ack(bg, job)
		return
	}
	if sess.CancelRequested {
		p.finish(bg, job, sess, nil, session.CancelledMessage, started)
		return
	}

	p.audit.Record(bg, sess.UserID, audit.ActionSessionStart, map[string]any{
		"sessionId": sess.ID,
		"method":    sess.Method,
		"attempt":   job.Attempts,
	})

	trades, err := p.ledger.TradesForUser(ctx, sess.UserID)
	if err != nil {
		logger.Warn("Ledger unavailable", zap.Error(err))
		p.retry(bg, job, err)
		return
	}

	result, err := p.calculate(trades, sess)
	if err != nil {
		logger.Info("Calculation failed",
			zap.Bool("configuration_error", gains.IsConfigurationError(err)),
			zap.Error(err),
		)
		p.finish(bg, job, sess, nil, err.Error(), started)
		return
	}

	logger.Info("Calculation finished",
		zap.Int("trades", len(trades)),
		zap.Int("details", len(result.Details)),
		zap.String("total_gain", result.Summary.TotalGain.String()),
	)
	p.finish(bg, job, sess, &result.Summary, "", started)
}

// calculate runs the engine, turning a panic into an error.
func (p *Pool) calculate(trades []models.Trade, sess *models.Session) (result *gains.Result, err error) {
	method, err := gains.ParseMethod(sess.Method)
	if err != nil {
		return nil, err
	}

	var pc panics.Catcher
	pc.Try(func() {
		result, err = p.engine.Calculate(trades, method, sess.LotOrder)
	})
	if r := pc.Recovered(); r != nil {
		return nil, fmt.Errorf("calculation panicked: %v", r.Value)
	}
	return result, err
}

// finish records the terminal state and acknowledges the job. Only the
// caller that performed the transition publishes.
func (p *Pool) finish(ctx context.Context, job *models.Job, sess *models.Session, summary *gains.Summary, errMsg string, started time.Time) {
	status := models.SessionReady
	if summary == nil {
		status = models.SessionFailed
	}

	transitioned, err := p.sessions.Complete(ctx, sess.ID, status, summary, errMsg)
	if err != nil {
		p.retry(ctx, job, err)
		return
	}
	if transitioned {
		p.announce(ctx, sess.UserID, sess.ID, summary, errMsg, time.Since(started))
	}
	p.ack(ctx, job)
}

// announce publishes the terminal message and writes the audit row. elapsed
// is omitted from the row when zero.
func (p *Pool) announce(ctx context.Context, userID, sessionID string, summary *gains.Summary, errMsg string, elapsed time.Duration) {
	msg := notify.Failed(errMsg)
	action := audit.ActionSessionFailed
	meta := map[string]any{"sessionId": sessionID}
	if elapsed > 0 {
		meta["durationMs"] = elapsed.Milliseconds()
	}
	if summary != nil {
		msg = notify.Ready(*summary)
		action = audit.ActionSessionComplete
		meta["totalGain"] = summary.TotalGain.String()
	} else {
		meta["error"] = errMsg
	}

	if err := p.bus.Publish(ctx, notify.Topic(sessionID), msg); err != nil {
		// Subscribers fall back to polling the status.
		p.logger.Warn("Failed to publish result", zap.String("session_id", sessionID), zap.Error(err))
	}
	p.audit.Record(ctx, userID, action, meta)
}

func (p *Pool) ack(ctx context.Context, job *models.Job) {
	err := p.queue.Ack(ctx, job)
	switch {
	case errors.Is(err, queue.ErrStaleClaim):
		p.logger.Info("Claim expired before ack", zap.Uint("job_id", job.ID), zap.Int("attempt", job.Attempts))
	case err != nil:
		p.logger.Error("Failed to ack job", zap.Uint("job_id", job.ID), zap.Error(err))
	}
}

// retry returns the job to the queue. Once it has no attempts left the
// session fails.
func (p *Pool) retry(ctx context.Context, job *models.Job, cause error) {
	dead, err := p.queue.Nack(ctx, job, cause)
	if errors.Is(err, queue.ErrStaleClaim) {
		// A newer delivery owns the job now.
		p.logger.Info("Claim expired before nack", zap.Uint("job_id", job.ID), zap.Int("attempt", job.Attempts), zap.NamedError("cause", cause))
		return
	}
	if err != nil {
		// The claim expires and the sweeper takes over.
		p.logger.Error("Failed to nack job", zap.Uint("job_id", job.ID), zap.Error(err))
		return
	}
	if dead {
		p.failDead(ctx, *job, fmt.Sprintf("calculation failed after %d attempts: %v", job.Attempts, cause))
	}
}

// failDead fails the session of a job that will not be delivered again.
func (p *Pool) failDead(ctx context.Context, job models.Job, msg string) {
	transitioned, err := p.sessions.Complete(ctx, job.SessionID, models.SessionFailed, nil, msg)
	if err != nil {
		p.logger.Error("Failed to fail session of dead job",
			zap.Uint("job_id", job.ID),
			zap.String("session_id", job.SessionID),
			zap.Error(err),
		)
		return
	}
	if transitioned {
		p.announce(ctx, job.UserID, job.SessionID, nil, msg, 0)
	}
}
