package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Failure messages of sessions whose job died in the queue.
const (
	msgClaimTimeout = "calculation timed out"
	msgQueueTimeout = "session expired before a worker picked it up"
)

func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	p.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep redelivers jobs whose claim expired and fails the sessions of jobs
// that ran out of attempts or waited longer than the queue timeout.
func (p *Pool) Sweep(ctx context.Context) {
	if p.cfg.ClaimTimeout > 0 {
		dead, err := p.queue.ReclaimExpired(ctx, p.cfg.ClaimTimeout)
		if err != nil {
			p.logger.Error("Failed to reclaim expired jobs", zap.Error(err))
		}
		for _, job := range dead {
			p.logger.Warn("Job exhausted its attempts", zap.Uint("job_id", job.ID), zap.String("session_id", job.SessionID))
			p.failDead(ctx, job, msgClaimTimeout)
		}
	}

	if p.cfg.QueueTimeout > 0 {
		expired, err := p.queue.ExpirePending(ctx, p.cfg.QueueTimeout)
		if err != nil {
			p.logger.Error("Failed to expire pending jobs", zap.Error(err))
		}
		for _, job := range expired {
			p.logger.Warn("Job expired in queue", zap.Uint("job_id", job.ID), zap.String("session_id", job.SessionID))
			p.failDead(ctx, job, msgQueueTimeout)
		}
	}
}
