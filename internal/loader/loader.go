// Package loader moves eligible job records from the durable store into
// the fast dispatch queue. It never blocks on worker availability: a full
// pool just means envelopes sit in Redis until a consumer slot frees up.
package loader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/you/relayq/internal/domain"
	"github.com/you/relayq/internal/queue"
)

// Store is the slice of the record store the loader needs.
type Store interface {
	ClaimBatch(ctx context.Context, limit int, now, horizon time.Time) ([]*domain.Job, string, error)
}

// Queue is the dispatch-queue surface the loader pushes into.
type Queue interface {
	Enqueue(ctx context.Context, env queue.Envelope, runAt time.Time) error
}

// Loader claims ready jobs on a fixed interval and hands them to the
// dispatch queue. Jobs scheduled within the lookahead window are claimed
// early and parked in the queue's delay set so they dispatch the moment
// they are due instead of waiting for the next claim tick.
type Loader struct {
	store     Store
	queue     Queue
	batch     int
	interval  time.Duration
	lookahead time.Duration
	logger    *zap.Logger
}

func New(store Store, q Queue, batchSize int, interval, lookahead time.Duration, logger *zap.Logger) *Loader {
	return &Loader{
		store:     store,
		queue:     q,
		batch:     batchSize,
		interval:  interval,
		lookahead: lookahead,
		logger:    logger,
	}
}

// Run ticks until ctx is cancelled.
func (l *Loader) Run(ctx context.Context) error {
	tick := time.NewTicker(l.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			l.Tick(ctx)
		}
	}
}

// Tick claims one batch and enqueues every claimed job. A failed push is
// logged and skipped: the row stays batched and the grace-period reclaim
// returns it to pending, so nothing is lost. Claim ordering (priority
// desc, created_at asc) is preserved in the hand-off.
func (l *Loader) Tick(ctx context.Context) {
	now := time.Now().UTC()
	jobs, batchID, err := l.store.ClaimBatch(ctx, l.batch, now, now.Add(l.lookahead))
	if err != nil {
		l.logger.Error("claim batch failed", zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	pushed := 0
	for _, j := range jobs {
		env := queue.Envelope{
			JobID:       j.JobID,
			Type:        j.Type,
			Payload:     j.Payload,
			Priority:    j.Priority,
			Attempts:    j.Attempts,
			MaxAttempts: j.MaxAttempts,
			EnqueuedAt:  now,
		}
		runAt := now
		if j.ScheduledFor != nil && j.ScheduledFor.After(now) {
			runAt = *j.ScheduledFor
		}
		if err := l.queue.Enqueue(ctx, env, runAt); err != nil {
			l.logger.Error("enqueue failed, leaving job batched for reclaim",
				zap.String("job_id", j.JobID),
				zap.String("batch_id", batchID),
				zap.Error(err),
			)
			continue
		}
		pushed++
	}

	l.logger.Info("batch dispatched",
		zap.String("batch_id", batchID),
		zap.Int("claimed", len(jobs)),
		zap.Int("pushed", pushed),
	)
}
