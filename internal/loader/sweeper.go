package loader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/you/relayq/internal/domain"
	"github.com/you/relayq/internal/storage"
)

// SweepStore is the reclaim surface of the record store.
type SweepStore interface {
	ReclaimStaleLeases(ctx context.Context, now time.Time, grace time.Duration) ([]*domain.Job, error)
}

// DelayQueue promotes due delayed envelopes.
type DelayQueue interface {
	MoveDue(ctx context.Context, now time.Time, batch int64) error
}

// Sweeper is the sole timeout-enforcement mechanism: it returns jobs with
// lapsed leases (worker crashed mid-processing) and batched-but-never-
// dispatched jobs to pending, and promotes due delayed envelopes.
type Sweeper struct {
	store    SweepStore
	queue    DelayQueue
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger
}

func NewSweeper(store SweepStore, q DelayQueue, interval, grace time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: store, queue: q, interval: interval, grace: grace, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) error {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			s.Tick(ctx)
		}
	}
}

func (s *Sweeper) Tick(ctx context.Context) {
	now := time.Now().UTC()

	reclaimed, err := s.store.ReclaimStaleLeases(ctx, now, s.grace)
	if err != nil {
		s.logger.Error("reclaim sweep failed", zap.Error(err))
	} else if len(reclaimed) > 0 {
		s.logger.Info("reclaim sweep", zap.Int("reclaimed", len(reclaimed)))
	}

	if s.queue != nil {
		if err := s.queue.MoveDue(ctx, now, 200); err != nil {
			s.logger.Error("delay promotion failed", zap.Error(err))
		}
	}
}

// Janitor runs the retention cleanup on its own interval.
type Janitor struct {
	store     *storage.Store
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
}

func NewJanitor(store *storage.Store, interval, retention time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{store: store, interval: interval, retention: retention, logger: logger}
}

func (j *Janitor) Run(ctx context.Context) error {
	tick := time.NewTicker(j.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			res, err := j.store.Cleanup(ctx, j.retention)
			if err != nil {
				j.logger.Error("retention cleanup failed", zap.Error(err))
				continue
			}
			if res.JobsDeleted > 0 || res.DeadLettersDeleted > 0 {
				j.logger.Info("retention cleanup",
					zap.Int64("jobs_deleted", res.JobsDeleted),
					zap.Int64("dead_letters_deleted", res.DeadLettersDeleted),
				)
			}
		}
	}
}
