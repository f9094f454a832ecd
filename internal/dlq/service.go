// Package dlq is the triage surface over the dead-letter store:
// operator-bounded reprocessing, terminal resolve/ignore transitions, and
// explicit resubmission of a dead-lettered payload as a fresh job.
package dlq

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/you/relayq/internal/domain"
)

// Store is the persistence surface the service needs.
type Store interface {
	GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error)
	ListReprocessable(ctx context.Context, jobType string, limit int) ([]*domain.DeadLetter, error)
	MarkReprocessed(ctx context.Context, id, actor string) error
	ResolveDeadLetter(ctx context.Context, id, actor, resolution string) error
	IgnoreDeadLetter(ctx context.Context, id, reason string) error
	InsertJob(ctx context.Context, j *domain.Job) error
}

// Service provides the triage operations.
type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// ReprocessOne marks a single entry reprocessed on behalf of actor.
// Allowed only while the entry is pending with reprocess budget left;
// otherwise ErrNotReprocessable. It does not resubmit a job: that is
// Resubmit, a separate explicit step.
func (s *Service) ReprocessOne(ctx context.Context, dlqID, actor string) error {
	if err := s.store.MarkReprocessed(ctx, dlqID, actor); err != nil {
		return err
	}
	s.logger.Info("dead letter reprocessed",
		zap.String("dlq_id", dlqID),
		zap.String("actor", actor),
	)
	return nil
}

// ItemError reports one failed entry inside a batch reprocess.
type ItemError struct {
	ID  string `json:"id"`
	Err string `json:"error"`
}

// BatchResult reports a batch reprocess. Partial failure is expected and
// reported here, never raised as an error from ReprocessBatch.
type BatchResult struct {
	Processed int         `json:"processed"`
	Errors    []ItemError `json:"errors"`
}

// ReprocessBatch applies ReprocessOne to up to maxEntries reprocessable
// entries of the given type. Per-item failures are collected; the batch
// never aborts early. Entries already resolved, ignored, or out of budget
// are simply not selected.
func (s *Service) ReprocessBatch(ctx context.Context, jobType, actor string, maxEntries int) (*BatchResult, error) {
	entries, err := s.store.ListReprocessable(ctx, jobType, maxEntries)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{Errors: []ItemError{}}
	var agg error
	for _, entry := range entries {
		if err := s.store.MarkReprocessed(ctx, entry.ID, actor); err != nil {
			res.Errors = append(res.Errors, ItemError{ID: entry.ID, Err: err.Error()})
			agg = multierr.Append(agg, fmt.Errorf("%s: %w", entry.ID, err))
			continue
		}
		res.Processed++
	}

	s.logger.Info("batch reprocess finished",
		zap.String("type", jobType),
		zap.String("actor", actor),
		zap.Int("processed", res.Processed),
		zap.Int("failed", len(res.Errors)),
		zap.Error(agg),
	)
	return res, nil
}

// Resolve closes an entry with a resolution note. Idempotent when the
// entry is already resolved, allowed regardless of reprocess budget.
func (s *Service) Resolve(ctx context.Context, dlqID, actor, resolution string) error {
	return s.store.ResolveDeadLetter(ctx, dlqID, actor, resolution)
}

// Ignore marks an entry ignored. Idempotent when already ignored.
func (s *Service) Ignore(ctx context.Context, dlqID, reason string) error {
	return s.store.IgnoreDeadLetter(ctx, dlqID, reason)
}

// Resubmit creates a fresh pending job from the dead letter's original
// payload. The caller decides when to do this; reprocessing an entry
// never resubmits implicitly. The new job gets a fresh id and a zeroed
// attempt counter.
func (s *Service) Resubmit(ctx context.Context, dlqID, actor string) (*domain.Job, error) {
	entry, err := s.store.GetDeadLetter(ctx, dlqID)
	if err != nil {
		return nil, err
	}

	j, err := domain.NewJob(entry.Type, entry.Payload, domain.Options{
		Priority:    entry.Priority,
		MaxAttempts: entry.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertJob(ctx, j); err != nil {
		return nil, err
	}

	s.logger.Info("dead letter resubmitted",
		zap.String("dlq_id", dlqID),
		zap.String("new_job_id", j.JobID),
		zap.String("actor", actor),
	)
	return j, nil
}
