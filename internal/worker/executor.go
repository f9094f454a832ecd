package worker

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/relayq/internal/domain"
)

// Store is the record-store surface the executor drives job lifecycle
// transitions through.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	MarkProcessing(ctx context.Context, jobID, workerID string, lease time.Duration) error
	MarkCompleted(ctx context.Context, jobID string, result []byte, took time.Duration) error
	RequeueForRetry(ctx context.Context, jobID, errMsg, stack string, scheduledFor time.Time) error
	EscalateToDeadLetter(ctx context.Context, jobID string, entry *domain.DeadLetter) error
}

// Executor runs one dispatched job: resolve handler, open the lease,
// invoke, then apply the retry/escalation policy on failure.
type Executor struct {
	registry       *Registry
	store          Store
	workerID       string
	lease          time.Duration
	backoffMax     time.Duration
	classification domain.Classification
	logger         *zap.Logger
}

func NewExecutor(
	registry *Registry,
	store Store,
	workerID string,
	lease, backoffMax time.Duration,
	classification domain.Classification,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		registry:       registry,
		store:          store,
		workerID:       workerID,
		lease:          lease,
		backoffMax:     backoffMax,
		classification: classification,
		logger:         logger,
	}
}

// Execute processes the job identified by jobID. The durable record is
// re-read first: the envelope is a hint, the store is the truth.
func (e *Executor) Execute(ctx context.Context, jobID string) error {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// Completed, cancelled, or escalated since dispatch.
			e.logger.Debug("dispatched job no longer exists", zap.String("job_id", jobID))
			return nil
		}
		return err
	}

	if err := e.store.MarkProcessing(ctx, jobID, e.workerID, e.lease); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// Lost the race: reclaimed or cancelled between dispatch and
			// lease. Another delivery will pick it up if still pending.
			e.logger.Debug("job not claimable", zap.String("job_id", jobID), zap.String("status", string(j.Status)))
			return nil
		}
		return err
	}

	handler, ok := e.registry.Resolve(j.Type)
	if !ok {
		e.logger.Error("no handler registered, configuration defect",
			zap.String("job_id", jobID),
			zap.String("type", j.Type),
		)
		return e.handleFailure(ctx, j, domain.Classified(domain.ErrNoHandler, domain.ReasonSystemError), "")
	}

	start := time.Now()
	result, stack, err := e.invoke(ctx, handler, j.Payload)
	took := time.Since(start)

	if err != nil {
		return e.handleFailure(ctx, j, err, stack)
	}

	if err := e.store.MarkCompleted(ctx, jobID, result, took); err != nil {
		e.logger.Error("mark completed failed", zap.String("job_id", jobID), zap.Error(err))
		return err
	}

	e.logger.Info("job completed",
		zap.String("job_id", jobID),
		zap.String("type", j.Type),
		zap.Duration("took", took),
	)
	return nil
}

// invoke calls the handler with panic isolation: a panicking handler
// fails its own job and nothing else.
func (e *Executor) invoke(ctx context.Context, h HandlerFunc, payload json.RawMessage) (result json.RawMessage, stack string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			stack = string(debug.Stack())
			err = errors.Errorf("handler panic: %v", rec)
		}
	}()
	result, err = h(ctx, payload)
	return result, stack, err
}

// handleFailure applies the failure policy: increment attempts, then
// retry with backoff while budget remains, else escalate to the
// dead-letter store.
func (e *Executor) handleFailure(ctx context.Context, j *domain.Job, handlerErr error, stack string) error {
	attempts := j.Attempts + 1

	reason := domain.ReasonExhaustedRetries
	permanent := false
	var hErr *domain.HandlerError
	if errors.As(handlerErr, &hErr) {
		if hErr.Reason != "" {
			reason = hErr.Reason
		}
		permanent = hErr.Permanent
	}

	if !permanent && attempts < j.MaxAttempts {
		delay := domain.NextBackoff(j.BackoffType, j.BackoffDelay, attempts, e.backoffMax)
		scheduledFor := time.Now().UTC().Add(delay)

		if err := e.store.RequeueForRetry(ctx, j.JobID, handlerErr.Error(), stack, scheduledFor); err != nil {
			// Leave the row processing: the lease expiry brings it back.
			e.logger.Error("requeue for retry failed", zap.String("job_id", j.JobID), zap.Error(err))
			return err
		}

		e.logger.Warn("job failed, scheduled for retry",
			zap.String("job_id", j.JobID),
			zap.String("type", j.Type),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", j.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(handlerErr),
		)
		return nil
	}

	entry := domain.NewDeadLetter(j, attempts, handlerErr.Error(), stack, reason, e.classification)
	if err := e.store.EscalateToDeadLetter(ctx, j.JobID, entry); err != nil {
		// Losing the job silently is not acceptable: keep the record in
		// processing and rely on the lease expiry for another cycle.
		e.logger.Error("escalation failed, job retained for reclaim",
			zap.String("job_id", j.JobID),
			zap.Error(err),
		)
		return err
	}

	e.logger.Warn("job escalated to dead letter",
		zap.String("job_id", j.JobID),
		zap.String("type", j.Type),
		zap.String("dlq_id", entry.ID),
		zap.String("reason", string(entry.Reason)),
		zap.String("severity", string(entry.Severity)),
		zap.Int("attempts", attempts),
		zap.Error(handlerErr),
	)
	return nil
}
