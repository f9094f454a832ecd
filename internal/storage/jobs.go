package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/relayq/internal/domain"
)

// InsertJob persists a newly submitted job in pending status.
func (s *Store) InsertJob(ctx context.Context, j *domain.Job) error {
	_, err := s.db.Exec(ctx, `
		insert into jobs (
			job_id, type, priority, payload, status, attempts, max_attempts,
			backoff_type, backoff_delay_ms, scheduled_for, created_at, updated_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		j.JobID, j.Type, j.Priority, j.Payload, j.Status, j.Attempts, j.MaxAttempts,
		j.BackoffType, j.BackoffDelay.Milliseconds(), j.ScheduledFor, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return storeErr(err, "insert job")
	}
	return nil
}

// GetJob fetches a job by its external id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `select `+jobColumns+` from jobs where job_id = $1`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, storeErr(err, "get job")
	}
	return j, nil
}

// ClaimBatch atomically moves up to limit eligible pending jobs to
// batched, tagged with a fresh batch id, ordered by priority then
// submission time. SKIP LOCKED keeps concurrent claimers from ever
// selecting the same row; a row claimed elsewhere is simply not
// returned, never an error. horizon extends the scheduled_for cut-off
// past now so near-term scheduled jobs can be claimed early and parked
// in the dispatch queue's delay set.
func (s *Store) ClaimBatch(ctx context.Context, limit int, now, horizon time.Time) ([]*domain.Job, string, error) {
	batchID := uuid.NewString()
	rows, err := s.db.Query(ctx, `
		with claimed as (
			update jobs
			   set status = 'batched', batch_id = $3, updated_at = $2
			 where id in (
				select id from jobs
				 where status = 'pending'
				   and (scheduled_for is null or scheduled_for <= $4)
				 order by priority desc, created_at asc
				 for update skip locked
				 limit $1
			 )
			returning `+jobColumns+`
		)
		select * from claimed order by priority desc, created_at asc`,
		limit, now, batchID, horizon,
	)
	if err != nil {
		return nil, "", storeErr(err, "claim batch")
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, "", storeErr(err, "claim batch")
	}
	return jobs, batchID, nil
}

// MarkProcessing transitions batched→processing and opens a lease. Zero
// rows affected means the job was reclaimed, cancelled, or completed by
// another path since dispatch; callers skip it.
func (s *Store) MarkProcessing(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		update jobs
		   set status = 'processing', worker_id = $2, locked_at = $3,
		       lock_timeout = $4, batch_id = null, updated_at = $3
		 where job_id = $1 and status = 'batched'`,
		jobID, workerID, now, now.Add(lease),
	)
	if err != nil {
		return storeErr(err, "mark processing")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// MarkCompleted records the outcome and clears the lease. Completed rows
// are purged later by the retention cleanup rather than on the spot, so
// per-type processing-time statistics stay queryable.
func (s *Store) MarkCompleted(ctx context.Context, jobID string, result []byte, took time.Duration) error {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		update jobs
		   set status = 'completed', result = $2, processed_at = $3,
		       processing_time_ms = $4, worker_id = null, locked_at = null,
		       lock_timeout = null, batch_id = null, updated_at = $3
		 where job_id = $1 and status = 'processing'`,
		jobID, result, now, took.Milliseconds(),
	)
	if err != nil {
		return storeErr(err, "mark completed")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// RequeueForRetry increments attempts, records the failure, clears the
// lease, and returns the job to pending with scheduled_for honoring the
// recomputed backoff delay.
func (s *Store) RequeueForRetry(ctx context.Context, jobID, errMsg, stack string, scheduledFor time.Time) error {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		update jobs
		   set status = 'pending', attempts = attempts + 1,
		       error = $2, error_stack = $3, scheduled_for = $4,
		       worker_id = null, locked_at = null, lock_timeout = null,
		       batch_id = null, processed_at = $5, updated_at = $5
		 where job_id = $1 and status = 'processing' and attempts < max_attempts`,
		jobID, domain.Truncate(errMsg, domain.MaxErrorLen), domain.Truncate(stack, domain.MaxStackLen),
		scheduledFor, now,
	)
	if err != nil {
		return storeErr(err, "requeue for retry")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// CancelJob removes a pending or batched job from future claims.
// Cancelling a processing job is out of scope; the handler runs to
// completion or failure.
func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	tag, err := s.db.Exec(ctx, `
		update jobs
		   set status = 'cancelled', batch_id = null, updated_at = $2
		 where job_id = $1 and status in ('pending', 'batched')`,
		jobID, time.Now().UTC(),
	)
	if err != nil {
		return storeErr(err, "cancel job")
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return getErr
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

// EscalateToDeadLetter deletes the job record and inserts the dead-letter
// snapshot in one transaction, so the job is never present in both
// collections (or absent from both) at once.
func (s *Store) EscalateToDeadLetter(ctx context.Context, jobID string, entry *domain.DeadLetter) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storeErr(err, "escalate: begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `delete from jobs where job_id = $1`, jobID)
	if err != nil {
		return storeErr(err, "escalate: delete job")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}

	if err := insertDeadLetter(ctx, tx, entry); err != nil {
		return storeErr(err, "escalate: insert dead letter")
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr(err, "escalate: commit")
	}
	return nil
}

func insertDeadLetter(ctx context.Context, tx pgx.Tx, d *domain.DeadLetter) error {
	_, err := tx.Exec(ctx, `
		insert into dead_letters (
			id, original_job_id, type, payload, priority, attempts, max_attempts,
			error, error_stack, dlq_reason, severity, job_created_at, failed_at,
			moved_to_dlq_at, status, reprocess_attempts, max_reprocess_attempts,
			user_id, impact_level
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		d.ID, d.OriginalJobID, d.Type, d.Payload, d.Priority, d.Attempts, d.MaxAttempts,
		d.Error, d.ErrorStack, d.Reason, d.Severity, d.JobCreatedAt, d.FailedAt,
		d.MovedToDLQAt, d.Status, d.ReprocessAttempts, d.MaxReprocessAttempts,
		d.UserID, d.ImpactLevel,
	)
	return err
}

// ReclaimStaleLeases returns to pending every processing job whose lease
// lapsed and every batched job older than grace (claimed but never
// dispatched, e.g. the loader died between claim and push). Attempts are
// untouched; a reclaim is not a failure.
func (s *Store) ReclaimStaleLeases(ctx context.Context, now time.Time, grace time.Duration) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `
		with reclaimed as (
			update jobs
			   set status = 'pending', worker_id = null, locked_at = null,
			       lock_timeout = null, batch_id = null, updated_at = $1
			 where (status = 'processing' and lock_timeout < $1)
			    or (status = 'batched' and updated_at < $2)
			returning `+jobColumns+`
		)
		select * from reclaimed`,
		now, now.Add(-grace),
	)
	if err != nil {
		return nil, storeErr(err, "reclaim stale leases")
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, storeErr(err, "reclaim stale leases")
	}
	for _, j := range jobs {
		s.logger.Info("stale lease reclaimed",
			zap.String("job_id", j.JobID),
			zap.String("type", j.Type),
			zap.Int("attempts", j.Attempts),
		)
	}
	return jobs, nil
}
