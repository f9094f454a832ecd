package storage

import (
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/relayq/internal/domain"
)

// Store is the Postgres record-store adapter (source of truth for job
// and dead-letter records). All claim and lease transitions are single
// conditional statements so concurrent callers cannot double-own a row.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func New(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// storeErr classifies err. Server-reported SQL errors keep their own
// identity; anything else (dial, reset, timeout) means the store is
// unreachable and callers should retry with backoff.
func storeErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(err, op)
	}
	return errors.Wrapf(domain.ErrStoreUnavailable, "%s: %v", op, err)
}

const jobColumns = `job_id, type, priority, payload, status, attempts, max_attempts,
	backoff_type, backoff_delay_ms, scheduled_for, worker_id, locked_at, lock_timeout,
	batch_id, result, error, error_stack, processed_at, processing_time_ms,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j         domain.Job
		backoffMS int64
		procMS    *int64
	)
	err := row.Scan(
		&j.JobID, &j.Type, &j.Priority, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.BackoffType, &backoffMS, &j.ScheduledFor, &j.WorkerID, &j.LockedAt, &j.LockTimeout,
		&j.BatchID, &j.Result, &j.Error, &j.ErrorStack, &j.ProcessedAt, &procMS,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.BackoffDelay = time.Duration(backoffMS) * time.Millisecond
	if procMS != nil {
		d := time.Duration(*procMS) * time.Millisecond
		j.ProcessingTime = &d
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const dlqColumns = `id, original_job_id, type, payload, priority, attempts, max_attempts,
	error, error_stack, dlq_reason, severity, job_created_at, failed_at, moved_to_dlq_at,
	status, reprocess_attempts, max_reprocess_attempts,
	resolved_by, resolution, resolved_at, reprocessed_by, last_reprocessed_at,
	user_id, impact_level`

func scanDeadLetter(row rowScanner) (*domain.DeadLetter, error) {
	var d domain.DeadLetter
	err := row.Scan(
		&d.ID, &d.OriginalJobID, &d.Type, &d.Payload, &d.Priority, &d.Attempts, &d.MaxAttempts,
		&d.Error, &d.ErrorStack, &d.Reason, &d.Severity, &d.JobCreatedAt, &d.FailedAt, &d.MovedToDLQAt,
		&d.Status, &d.ReprocessAttempts, &d.MaxReprocessAttempts,
		&d.ResolvedBy, &d.Resolution, &d.ResolvedAt, &d.ReprocessedBy, &d.LastReprocessedAt,
		&d.UserID, &d.ImpactLevel,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDeadLetters(rows pgx.Rows) ([]*domain.DeadLetter, error) {
	defer rows.Close()
	var out []*domain.DeadLetter
	for rows.Next() {
		d, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
