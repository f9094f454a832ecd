package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/you/relayq/internal/domain"
)

// GetDeadLetter fetches a dead-letter record by id.
func (s *Store) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error) {
	row := s.db.QueryRow(ctx, `select `+dlqColumns+` from dead_letters where id = $1`, id)
	d, err := scanDeadLetter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDeadLetterNotFound
		}
		return nil, storeErr(err, "get dead letter")
	}
	return d, nil
}

// ListDeadLetters returns entries newest first, optionally filtered by
// triage status.
func (s *Store) ListDeadLetters(ctx context.Context, status domain.DLQStatus, limit int) ([]*domain.DeadLetter, error) {
	query := `select ` + dlqColumns + ` from dead_letters`
	args := []any{limit}
	if status != "" {
		query += ` where status = $2`
		args = append(args, status)
	}
	query += ` order by moved_to_dlq_at desc limit $1`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err, "list dead letters")
	}
	out, err := collectDeadLetters(rows)
	if err != nil {
		return nil, storeErr(err, "list dead letters")
	}
	return out, nil
}

// ListReprocessable returns up to limit pending entries of the given type
// that still have reprocess budget, oldest first.
func (s *Store) ListReprocessable(ctx context.Context, jobType string, limit int) ([]*domain.DeadLetter, error) {
	rows, err := s.db.Query(ctx, `
		select `+dlqColumns+` from dead_letters
		 where type = $1 and status = 'pending'
		   and reprocess_attempts < max_reprocess_attempts
		 order by moved_to_dlq_at asc
		 limit $2`,
		jobType, limit,
	)
	if err != nil {
		return nil, storeErr(err, "list reprocessable")
	}
	out, err := collectDeadLetters(rows)
	if err != nil {
		return nil, storeErr(err, "list reprocessable")
	}
	return out, nil
}

// StaleDeadLetters returns non-terminal entries older than cutoff.
func (s *Store) StaleDeadLetters(ctx context.Context, cutoff time.Time, limit int) ([]*domain.DeadLetter, error) {
	rows, err := s.db.Query(ctx, `
		select `+dlqColumns+` from dead_letters
		 where moved_to_dlq_at < $1
		   and status not in ('resolved', 'ignored', 'reprocessed')
		 order by moved_to_dlq_at asc
		 limit $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, storeErr(err, "stale dead letters")
	}
	out, err := collectDeadLetters(rows)
	if err != nil {
		return nil, storeErr(err, "stale dead letters")
	}
	return out, nil
}

// MarkReprocessed is the conditional triage write behind reprocessOne:
// it succeeds only while the entry is pending with budget left, so
// concurrent operators cannot over-reprocess an entry.
func (s *Store) MarkReprocessed(ctx context.Context, id, actor string) error {
	tag, err := s.db.Exec(ctx, `
		update dead_letters
		   set status = 'reprocessed', reprocess_attempts = reprocess_attempts + 1,
		       reprocessed_by = $2, last_reprocessed_at = $3
		 where id = $1 and status = 'pending'
		   and reprocess_attempts < max_reprocess_attempts`,
		id, actor, time.Now().UTC(),
	)
	if err != nil {
		return storeErr(err, "mark reprocessed")
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetDeadLetter(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrNotReprocessable
	}
	return nil
}

// ResolveDeadLetter closes an entry with a resolution note. Idempotent
// when the entry is already resolved.
func (s *Store) ResolveDeadLetter(ctx context.Context, id, actor, resolution string) error {
	return s.closeDeadLetter(ctx, id, domain.DLQResolved, actor, resolution)
}

// IgnoreDeadLetter marks an entry ignored with a reason. Idempotent when
// already ignored.
func (s *Store) IgnoreDeadLetter(ctx context.Context, id, reason string) error {
	return s.closeDeadLetter(ctx, id, domain.DLQIgnored, "", reason)
}

func (s *Store) closeDeadLetter(ctx context.Context, id string, status domain.DLQStatus, actor, note string) error {
	var actorCol *string
	if actor != "" {
		actorCol = &actor
	}
	tag, err := s.db.Exec(ctx, `
		update dead_letters
		   set status = $2, resolved_by = $3, resolution = $4, resolved_at = $5
		 where id = $1 and status <> $2`,
		id, status, actorCol, note, time.Now().UTC(),
	)
	if err != nil {
		return storeErr(err, "close dead letter")
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already in the requested terminal status.
		if _, getErr := s.GetDeadLetter(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// InsertDeadLetter persists an entry outside the escalation transaction,
// used for manual moves.
func (s *Store) InsertDeadLetter(ctx context.Context, d *domain.DeadLetter) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storeErr(err, "insert dead letter: begin")
	}
	defer tx.Rollback(ctx)
	if err := insertDeadLetter(ctx, tx, d); err != nil {
		return storeErr(err, "insert dead letter")
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr(err, "insert dead letter: commit")
	}
	return nil
}
