package storage

import (
	"context"
	"time"

	"github.com/you/relayq/internal/domain"
)

// TypeStat summarizes jobs of one type.
type TypeStat struct {
	Type             string   `json:"type"`
	Count            int64    `json:"count"`
	MeanProcessingMS *float64 `json:"mean_processing_ms,omitempty"`
}

// DLQStats groups dead-letter counts along the triage dimensions.
type DLQStats struct {
	ByStatus   map[domain.DLQStatus]int64 `json:"by_status"`
	BySeverity map[domain.Severity]int64  `json:"by_severity"`
	ByReason   map[domain.DLQReason]int64 `json:"by_reason"`
}

// CountJobsByStatus returns job counts grouped by lifecycle status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	rows, err := s.db.Query(ctx, `select status, count(*) from jobs group by status`)
	if err != nil {
		return nil, storeErr(err, "count jobs by status")
	}
	defer rows.Close()

	out := make(map[domain.Status]int64)
	for rows.Next() {
		var (
			st domain.Status
			n  int64
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, storeErr(err, "count jobs by status")
		}
		out[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "count jobs by status")
	}
	return out, nil
}

// CountJobsByType returns per-type counts with the mean processing time
// over records that have one.
func (s *Store) CountJobsByType(ctx context.Context) ([]TypeStat, error) {
	rows, err := s.db.Query(ctx, `
		select type, count(*), avg(processing_time_ms)
		  from jobs group by type order by count(*) desc`)
	if err != nil {
		return nil, storeErr(err, "count jobs by type")
	}
	defer rows.Close()

	var out []TypeStat
	for rows.Next() {
		var t TypeStat
		if err := rows.Scan(&t.Type, &t.Count, &t.MeanProcessingMS); err != nil {
			return nil, storeErr(err, "count jobs by type")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "count jobs by type")
	}
	return out, nil
}

// CountDeadLetters returns counts grouped by status, severity, and reason.
func (s *Store) CountDeadLetters(ctx context.Context) (*DLQStats, error) {
	stats := &DLQStats{
		ByStatus:   make(map[domain.DLQStatus]int64),
		BySeverity: make(map[domain.Severity]int64),
		ByReason:   make(map[domain.DLQReason]int64),
	}

	rows, err := s.db.Query(ctx, `
		select status, severity, dlq_reason, count(*)
		  from dead_letters group by status, severity, dlq_reason`)
	if err != nil {
		return nil, storeErr(err, "count dead letters")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			st  domain.DLQStatus
			sev domain.Severity
			rsn domain.DLQReason
			n   int64
		)
		if err := rows.Scan(&st, &sev, &rsn, &n); err != nil {
			return nil, storeErr(err, "count dead letters")
		}
		stats.ByStatus[st] += n
		stats.BySeverity[sev] += n
		stats.ByReason[rsn] += n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "count dead letters")
	}
	return stats, nil
}

// CleanupResult reports how many rows a retention pass removed.
type CleanupResult struct {
	JobsDeleted        int64 `json:"jobs_deleted"`
	DeadLettersDeleted int64 `json:"dead_letters_deleted"`
}

// Cleanup purges completed/cancelled jobs and resolved dead letters
// older than the retention window.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (*CleanupResult, error) {
	cutoff := time.Now().UTC().Add(-retention)

	jobsTag, err := s.db.Exec(ctx, `
		delete from jobs
		 where status in ('completed', 'cancelled') and updated_at < $1`, cutoff)
	if err != nil {
		return nil, storeErr(err, "cleanup jobs")
	}

	dlqTag, err := s.db.Exec(ctx, `
		delete from dead_letters
		 where status = 'resolved' and resolved_at < $1`, cutoff)
	if err != nil {
		return nil, storeErr(err, "cleanup dead letters")
	}

	return &CleanupResult{
		JobsDeleted:        jobsTag.RowsAffected(),
		DeadLettersDeleted: dlqTag.RowsAffected(),
	}, nil
}
