package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DLQReason records why a job was moved to the dead-letter store.
type DLQReason string

const (
	ReasonExhaustedRetries  DLQReason = "exhausted_retries"
	ReasonPermanentFailure  DLQReason = "permanent_failure"
	ReasonTimeout           DLQReason = "timeout"
	ReasonValidationError   DLQReason = "validation_error"
	ReasonSystemError       DLQReason = "system_error"
	ReasonManualMove        DLQReason = "manual_move"
	ReasonDependencyFailure DLQReason = "dependency_failure"
)

// Severity classifies the business impact of a permanent failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DLQStatus is the triage state of a dead-letter record.
type DLQStatus string

const (
	DLQPending       DLQStatus = "pending"
	DLQInvestigating DLQStatus = "investigating"
	DLQResolved      DLQStatus = "resolved"
	DLQIgnored       DLQStatus = "ignored"
	DLQReprocessed   DLQStatus = "reprocessed"
)

// DLQTerminal reports whether s is a terminal triage state.
func DLQTerminal(s DLQStatus) bool {
	return s == DLQResolved || s == DLQIgnored || s == DLQReprocessed
}

// DefaultMaxReprocessAttempts bounds operator reprocessing per entry.
const DefaultMaxReprocessAttempts = 3

// DeadLetter is the immutable snapshot of a permanently-failed job plus
// its mutable triage fields.
type DeadLetter struct {
	ID            string          `json:"id"`
	OriginalJobID string          `json:"original_job_id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Priority      int             `json:"priority"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	Error         string          `json:"error"`
	ErrorStack    string          `json:"error_stack,omitempty"`
	Reason        DLQReason       `json:"dlq_reason"`
	Severity      Severity        `json:"severity"`
	JobCreatedAt  time.Time       `json:"job_created_at"`
	FailedAt      time.Time       `json:"failed_at"`
	MovedToDLQAt  time.Time       `json:"moved_to_dlq_at"`

	// Triage fields, mutated only through the dlq service.
	Status               DLQStatus  `json:"status"`
	ReprocessAttempts    int        `json:"reprocess_attempts"`
	MaxReprocessAttempts int        `json:"max_reprocess_attempts"`
	ResolvedBy           *string    `json:"resolved_by,omitempty"`
	Resolution           *string    `json:"resolution,omitempty"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	ReprocessedBy        *string    `json:"reprocessed_by,omitempty"`
	LastReprocessedAt    *time.Time `json:"last_reprocessed_at,omitempty"`

	// Optional business-impact annotations.
	UserID      *string `json:"user_id,omitempty"`
	ImpactLevel *string `json:"impact_level,omitempty"`
}

// CanReprocess reports whether the entry is eligible for another
// operator-triggered reprocess.
func (d *DeadLetter) CanReprocess() bool {
	return d.Status == DLQPending && d.ReprocessAttempts < d.MaxReprocessAttempts
}

// Classification configures severity derivation and the triage policy
// applied to new entries.
type Classification struct {
	// CriticalTypes lists job types whose failures are always critical.
	CriticalTypes []string
	// CriticalReasons lists dlq reasons that raise severity to high.
	CriticalReasons []DLQReason
	// MaxReprocessAttempts bounds operator reprocessing per entry; zero
	// means DefaultMaxReprocessAttempts.
	MaxReprocessAttempts int
}

// DetermineSeverity derives the severity of a permanent failure. Pure:
// identical inputs always yield the same value.
func DetermineSeverity(jobType string, reason DLQReason, attempts int, c Classification) Severity {
	for _, t := range c.CriticalTypes {
		if t == jobType {
			return SeverityCritical
		}
	}
	for _, r := range c.CriticalReasons {
		if r == reason {
			return SeverityHigh
		}
	}
	if attempts >= 5 {
		return SeverityHigh
	}
	if attempts >= 3 {
		return SeverityMedium
	}
	return SeverityLow
}

// NewDeadLetter snapshots a failed job into a dead-letter record.
// attempts is the final failure count (after the last increment).
func NewDeadLetter(j *Job, attempts int, errMsg, stack string, reason DLQReason, c Classification) *DeadLetter {
	maxReprocess := c.MaxReprocessAttempts
	if maxReprocess <= 0 {
		maxReprocess = DefaultMaxReprocessAttempts
	}
	now := time.Now().UTC()
	return &DeadLetter{
		ID:                   uuid.NewString(),
		OriginalJobID:        j.JobID,
		Type:                 j.Type,
		Payload:              j.Payload,
		Priority:             j.Priority,
		Attempts:             attempts,
		MaxAttempts:          j.MaxAttempts,
		Error:                Truncate(errMsg, MaxErrorLen),
		ErrorStack:           Truncate(stack, MaxStackLen),
		Reason:               reason,
		Severity:             DetermineSeverity(j.Type, reason, attempts, c),
		JobCreatedAt:         j.CreatedAt,
		FailedAt:             now,
		MovedToDLQAt:         now,
		Status:               DLQPending,
		MaxReprocessAttempts: maxReprocess,
	}
}
