package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusBatched    Status = "batched"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions is the job lifecycle graph. pending→{batched,cancelled};
// batched→{processing,pending}; processing→{completed,failed,cancelled};
// failed→{pending,cancelled}; completed and cancelled are terminal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusBatched, StatusCancelled},
	StatusBatched:    {StatusProcessing, StatusPending},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:     {StatusPending, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransition reports whether from→to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func Terminal(s Status) bool { return len(transitions[s]) == 0 }

// Job is the durable unit of work (source of truth lives in Postgres).
type Job struct {
	JobID        string          `json:"job_id"`
	Type         string          `json:"type"`
	Priority     int             `json:"priority"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	BackoffType  BackoffType     `json:"backoff_type"`
	BackoffDelay time.Duration   `json:"backoff_delay"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`

	// Lease fields: set only while a worker owns the job.
	WorkerID    *string    `json:"worker_id,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	LockTimeout *time.Time `json:"lock_timeout,omitempty"`

	// BatchID tags the claim batch while status=batched.
	BatchID *string `json:"batch_id,omitempty"`

	Result         json.RawMessage `json:"result,omitempty"`
	Error          *string         `json:"error,omitempty"`
	ErrorStack     *string         `json:"error_stack,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	ProcessingTime *time.Duration  `json:"processing_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Submission bounds.
const (
	MinPriority      = 1
	MaxPriority      = 20
	MinAttempts      = 1
	MaxAttemptsBound = 10
	MinBackoffDelay  = 100 * time.Millisecond

	DefaultPriority     = 10
	DefaultMaxAttempts  = 3
	DefaultBackoffDelay = time.Second
)

// typePattern requires a namespaced type tag like "email:send".
var typePattern = regexp.MustCompile(`^[a-z0-9_-]+:[a-z0-9_.-]+$`)

// Options carries the optional submission parameters.
type Options struct {
	JobID        string
	Priority     int
	MaxAttempts  int
	BackoffType  BackoffType
	BackoffDelay time.Duration
	ScheduledFor *time.Time
}

// NewJob validates a submission and builds a pending job record. Zero
// option fields receive defaults; out-of-range values are rejected with
// a ValidationError, not clamped.
func NewJob(jobType string, payload json.RawMessage, opts Options) (*Job, error) {
	if !typePattern.MatchString(jobType) {
		return nil, &ValidationError{Field: "type", Reason: `must match "namespace:name" in lowercase`}
	}
	if opts.Priority == 0 {
		opts.Priority = DefaultPriority
	}
	if opts.Priority < MinPriority || opts.Priority > MaxPriority {
		return nil, &ValidationError{Field: "priority", Reason: fmt.Sprintf("must be in [%d..%d]", MinPriority, MaxPriority)}
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.MaxAttempts < MinAttempts || opts.MaxAttempts > MaxAttemptsBound {
		return nil, &ValidationError{Field: "max_attempts", Reason: fmt.Sprintf("must be in [%d..%d]", MinAttempts, MaxAttemptsBound)}
	}
	if opts.BackoffType == "" {
		opts.BackoffType = BackoffExponential
	}
	if opts.BackoffType != BackoffFixed && opts.BackoffType != BackoffExponential {
		return nil, &ValidationError{Field: "backoff_type", Reason: `must be "fixed" or "exponential"`}
	}
	if opts.BackoffDelay == 0 {
		opts.BackoffDelay = DefaultBackoffDelay
	}
	if opts.BackoffDelay < MinBackoffDelay {
		return nil, &ValidationError{Field: "backoff_delay", Reason: "must be at least 100ms"}
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, &ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}

	now := time.Now().UTC()
	id := opts.JobID
	if id == "" {
		id = GenerateJobID(jobType, now)
	}
	return &Job{
		JobID:        id,
		Type:         jobType,
		Priority:     opts.Priority,
		Payload:      payload,
		Status:       StatusPending,
		MaxAttempts:  opts.MaxAttempts,
		BackoffType:  opts.BackoffType,
		BackoffDelay: opts.BackoffDelay,
		ScheduledFor: opts.ScheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GenerateJobID produces "{type with ':'→'-'}-{epochMillis}-{random6}".
func GenerateJobID(jobType string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s-%d-%s", strings.ReplaceAll(jobType, ":", "-"), now.UnixMilli(), suffix)
}
