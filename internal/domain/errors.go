package domain

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkg/errors"
)

var (
	// ErrStoreUnavailable wraps transient infrastructure failures from the
	// record store. Callers retry with backoff; the job is never dropped.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrJobNotFound is returned when a job id does not match a stored
	// record, including conditional updates that affected zero rows.
	ErrJobNotFound = errors.New("job not found")

	// ErrDeadLetterNotFound is returned for unknown dead-letter ids.
	ErrDeadLetterNotFound = errors.New("dead letter not found")

	// ErrNoHandler means a job's type has no registered handler. It counts
	// as an attempt failure and signals a deployment configuration defect.
	ErrNoHandler = errors.New("no handler registered for job type")

	// ErrNotReprocessable is returned when reprocessing is attempted on a
	// dead letter that is not in pending status or has exhausted its
	// reprocess budget.
	ErrNotReprocessable = errors.New("dead letter not reprocessable")

	// ErrInvalidTransition is returned when a status change would violate
	// the job lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError rejects a malformed submission before persistence.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// HandlerError lets a handler classify its failure. Reason overrides the
// default exhausted_retries dlq reason on escalation; Permanent skips the
// remaining retry budget entirely.
type HandlerError struct {
	Err       error
	Reason    DLQReason
	Permanent bool
}

func (e *HandlerError) Error() string { return e.Err.Error() }

func (e *HandlerError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable. The job escalates straight to the
// dead-letter store with reason permanent_failure.
func Permanent(err error) error {
	return &HandlerError{Err: err, Reason: ReasonPermanentFailure, Permanent: true}
}

// Classified wraps err with an explicit dlq reason used if the job is
// escalated after exhausting retries.
func Classified(err error, reason DLQReason) error {
	return &HandlerError{Err: err, Reason: reason}
}

const (
	// MaxErrorLen bounds the persisted error message.
	MaxErrorLen = 2000
	// MaxStackLen bounds the persisted stack trace.
	MaxStackLen = 8000
)

// Truncate clamps s to at most n bytes. The cut backs up to a rune
// boundary so the result stays valid UTF-8; Postgres text columns
// reject anything else.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
