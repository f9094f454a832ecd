package domain

import (
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestNewJob_Defaults(t *testing.T) {
	j, err := NewJob("email:send", []byte(`{"to":"alice@example.com"}`), Options{})
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if j.Status != StatusPending {
		t.Errorf("Status = %s, want pending", j.Status)
	}
	if j.Priority != DefaultPriority {
		t.Errorf("Priority = %d, want %d", j.Priority, DefaultPriority)
	}
	if j.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", j.MaxAttempts, DefaultMaxAttempts)
	}
	if j.BackoffType != BackoffExponential {
		t.Errorf("BackoffType = %s, want exponential", j.BackoffType)
	}
	if j.BackoffDelay != DefaultBackoffDelay {
		t.Errorf("BackoffDelay = %v, want %v", j.BackoffDelay, DefaultBackoffDelay)
	}
	if j.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", j.Attempts)
	}
}

func TestNewJob_Validation(t *testing.T) {
	tests := []struct {
		name    string
		jobType string
		payload string
		opts    Options
		field   string
	}{
		{"missing namespace", "send", `{}`, Options{}, "type"},
		{"uppercase", "Email:Send", `{}`, Options{}, "type"},
		{"empty", "", `{}`, Options{}, "type"},
		{"priority low", "email:send", `{}`, Options{Priority: -1}, "priority"},
		{"priority high", "email:send", `{}`, Options{Priority: 21}, "priority"},
		{"attempts high", "email:send", `{}`, Options{MaxAttempts: 11}, "max_attempts"},
		{"attempts negative", "email:send", `{}`, Options{MaxAttempts: -3}, "max_attempts"},
		{"bad backoff type", "email:send", `{}`, Options{BackoffType: "cubic"}, "backoff_type"},
		{"backoff too short", "email:send", `{}`, Options{BackoffDelay: 50 * time.Millisecond}, "backoff_delay"},
		{"bad payload", "email:send", `{broken`, Options{}, "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJob(tt.jobType, []byte(tt.payload), tt.opts)
			vErr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", vErr.Field, tt.field)
			}
		})
	}
}

func TestNewJob_BoundaryValuesAccepted(t *testing.T) {
	for _, p := range []int{MinPriority, MaxPriority} {
		if _, err := NewJob("email:send", nil, Options{Priority: p}); err != nil {
			t.Errorf("priority %d rejected: %v", p, err)
		}
	}
	for _, a := range []int{MinAttempts, MaxAttemptsBound} {
		if _, err := NewJob("email:send", nil, Options{MaxAttempts: a}); err != nil {
			t.Errorf("max_attempts %d rejected: %v", a, err)
		}
	}
}

func TestGenerateJobID_Format(t *testing.T) {
	now := time.UnixMilli(1735689600000).UTC()
	id := GenerateJobID("email:send", now)

	pattern := regexp.MustCompile(`^email-send-1735689600000-[0-9a-f]{6}$`)
	if !pattern.MatchString(id) {
		t.Errorf("id %q does not match {type}-{epochMillis}-{random6}", id)
	}

	other := GenerateJobID("email:send", now)
	if id == other {
		t.Errorf("two generated ids collided: %q", id)
	}
}

func TestNewJob_KeepsCallerSuppliedID(t *testing.T) {
	j, err := NewJob("email:send", nil, Options{JobID: "custom-42"})
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if j.JobID != "custom-42" {
		t.Errorf("JobID = %q, want custom-42", j.JobID)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusBatched},
		{StatusPending, StatusCancelled},
		{StatusBatched, StatusProcessing},
		{StatusBatched, StatusPending},
		{StatusProcessing, StatusCompleted},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusCancelled},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusCancelled},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("%s→%s should be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusCompleted},
		{StatusBatched, StatusCompleted},
		{StatusCompleted, StatusPending},
		{StatusCancelled, StatusPending},
		{StatusFailed, StatusCompleted},
	}
	for _, tr := range denied {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("%s→%s should be denied", tr.from, tr.to)
		}
	}

	if !Terminal(StatusCompleted) || !Terminal(StatusCancelled) {
		t.Error("completed and cancelled must be terminal")
	}
	if Terminal(StatusFailed) {
		t.Error("failed is not terminal, it may retry")
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", MaxErrorLen+500)
	if got := Truncate(long, MaxErrorLen); len(got) != MaxErrorLen {
		t.Errorf("len = %d, want %d", len(got), MaxErrorLen)
	}
	if got := Truncate("short", MaxErrorLen); got != "short" {
		t.Errorf("short string mangled: %q", got)
	}
}

func TestTruncate_NeverSplitsRune(t *testing.T) {
	// The two-byte é straddles the limit: byte MaxErrorLen falls on its
	// continuation byte, so a byte-offset cut would end mid-rune.
	s := strings.Repeat("x", MaxErrorLen-1) + "é" + strings.Repeat("x", 100)

	got := Truncate(s, MaxErrorLen)
	if len(got) > MaxErrorLen {
		t.Errorf("len = %d, want at most %d", len(got), MaxErrorLen)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got[len(got)-4:])
	}
	if got != strings.Repeat("x", MaxErrorLen-1) {
		t.Errorf("cut did not back up to the rune boundary, tail %q", got[len(got)-4:])
	}

	multi := strings.Repeat("日", 1000)
	got = Truncate(multi, MaxErrorLen)
	if !utf8.ValidString(got) || len(got) > MaxErrorLen {
		t.Errorf("multi-byte-only string mangled: len %d valid %v", len(got), utf8.ValidString(got))
	}
}
