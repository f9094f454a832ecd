package domain

import (
	"testing"
	"time"
)

func TestNextBackoff_Fixed(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		got := NextBackoff(BackoffFixed, 5*time.Second, attempt, time.Minute)
		if got != 5*time.Second {
			t.Errorf("attempt %d: got %v, want 5s", attempt, got)
		}
	}
}

func TestNextBackoff_ExponentialDoubles(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		got := NextBackoff(BackoffExponential, time.Second, tt.attempt, time.Hour)
		if got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNextBackoff_ExponentialCaps(t *testing.T) {
	if got := NextBackoff(BackoffExponential, time.Second, 5, 10*time.Second); got != 10*time.Second {
		t.Errorf("got %v, want cap of 10s", got)
	}
	// Attempts far past the cap must not overflow.
	if got := NextBackoff(BackoffExponential, time.Second, 200, 10*time.Second); got != 10*time.Second {
		t.Errorf("got %v, want cap of 10s", got)
	}
}

func TestNextBackoff_ZeroAttemptClamped(t *testing.T) {
	if got := NextBackoff(BackoffExponential, time.Second, 0, time.Minute); got != time.Second {
		t.Errorf("got %v, want base delay", got)
	}
}
