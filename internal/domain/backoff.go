package domain

import "time"

// BackoffType selects the retry delay policy for a job.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// NextBackoff computes the delay before a failed job becomes eligible
// again. attempts is the failure count after the increment (1-indexed).
// Fixed returns delay unchanged; exponential returns delay × 2^(attempts-1)
// capped at max. A non-positive max disables the cap.
func NextBackoff(bt BackoffType, delay time.Duration, attempts int, max time.Duration) time.Duration {
	if bt == BackoffFixed {
		return delay
	}
	if attempts < 1 {
		attempts = 1
	}
	d := delay
	for i := 1; i < attempts; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
