package jobs

import "time"

// RetryPolicy defines exponential backoff parameters. The worker applies it
// to receive-step errors (to avoid hot-looping against an unavailable
// queue); per-message retry is queue-native via visibility timeout and
// max-receive-count, so no processor schedules its own redelivery.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// PollBackoffPolicy is the default backoff for worker receive errors.
var PollBackoffPolicy = RetryPolicy{
	MaxAttempts:   0, // unbounded; the poll loop never gives up
	BaseDelay:     1 * time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
}

// CalculateBackoff computes the delay before the next attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		// The < 0 branch guards against overflow at high attempt counts.
		d = policy.MaxDelay
	}
	return d
}
