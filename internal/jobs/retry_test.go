package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateBackoff_Exponential(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:     time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 1*time.Second, CalculateBackoff(policy, 0))
	assert.Equal(t, 2*time.Second, CalculateBackoff(policy, 1))
	assert.Equal(t, 4*time.Second, CalculateBackoff(policy, 2))
	assert.Equal(t, 32*time.Second, CalculateBackoff(policy, 5))
}

func TestCalculateBackoff_CapsAtMaxDelay(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:     time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 10*time.Second, CalculateBackoff(policy, 6))
	// Large attempt counts must not overflow into negatives.
	assert.Equal(t, 10*time.Second, CalculateBackoff(policy, 500))
}

func TestCalculateBackoff_NegativeAttemptTreatedAsZero(t *testing.T) {
	assert.Equal(t, PollBackoffPolicy.BaseDelay, CalculateBackoff(PollBackoffPolicy, -3))
}
