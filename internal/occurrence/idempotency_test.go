package occurrence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyKey_Format(t *testing.T) {
	assert.Equal(t, "event:evt_42:2026", IdempotencyKey("evt_42", 2026))
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	assert.Equal(t, IdempotencyKey("evt_1", 2025), IdempotencyKey("evt_1", 2025))
	assert.NotEqual(t, IdempotencyKey("evt_1", 2025), IdempotencyKey("evt_1", 2026))
	assert.NotEqual(t, IdempotencyKey("evt_1", 2025), IdempotencyKey("evt_2", 2025))
}

func TestParseIdempotencyKey_RoundTrip(t *testing.T) {
	eventID, year, err := ParseIdempotencyKey(IdempotencyKey("evt_abc", 2031))
	require.NoError(t, err)
	assert.Equal(t, "evt_abc", eventID)
	assert.Equal(t, 2031, year)
}

func TestParseIdempotencyKey_EventIDWithColon(t *testing.T) {
	// Event IDs containing colons must survive the round trip; the year is
	// always the segment after the last colon.
	eventID, year, err := ParseIdempotencyKey("event:tenant:9:2027")
	require.NoError(t, err)
	assert.Equal(t, "tenant:9", eventID)
	assert.Equal(t, 2027, year)
}

func TestParseIdempotencyKey_Malformed(t *testing.T) {
	for _, key := range []string{"", "evt_1:2026", "event:", "event:evt_1", "event:evt_1:notayear"} {
		_, _, err := ParseIdempotencyKey(key)
		assert.Error(t, err, key)
	}
}
