package occurrence

import (
	"fmt"
	"strconv"
	"strings"
)

// IdempotencyKey derives the stable key identifying one (event, year) pair:
// "event:{eventID}:{year}". The same pair always yields the same key, and
// the year component lets the same event be rescheduled annually without
// collision. Repeated scheduling runs converge on this key.
func IdempotencyKey(eventID string, year int) string {
	return fmt.Sprintf("event:%s:%d", eventID, year)
}

// ParseIdempotencyKey splits a key produced by IdempotencyKey back into its
// event ID and year. Used by operational tooling; the worker never needs to
// parse keys.
func ParseIdempotencyKey(key string) (eventID string, year int, err error) {
	rest, ok := strings.CutPrefix(key, "event:")
	if !ok {
		return "", 0, fmt.Errorf("idempotency key %q missing event prefix", key)
	}
	idx := strings.LastIndexByte(rest, ':')
	if idx <= 0 {
		return "", 0, fmt.Errorf("idempotency key %q missing year component", key)
	}
	year, err = strconv.Atoi(rest[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("idempotency key %q has non-numeric year: %w", key, err)
	}
	return rest[:idx], year, nil
}
