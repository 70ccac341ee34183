// Package main is an operator tool that previews occurrence calculations
// without touching the database or queue. Useful for verifying DST and
// leap-day behavior for a given event definition:
//
//	go run ./cmd/tools/occurrences -kind birthday -month 2 -day 29 \
//	    -tz America/New_York -policy use_feb_28 -count 5
//
// It can also decode an idempotency key pulled from a queue message or the
// dead-letter queue:
//
//	go run ./cmd/tools/occurrences -key event:evt_123:2025
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"milestone/internal/occurrence"
	"milestone/internal/types"
)

func main() {
	var (
		kind   = flag.String("kind", "birthday", "event kind (birthday, anniversary)")
		month  = flag.Int("month", 1, "event month (1-12)")
		day    = flag.Int("day", 1, "event day of month")
		hour   = flag.Int("hour", 9, "local notify hour (0-23)")
		minute = flag.Int("minute", 0, "local notify minute")
		second = flag.Int("second", 0, "local notify second")
		tz     = flag.String("tz", "UTC", "IANA timezone of the event owner")
		policy = flag.String("policy", string(types.LeapPolicyUseFeb28), "leap policy for Feb 29 events (use_feb_28, skip_year)")
		from   = flag.String("from", "", "compute occurrences after this RFC 3339 instant (default: now)")
		count  = flag.Int("count", 3, "number of occurrences to print")
		key    = flag.String("key", "", "decode an idempotency key and exit")
	)
	flag.Parse()

	_ = godotenv.Load()

	if *key != "" {
		eventID, year, err := occurrence.ParseIdempotencyKey(*key)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("event_id: %s\nyear:     %d\n", eventID, year)
		return
	}

	if !types.ValidEventKind(types.EventKind(*kind)) {
		fatalf("unknown event kind %q", *kind)
	}

	start := time.Now().UTC()
	if *from != "" {
		parsed, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			fatalf("invalid -from value: %v", err)
		}
		start = parsed.UTC()
	}

	event := &types.RecurringEvent{
		ID:           "preview",
		Kind:         types.EventKind(*kind),
		Month:        time.Month(*month),
		Day:          *day,
		NotifyHour:   *hour,
		NotifyMinute: *minute,
		NotifySecond: *second,
		Enabled:      true,
		LeapPolicy:   types.LeapYearPolicy(*policy),
	}

	loc, err := occurrence.LoadLocation(*tz)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("event: %s %02d-%02d %02d:%02d:%02d %s (policy %s)\n",
		*kind, *month, *day, *hour, *minute, *second, *tz, *policy)
	fmt.Printf("from:  %s\n\n", start.Format(time.RFC3339))

	cursor := start
	for i := 0; i < *count; i++ {
		next, err := occurrence.Next(event, cursor, loc)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%2d. %s  (local %s, key %s)\n",
			i+1,
			next.Format(time.RFC3339),
			next.In(loc).Format("2006-01-02 15:04:05 MST"),
			occurrence.IdempotencyKey(event.ID, next.Year()),
		)
		cursor = next
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "occurrences: "+format+"\n", args...)
	os.Exit(1)
}
