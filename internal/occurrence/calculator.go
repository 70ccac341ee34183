// Package occurrence computes the next correct UTC instant for an annually
// recurring local-time event. The calculation is pure and deterministic:
// given the same event definition, reference instant, and timezone it always
// produces the same result, which makes this the most test-sensitive unit in
// the scheduling core.
//
// Conversion from local wall-clock to UTC always goes through the timezone
// database rules for the concrete candidate date, never a cached offset, so
// DST transitions cannot shift the local notification time.
package occurrence

import (
	"fmt"
	"time"

	"milestone/internal/types"
)

// maxYearProbe bounds the forward search for a valid occurrence year. Leap
// years are at most 8 years apart (1896 -> 1904), so probing 9 candidate
// years from the reference year always finds one even under the skip_year
// policy.
const maxYearProbe = 9

// LoadLocation resolves an IANA timezone identifier. An unresolvable
// identifier is a validation error, not an internal one: it means the stored
// user timezone is bad and the event can never be scheduled until fixed.
func LoadLocation(tz string) (*time.Location, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTimezone,
			fmt.Sprintf("cannot resolve timezone %q", tz), err)
	}
	return loc, nil
}

// Next returns the first UTC instant strictly after from at which the event
// is due in the given location.
//
// The candidate local date is built for from's calendar year first; if the
// resulting UTC instant is not strictly after from (the date already passed
// this year, or today's time already passed), the following year is tried.
// Under the default leap policy at most two years are ever probed; under
// skip_year, non-leap years produce no candidate for Feb-29 events and the
// search continues to the next leap year.
func Next(event *types.RecurringEvent, from time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidTimezone,
			"nil location", nil)
	}
	if err := validateDate(event); err != nil {
		return time.Time{}, err
	}

	startYear := from.In(loc).Year()
	for i := 0; i < maxYearProbe; i++ {
		candidate, ok := CandidateForYear(event, startYear+i, loc)
		if !ok {
			continue
		}
		if candidate.After(from) {
			return candidate, nil
		}
	}

	// Unreachable for valid dates: every 9-year window contains a leap year.
	return time.Time{}, types.NewAppError(types.ErrCodeInternalUnexpected,
		fmt.Sprintf("no occurrence found for event %s within %d years", event.ID, maxYearProbe), nil)
}

// CandidateForYear builds the UTC occurrence instant for the event in a
// specific calendar year. ok is false when the event's leap policy skips
// the year entirely (Feb-29 under skip_year in a non-leap year).
//
// The recovery scanner uses this directly to enumerate occurrences across a
// window of years without the strictly-after filter that Next applies.
func CandidateForYear(event *types.RecurringEvent, year int, loc *time.Location) (time.Time, bool) {
	month, day := event.Month, event.Day

	if month == time.February && day == 29 && !IsLeapYear(year) {
		switch event.LeapPolicy {
		case types.LeapPolicySkipYear:
			return time.Time{}, false
		default: // use_feb_28
			day = 28
		}
	}

	// time.Date applies the location's offset rules for this exact wall
	// clock, so the local projection of the result is always the configured
	// notification time regardless of DST state on that date.
	local := time.Date(year, month, day,
		event.NotifyHour, event.NotifyMinute, event.NotifySecond, 0, loc)

	return local.UTC(), true
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// validateDate rejects month/day pairs that can never form a real calendar
// date. Feb-29 is allowed; its per-year resolution is the leap policy's job.
func validateDate(event *types.RecurringEvent) error {
	if event.Month < time.January || event.Month > time.December {
		return types.NewAppError(types.ErrCodeValidationInvalidDate,
			fmt.Sprintf("invalid month %d", event.Month), nil)
	}
	if event.Day < 1 || event.Day > daysInMonthMax(event.Month) {
		return types.NewAppError(types.ErrCodeValidationInvalidDate,
			fmt.Sprintf("invalid day %d for month %s", event.Day, event.Month), nil)
	}
	if event.NotifyHour < 0 || event.NotifyHour > 23 ||
		event.NotifyMinute < 0 || event.NotifyMinute > 59 ||
		event.NotifySecond < 0 || event.NotifySecond > 59 {
		return types.NewAppError(types.ErrCodeValidationInvalidDate,
			fmt.Sprintf("invalid notification time %02d:%02d:%02d",
				event.NotifyHour, event.NotifyMinute, event.NotifySecond), nil)
	}
	return nil
}

// daysInMonthMax returns the maximum day number the month can have in any
// year (29 for February).
func daysInMonthMax(m time.Month) int {
	switch m {
	case time.February:
		return 29
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}
