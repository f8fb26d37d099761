package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrComputation is an internal fault while resolving a civil date. It should
// not occur for validated schedules; callers quarantine the reminder instead
// of silently advancing or deleting it.
var ErrComputation = errors.New("schedule computation failed")

// Next returns the next qualifying occurrence of s strictly after now,
// expressed as an absolute instant, or ok=false when the schedule has no
// further occurrences (a once schedule whose instant has passed).
//
// All arithmetic happens in the local civil calendar of loc, so occurrences
// stay pinned to wall-clock time across daylight-saving transitions.
// Equality with now counts as "already passed": this guarantees forward
// progress and keeps a recompute from re-firing the same instant.
func Next(s Schedule, loc *time.Location, now time.Time) (time.Time, bool, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	switch s.Kind {
	case KindOnce:
		t, err := civil(s.Date.Year, s.Date.Month, s.Date.Day, s.At, loc)
		if err != nil {
			return time.Time{}, false, err
		}
		if t.After(now) {
			return t, true, nil
		}
		// Expired one-time schedules are never auto-advanced.
		return time.Time{}, false, nil

	case KindDaily:
		y, m, d := local.Date()
		t, err := civil(y, m, d, s.At, loc)
		if err != nil {
			return time.Time{}, false, err
		}
		if !t.After(now) {
			t, err = civil(y, m, d+1, s.At, loc)
			if err != nil {
				return time.Time{}, false, err
			}
		}
		return t, true, nil

	case KindWeekly:
		y, m, d := local.Date()
		until := (int(s.Weekday) - int(local.Weekday()) + 7) % 7
		t, err := civil(y, m, d+until, s.At, loc)
		if err != nil {
			return time.Time{}, false, err
		}
		if until == 0 && !t.After(now) {
			t, err = civil(y, m, d+7, s.At, loc)
			if err != nil {
				return time.Time{}, false, err
			}
		}
		return t, true, nil

	case KindMonthly:
		y, m := local.Year(), local.Month()
		t, err := civil(y, m, clampDay(y, m, s.DayOfMonth), s.At, loc)
		if err != nil {
			return time.Time{}, false, err
		}
		if !t.After(now) {
			ny, nm := y, m+1
			if nm > time.December {
				ny, nm = y+1, time.January
			}
			t, err = civil(ny, nm, clampDay(ny, nm, s.DayOfMonth), s.At, loc)
			if err != nil {
				return time.Time{}, false, err
			}
		}
		return t, true, nil

	default:
		return time.Time{}, false, fmt.Errorf("%w: unknown kind %q", ErrComputation, s.Kind)
	}
}

// civil builds the instant for a local calendar day plus wall-clock time.
// Day may be out of range for the month; time.Date normalizes it, which is
// how day arithmetic (d+1, d+7) rolls over months and years. A time falling
// into a daylight-saving gap normalizes forward; that is accepted. A date
// whose normalization lands on a different day than requested only happens
// for arithmetic inputs, so the day check applies to direct dates via
// Schedule validation instead.
func civil(year int, month time.Month, day int, at TimeOfDay, loc *time.Location) (time.Time, error) {
	t := time.Date(year, month, day, at.Hour, at.Minute, 0, 0, loc)
	if t.IsZero() {
		return time.Time{}, fmt.Errorf("%w: unresolvable date %04d-%02d-%02d", ErrComputation, year, int(month), day)
	}
	return t, nil
}

// clampDay bounds a requested day of month to the month's last valid day.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}
