package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is returned when a schedule cannot be constructed from the given
// fields. It is a caller error, surfaced synchronously and never retried.
var ErrInvalid = errors.New("invalid schedule")

// Kind discriminates the stored schedule variants.
//
// Multi-day and relative intents exist only at the input boundary (see Spec):
// multi-day fans out into independent weekly schedules at creation time and
// relative resolves into a concrete once schedule.
type Kind string

const (
	KindOnce    Kind = "once"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

// TimeOfDay is a 24-hour wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseTimeOfDay parses a strict 24-hour "HH:MM" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: time %q, expected HH:MM", ErrInvalid, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: hour in %q", ErrInvalid, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: minute in %q", ErrInvalid, s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Date is a civil calendar date without an attached zone.
type Date struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

// ParseDate parses a strict "YYYY-MM-DD" string into a valid calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q, expected YYYY-MM-DD", ErrInvalid, s)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// DateOf extracts the civil date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) valid() bool {
	if d.Month < time.January || d.Month > time.December || d.Day < 1 {
		return false
	}
	// Round-trip through time.Date catches short months.
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	return t.Year() == d.Year && t.Month() == d.Month && t.Day() == d.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Schedule is the stored timing intent of a reminder. Exactly one variant is
// active, discriminated by Kind; each variant carries only the fields its
// constructor validated. Construct via Once/Daily/Weekly/Monthly.
type Schedule struct {
	Kind Kind      `json:"kind"`
	At   TimeOfDay `json:"at"`

	// Once only.
	Date Date `json:"date,omitempty"`
	// Weekly only. 0 = Sunday, matching time.Weekday.
	Weekday time.Weekday `json:"weekday,omitempty"`
	// Monthly only, 1..31. Months shorter than DayOfMonth clamp to their
	// last day.
	DayOfMonth int `json:"day_of_month,omitempty"`
}

// Once fires a single time at the given local date and time, then retires.
func Once(date Date, at TimeOfDay) (Schedule, error) {
	s := Schedule{Kind: KindOnce, At: at, Date: date}
	return s, s.Validate()
}

// Daily fires every day at the given local time.
func Daily(at TimeOfDay) (Schedule, error) {
	s := Schedule{Kind: KindDaily, At: at}
	return s, s.Validate()
}

// Weekly fires every week on the given weekday at the given local time.
func Weekly(day time.Weekday, at TimeOfDay) (Schedule, error) {
	s := Schedule{Kind: KindWeekly, At: at, Weekday: day}
	return s, s.Validate()
}

// Monthly fires on the given calendar day each month at the given local time.
func Monthly(dayOfMonth int, at TimeOfDay) (Schedule, error) {
	s := Schedule{Kind: KindMonthly, At: at, DayOfMonth: dayOfMonth}
	return s, s.Validate()
}

// Validate reports whether the schedule is a well-formed variant.
func (s Schedule) Validate() error {
	if !s.At.valid() {
		return fmt.Errorf("%w: time %02d:%02d out of range", ErrInvalid, s.At.Hour, s.At.Minute)
	}
	switch s.Kind {
	case KindOnce:
		if !s.Date.valid() {
			return fmt.Errorf("%w: date %s is not a calendar date", ErrInvalid, s.Date)
		}
	case KindDaily:
	case KindWeekly:
		if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range [0,6]", ErrInvalid, int(s.Weekday))
		}
	case KindMonthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fmt.Errorf("%w: day of month %d out of range [1,31]", ErrInvalid, s.DayOfMonth)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, s.Kind)
	}
	return nil
}

// Recurring reports whether the schedule produces more than one occurrence.
func (s Schedule) Recurring() bool { return s.Kind != KindOnce }

func (s Schedule) String() string {
	switch s.Kind {
	case KindOnce:
		return fmt.Sprintf("once %s %s", s.Date, s.At)
	case KindDaily:
		return fmt.Sprintf("daily %s", s.At)
	case KindWeekly:
		return fmt.Sprintf("weekly %s %s", strings.ToLower(s.Weekday.String()), s.At)
	case KindMonthly:
		return fmt.Sprintf("monthly day %d %s", s.DayOfMonth, s.At)
	default:
		return string(s.Kind)
	}
}
