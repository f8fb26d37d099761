package schedule

import (
	"fmt"
	"time"
)

// Spec is the caller-facing timing intent, before it is compiled into the
// stored form. It is a closed set: the spec() marker keeps callers from
// injecting their own variants, so each case carries exactly the fields it
// needs and invalid combinations are unrepresentable.
type Spec interface{ spec() }

// OnceSpec fires a single time at the given local date and time.
type OnceSpec struct {
	Date string // "YYYY-MM-DD"
	Time string // "HH:MM"
}

// DailySpec fires every day at the given local time.
type DailySpec struct {
	Time string
}

// WeeklySpec fires weekly on DayOfWeek (0 = Sunday) at the given local time.
type WeeklySpec struct {
	Time      string
	DayOfWeek int
}

// MultiDaySpec fires weekly on each listed day. It is creation-time sugar: it
// compiles into one independent weekly schedule per day and is never stored
// as a compound entity.
type MultiDaySpec struct {
	Time       string
	DaysOfWeek []int
}

// MonthlySpec fires on DayOfMonth (1..31) each month; shorter months clamp to
// their last day.
type MonthlySpec struct {
	Time       string
	DayOfMonth int
}

// RelativeSpec fires once, Minutes after creation. It is resolved eagerly
// into a concrete once schedule; the firing instant is zone-agnostic by
// construction.
type RelativeSpec struct {
	Minutes int
}

func (OnceSpec) spec()     {}
func (DailySpec) spec()    {}
func (WeeklySpec) spec()   {}
func (MultiDaySpec) spec() {}
func (MonthlySpec) spec()  {}
func (RelativeSpec) spec() {}

// Compile validates a spec and expands it into stored schedules, in the local
// calendar of loc with now as the creation instant. Most specs compile to a
// single schedule; MultiDaySpec yields one weekly schedule per distinct day.
func Compile(sp Spec, loc *time.Location, now time.Time) ([]Schedule, error) {
	switch v := sp.(type) {
	case OnceSpec:
		at, err := ParseTimeOfDay(v.Time)
		if err != nil {
			return nil, err
		}
		date, err := ParseDate(v.Date)
		if err != nil {
			return nil, err
		}
		s, err := Once(date, at)
		if err != nil {
			return nil, err
		}
		return []Schedule{s}, nil

	case DailySpec:
		at, err := ParseTimeOfDay(v.Time)
		if err != nil {
			return nil, err
		}
		s, err := Daily(at)
		if err != nil {
			return nil, err
		}
		return []Schedule{s}, nil

	case WeeklySpec:
		at, err := ParseTimeOfDay(v.Time)
		if err != nil {
			return nil, err
		}
		s, err := Weekly(time.Weekday(v.DayOfWeek), at)
		if err != nil {
			return nil, err
		}
		return []Schedule{s}, nil

	case MultiDaySpec:
		at, err := ParseTimeOfDay(v.Time)
		if err != nil {
			return nil, err
		}
		if len(v.DaysOfWeek) == 0 {
			return nil, fmt.Errorf("%w: multi-day schedule needs at least one day", ErrInvalid)
		}
		seen := map[int]bool{}
		out := make([]Schedule, 0, len(v.DaysOfWeek))
		for _, d := range v.DaysOfWeek {
			if seen[d] {
				continue
			}
			seen[d] = true
			s, err := Weekly(time.Weekday(d), at)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil

	case MonthlySpec:
		at, err := ParseTimeOfDay(v.Time)
		if err != nil {
			return nil, err
		}
		s, err := Monthly(v.DayOfMonth, at)
		if err != nil {
			return nil, err
		}
		return []Schedule{s}, nil

	case RelativeSpec:
		if v.Minutes <= 0 {
			return nil, fmt.Errorf("%w: relative minutes must be > 0", ErrInvalid)
		}
		fireAt := now.Add(time.Duration(v.Minutes) * time.Minute).In(loc)
		s, err := Once(DateOf(fireAt), TimeOfDay{Hour: fireAt.Hour(), Minute: fireAt.Minute()})
		if err != nil {
			return nil, err
		}
		return []Schedule{s}, nil

	default:
		return nil, fmt.Errorf("%w: unknown spec type %T", ErrInvalid, sp)
	}
}
