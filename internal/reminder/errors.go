package reminder

import "errors"

var (
	// ErrInvalidText rejects empty or oversized reminder text.
	ErrInvalidText = errors.New("invalid reminder text")

	// ErrInvalidSchedule covers malformed timing input and schedules that
	// could never fire (e.g. a one-shot in the past).
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrInvalidTimezone is returned when the zone name does not resolve in
	// the IANA database.
	ErrInvalidTimezone = errors.New("invalid timezone")

	ErrNotFound = errors.New("reminder not found")

	// ErrStoreUnavailable wraps persistence failures so callers can
	// distinguish them from input errors.
	ErrStoreUnavailable = errors.New("reminder store unavailable")
)
