package storage

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"remindd/internal/schedule"
)

var (
	// ErrNotFound is returned by operations on ids that no longer exist
	// (e.g. deleted concurrently by the user).
	ErrNotFound = errors.New("reminder not found")

	ErrClosed = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process store (tests, throwaway runs)
//   - "file":   dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Reminder is the persisted record. NextRunAt is cached: it is the earliest
// future firing consistent with Schedule and Timezone as of its last
// computation, re-stamped by the dispatch loop after each firing.
type Reminder struct {
	ID        string            `json:"id"`
	OwnerID   int64             `json:"owner_id"`
	Text      string            `json:"text"`
	Schedule  schedule.Schedule `json:"schedule"`
	Timezone  string            `json:"timezone"`
	NextRunAt time.Time         `json:"next_run_at"`
	CreatedAt time.Time         `json:"created_at"`

	// Quarantined records are kept out of the due index but retained for
	// inspection after an engine-fatal computation error.
	Quarantined      bool   `json:"quarantined,omitempty"`
	QuarantineReason string `json:"quarantine_reason,omitempty"`
}

// Entry is a due-index entry: (next-run instant, owner, reminder id).
type Entry struct {
	At      time.Time
	OwnerID int64
	ID      string
}

func newID() string { return uuid.NewString() }

func sortQuarantined(rs []Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].OwnerID != rs[j].OwnerID {
			return rs[i].OwnerID < rs[j].OwnerID
		}
		return rs[i].ID < rs[j].ID
	})
}
