package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "remindd/pkg/logx"
)

// Store is the persistence API consumed by the engine: a per-owner record
// mapping plus a global time-ordered due index.
//
// Consistency contract: UpdateNextRun re-keys the index entry together with
// the record. Drivers without cross-key transactions may briefly diverge; the
// index is the authoritative trigger source and the record's NextRunAt is the
// authoritative value Reconcile re-derives index position from.
type Store interface {
	// Put assigns a fresh id, stores the record, and inserts the index entry.
	Put(ctx context.Context, r Reminder) (string, error)
	Get(ctx context.Context, owner int64, id string) (Reminder, error)
	// List returns all of an owner's reminders ascending by next-run instant.
	List(ctx context.Context, owner int64) ([]Reminder, error)
	// Update replaces the record keyed by (OwnerID, ID) and re-keys its
	// index entry.
	Update(ctx context.Context, r Reminder) error
	// UpdateNextRun re-stamps the record and moves its index entry.
	UpdateNextRun(ctx context.Context, owner int64, id string, at time.Time) error
	Delete(ctx context.Context, owner int64, id string) error
	// DueEntries returns index entries with key <= now, ascending by key.
	// It does not remove them; removal/update is the caller's responsibility
	// after processing, so a crash mid-delivery loses nothing.
	DueEntries(ctx context.Context, now time.Time) ([]Entry, error)
	// Quarantine removes the index entry and flags the record.
	Quarantine(ctx context.Context, owner int64, id, reason string) error
	// Quarantined returns all flagged records across owners, ordered by
	// (OwnerID, ID).
	Quarantined(ctx context.Context) ([]Reminder, error)
	// Reconcile re-derives index keys from record values and reports how many
	// entries were repaired.
	Reconcile(ctx context.Context) (int, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
