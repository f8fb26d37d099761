package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"remindd/internal/schedule"
	logx "remindd/pkg/logx"
)

func testReminder(owner int64, text string, nextRun time.Time) Reminder {
	at, _ := schedule.ParseTimeOfDay("09:00")
	s, _ := schedule.Daily(at)
	return Reminder{
		OwnerID:   owner,
		Text:      text,
		Schedule:  s,
		Timezone:  "Europe/Warsaw",
		NextRunAt: nextRun,
		CreatedAt: nextRun.Add(-time.Hour),
	}
}

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"file":   fileStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			defer st.Close()

			id1, err := st.Put(ctx, testReminder(1, "second", base.Add(2*time.Hour)))
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			id2, err := st.Put(ctx, testReminder(1, "first", base.Add(time.Hour)))
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := st.Put(ctx, testReminder(2, "other owner", base.Add(30*time.Minute))); err != nil {
				t.Fatalf("put: %v", err)
			}
			if id1 == id2 {
				t.Fatalf("ids not unique: %s", id1)
			}

			got, err := st.Get(ctx, 1, id1)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Text != "second" || got.Schedule.Kind != schedule.KindDaily {
				t.Fatalf("get returned %+v", got)
			}
			if _, err := st.Get(ctx, 1, "nope"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get missing: err = %v, want ErrNotFound", err)
			}
			if _, err := st.Get(ctx, 2, id1); !errors.Is(err, ErrNotFound) {
				t.Fatalf("cross-owner get: err = %v, want ErrNotFound", err)
			}

			// List is per owner, ascending by next run.
			list, err := st.List(ctx, 1)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 2 || list[0].Text != "first" || list[1].Text != "second" {
				t.Fatalf("list = %+v", list)
			}

			// Due scan honors the cutoff and ordering across owners.
			due, err := st.DueEntries(ctx, base.Add(90*time.Minute))
			if err != nil {
				t.Fatalf("due: %v", err)
			}
			if len(due) != 2 {
				t.Fatalf("due = %+v, want 2 entries", due)
			}
			if due[0].OwnerID != 2 || due[1].ID != id2 {
				t.Fatalf("due order = %+v", due)
			}
			// Non-destructive read.
			again, err := st.DueEntries(ctx, base.Add(90*time.Minute))
			if err != nil || len(again) != 2 {
				t.Fatalf("second due scan = %v entries, err=%v", len(again), err)
			}

			// Update moves the index entry with the record.
			if err := st.UpdateNextRun(ctx, 1, id2, base.Add(3*time.Hour)); err != nil {
				t.Fatalf("update: %v", err)
			}
			due, err = st.DueEntries(ctx, base.Add(90*time.Minute))
			if err != nil || len(due) != 1 {
				t.Fatalf("after update due = %+v, err=%v", due, err)
			}
			if err := st.UpdateNextRun(ctx, 1, "nope", base); !errors.Is(err, ErrNotFound) {
				t.Fatalf("update missing: err = %v", err)
			}

			// Quarantine drops the index entry, keeps the record flagged.
			if err := st.Quarantine(ctx, 2, due[0].ID, "boom"); err != nil {
				t.Fatalf("quarantine: %v", err)
			}
			due, err = st.DueEntries(ctx, base.Add(24*time.Hour))
			if err != nil {
				t.Fatalf("due: %v", err)
			}
			for _, e := range due {
				if e.OwnerID == 2 {
					t.Fatalf("quarantined reminder still in index: %+v", e)
				}
			}
			// The record itself stays readable, flagged with the reason.
			list2, err := st.List(ctx, 2)
			if err != nil || len(list2) != 1 || !list2[0].Quarantined || list2[0].QuarantineReason != "boom" {
				t.Fatalf("quarantined record = %+v, err=%v", list2, err)
			}
			qs, err := st.Quarantined(ctx)
			if err != nil || len(qs) != 1 || qs[0].OwnerID != 2 {
				t.Fatalf("quarantined listing = %+v, err=%v", qs, err)
			}

			// Delete removes the record and the index entry.
			if err := st.Delete(ctx, 1, id2); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.Delete(ctx, 1, id2); !errors.Is(err, ErrNotFound) {
				t.Fatalf("double delete: err = %v", err)
			}
		})
	}
}

func TestFileStoreReopenRecoversIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store")
	base := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := st.Put(ctx, testReminder(7, "persisted", base))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.UpdateNextRun(ctx, 7, id, base.Add(time.Hour)); err != nil {
		t.Fatalf("update: %v", err)
	}
	moved, err := st.Get(ctx, 7, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	moved.Timezone = "America/New_York"
	if err := st.Update(ctx, moved); err != nil {
		t.Fatalf("replace: %v", err)
	}
	qid, err := st.Put(ctx, testReminder(7, "broken", base))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Quarantine(ctx, 7, qid, "bad zone"); err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: records are the authoritative value, the index is re-derived.
	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	got, err := st.Get(ctx, 7, id)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if !got.NextRunAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("next run after reopen = %v, want %v", got.NextRunAt, base.Add(time.Hour))
	}
	if got.Timezone != "America/New_York" {
		t.Fatalf("timezone after reopen = %q", got.Timezone)
	}
	due, err := st.DueEntries(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("due after reopen: %v", err)
	}
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("due after reopen = %+v", due)
	}
	qr, err := st.Get(ctx, 7, qid)
	if err != nil {
		t.Fatalf("get quarantined: %v", err)
	}
	if !qr.Quarantined || qr.QuarantineReason != "bad zone" {
		t.Fatalf("quarantine flag lost on reopen: %+v", qr)
	}
}

func TestMemoryReconcileRepairsDriftedIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	st := NewMemory().(*memStore)

	id, err := st.Put(ctx, testReminder(1, "r", base))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// Simulate a crash between the record write and the index move: the
	// record advanced but the index entry kept its stale key.
	st.mu.Lock()
	r := st.records[1][id]
	r.NextRunAt = base.Add(time.Hour)
	st.records[1][id] = r
	st.mu.Unlock()

	fixed, err := st.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if fixed != 1 {
		t.Fatalf("fixed = %d, want 1", fixed)
	}
	due, err := st.DueEntries(ctx, base)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("stale index entry survived reconcile: %+v", due)
	}
	due, err = st.DueEntries(ctx, base.Add(time.Hour))
	if err != nil || len(due) != 1 || !due[0].At.Equal(base.Add(time.Hour)) {
		t.Fatalf("repaired entry = %+v, err=%v", due, err)
	}
}
