//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps both the record and its index position in one row; the
// idx_reminders_due index gives the "keys <= now" range scan. UpdateNextRun
// is a single UPDATE, so record and index key move atomically.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, r Reminder) (string, error) {
	r.ID = newID()
	sched, err := json.Marshal(r.Schedule)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders(owner_id, id, text, schedule, timezone, next_run_ms, created_ms, quarantined, quarantine_reason)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.OwnerID, r.ID, r.Text, string(sched), r.Timezone,
		r.NextRunAt.UnixMilli(), r.CreatedAt.UnixMilli(), boolInt(r.Quarantined), nullStr(r.QuarantineReason),
	)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *sqliteStore) Get(ctx context.Context, owner int64, id string) (Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT owner_id, id, text, schedule, timezone, next_run_ms, created_ms, quarantined, quarantine_reason
		 FROM reminders WHERE owner_id = ? AND id = ?`, owner, id)
	return scanReminder(row)
}

func (s *sqliteStore) List(ctx context.Context, owner int64) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, id, text, schedule, timezone, next_run_ms, created_ms, quarantined, quarantine_reason
		 FROM reminders WHERE owner_id = ? ORDER BY next_run_ms, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateNextRun(ctx context.Context, owner int64, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET next_run_ms = ? WHERE owner_id = ? AND id = ?`,
		at.UnixMilli(), owner, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) Update(ctx context.Context, r Reminder) error {
	sched, err := json.Marshal(r.Schedule)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET text = ?, schedule = ?, timezone = ?, next_run_ms = ?, quarantined = ?, quarantine_reason = ?
		 WHERE owner_id = ? AND id = ?`,
		r.Text, string(sched), r.Timezone, r.NextRunAt.UnixMilli(),
		boolInt(r.Quarantined), nullStr(r.QuarantineReason), r.OwnerID, r.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) Delete(ctx context.Context, owner int64, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE owner_id = ? AND id = ?`, owner, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) DueEntries(ctx context.Context, now time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT next_run_ms, owner_id, id FROM reminders
		 WHERE quarantined = 0 AND next_run_ms <= ? ORDER BY next_run_ms, id`,
		now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var ms int64
		var e Entry
		if err := rows.Scan(&ms, &e.OwnerID, &e.ID); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Quarantine(ctx context.Context, owner int64, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET quarantined = 1, quarantine_reason = ? WHERE owner_id = ? AND id = ?`,
		nullStr(reason), owner, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) Quarantined(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, id, text, schedule, timezone, next_run_ms, created_ms, quarantined, quarantine_reason
		 FROM reminders WHERE quarantined = 1 ORDER BY owner_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Reconcile(ctx context.Context) (int, error) {
	// Record and index key live in the same row; nothing can drift.
	_ = ctx
	return 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (Reminder, error) {
	var r Reminder
	var sched string
	var nextMS, createdMS int64
	var quarantined int
	var reason sql.NullString
	err := row.Scan(&r.OwnerID, &r.ID, &r.Text, &sched, &r.Timezone, &nextMS, &createdMS, &quarantined, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrNotFound
	}
	if err != nil {
		return Reminder{}, err
	}
	if err := json.Unmarshal([]byte(sched), &r.Schedule); err != nil {
		return Reminder{}, err
	}
	r.NextRunAt = time.UnixMilli(nextMS)
	r.CreatedAt = time.UnixMilli(createdMS)
	r.Quarantined = quarantined != 0
	r.QuarantineReason = reason.String
	return r, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
