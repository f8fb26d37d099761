package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "remindd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.reminders.snapshot.json (periodic snapshot of all records)
//   - <prefix>.reminders.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot. The due index is
// held in memory and rebuilt from records at open, which doubles as the
// crash-recovery path: records are the authoritative value.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	records map[int64]map[string]Reminder
	index   []Entry

	writes int
	closed bool
}

type journalRecord struct {
	Op       string    `json:"op"` // put | update | delete | quarantine
	Reminder *Reminder `json:"reminder,omitempty"`
	OwnerID  int64     `json:"owner_id,omitempty"`
	ID       string    `json:"id,omitempty"`
	At       time.Time `json:"at,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".reminders.snapshot.json"
	journalPath := prefix + ".reminders.journal.jsonl"

	records := map[int64]map[string]Reminder{}
	_ = loadSnapshot(snapPath, records)
	_ = replayJournal(journalPath, records)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		records:      records,
	}
	s.rebuildIndexLocked()
	return s, nil
}

func (s *fileStore) Put(ctx context.Context, r Reminder) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	r.ID = newID()
	if err := s.appendLocked(journalRecord{Op: "put", Reminder: &r}); err != nil {
		return "", err
	}
	applyPut(s.records, r)
	if !r.Quarantined {
		s.insertLocked(Entry{At: r.NextRunAt, OwnerID: r.OwnerID, ID: r.ID})
	}
	return r.ID, nil
}

func (s *fileStore) Get(ctx context.Context, owner int64, id string) (Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Reminder{}, ErrClosed
	}
	r, ok := s.records[owner][id]
	if !ok {
		return Reminder{}, ErrNotFound
	}
	return r, nil
}

func (s *fileStore) List(ctx context.Context, owner int64) ([]Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Reminder, 0, len(s.records[owner]))
	for _, r := range s.records[owner] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(out[j].NextRunAt) {
			return out[i].NextRunAt.Before(out[j].NextRunAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fileStore) UpdateNextRun(ctx context.Context, owner int64, id string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.records[owner][id]
	if !ok {
		return ErrNotFound
	}
	if err := s.appendLocked(journalRecord{Op: "update", OwnerID: owner, ID: id, At: at}); err != nil {
		return err
	}
	r.NextRunAt = at
	s.records[owner][id] = r
	s.removeLocked(owner, id)
	if !r.Quarantined {
		s.insertLocked(Entry{At: at, OwnerID: owner, ID: id})
	}
	return nil
}

func (s *fileStore) Update(ctx context.Context, r Reminder) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[r.OwnerID][r.ID]; !ok {
		return ErrNotFound
	}
	// A put with an existing id is a replace on replay.
	if err := s.appendLocked(journalRecord{Op: "put", Reminder: &r}); err != nil {
		return err
	}
	s.records[r.OwnerID][r.ID] = r
	s.removeLocked(r.OwnerID, r.ID)
	if !r.Quarantined {
		s.insertLocked(Entry{At: r.NextRunAt, OwnerID: r.OwnerID, ID: r.ID})
	}
	return nil
}

func (s *fileStore) Delete(ctx context.Context, owner int64, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[owner][id]; !ok {
		return ErrNotFound
	}
	if err := s.appendLocked(journalRecord{Op: "delete", OwnerID: owner, ID: id}); err != nil {
		return err
	}
	delete(s.records[owner], id)
	if len(s.records[owner]) == 0 {
		delete(s.records, owner)
	}
	s.removeLocked(owner, id)
	return nil
}

func (s *fileStore) DueEntries(ctx context.Context, now time.Time) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	n := sort.Search(len(s.index), func(i int) bool { return s.index[i].At.After(now) })
	out := make([]Entry, n)
	copy(out, s.index[:n])
	return out, nil
}

func (s *fileStore) Quarantine(ctx context.Context, owner int64, id, reason string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.records[owner][id]
	if !ok {
		return ErrNotFound
	}
	if err := s.appendLocked(journalRecord{Op: "quarantine", OwnerID: owner, ID: id, Reason: reason}); err != nil {
		return err
	}
	r.Quarantined = true
	r.QuarantineReason = reason
	s.records[owner][id] = r
	s.removeLocked(owner, id)
	return nil
}

func (s *fileStore) Quarantined(ctx context.Context) ([]Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Reminder
	for _, owned := range s.records {
		for _, r := range owned {
			if r.Quarantined {
				out = append(out, r)
			}
		}
	}
	sortQuarantined(out)
	return out, nil
}

func (s *fileStore) Reconcile(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	prev := map[string]time.Time{}
	for _, e := range s.index {
		prev[e.ID] = e.At
	}
	fixed := 0
	s.rebuildIndexLocked()
	for _, e := range s.index {
		if at, ok := prev[e.ID]; !ok || !at.Equal(e.At) {
			fixed++
		}
	}
	return fixed, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	// Compact on close so the next open replays a short journal.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("compact on close failed", logx.Err(err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	all := make([]Reminder, 0, 64)
	for _, owned := range s.records {
		for _, r := range owned {
			all = append(all, r)
		}
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(all); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) rebuildIndexLocked() {
	s.index = s.index[:0]
	for owner, owned := range s.records {
		for id, r := range owned {
			if r.Quarantined {
				continue
			}
			s.index = append(s.index, Entry{At: r.NextRunAt, OwnerID: owner, ID: id})
		}
	}
	sort.Slice(s.index, func(i, j int) bool { return s.index[i].At.Before(s.index[j].At) })
}

func (s *fileStore) insertLocked(e Entry) {
	i := sort.Search(len(s.index), func(i int) bool { return s.index[i].At.After(e.At) })
	s.index = append(s.index, Entry{})
	copy(s.index[i+1:], s.index[i:])
	s.index[i] = e
}

func (s *fileStore) removeLocked(owner int64, id string) {
	for i, e := range s.index {
		if e.OwnerID == owner && e.ID == id {
			s.index = append(s.index[:i], s.index[i+1:]...)
			return
		}
	}
}

func applyPut(records map[int64]map[string]Reminder, r Reminder) {
	owned := records[r.OwnerID]
	if owned == nil {
		owned = map[string]Reminder{}
		records[r.OwnerID] = owned
	}
	owned[r.ID] = r
}

func loadSnapshot(path string, out map[int64]map[string]Reminder) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var all []Reminder
	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return err
	}
	for _, r := range all {
		applyPut(out, r)
	}
	return nil
}

func replayJournal(path string, out map[int64]map[string]Reminder) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		switch rec.Op {
		case "put":
			if rec.Reminder != nil {
				applyPut(out, *rec.Reminder)
			}
		case "update":
			if r, ok := out[rec.OwnerID][rec.ID]; ok {
				r.NextRunAt = rec.At
				out[rec.OwnerID][rec.ID] = r
			}
		case "delete":
			delete(out[rec.OwnerID], rec.ID)
		case "quarantine":
			if r, ok := out[rec.OwnerID][rec.ID]; ok {
				r.Quarantined = true
				r.QuarantineReason = rec.Reason
				out[rec.OwnerID][rec.ID] = r
			}
		}
	}
	return sc.Err()
}
