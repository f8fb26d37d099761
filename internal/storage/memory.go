package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore keeps records in per-owner maps and the due index as a sorted
// slice. It is the default driver for tests and throwaway runs.
type memStore struct {
	mu      sync.Mutex
	records map[int64]map[string]Reminder
	index   []Entry
	closed  bool
}

func NewMemory() Store {
	return &memStore{records: map[int64]map[string]Reminder{}}
}

func (s *memStore) Put(ctx context.Context, r Reminder) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	r.ID = newID()
	owned := s.records[r.OwnerID]
	if owned == nil {
		owned = map[string]Reminder{}
		s.records[r.OwnerID] = owned
	}
	owned[r.ID] = r
	if !r.Quarantined {
		s.insertLocked(Entry{At: r.NextRunAt, OwnerID: r.OwnerID, ID: r.ID})
	}
	return r.ID, nil
}

func (s *memStore) Get(ctx context.Context, owner int64, id string) (Reminder, error) {
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

func (s *memStore) List(ctx context.Context, owner int64) ([]Reminder, error) {
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

func (s *memStore) UpdateNextRun(ctx context.Context, owner int64, id string, at time.Time) error {
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
	r.NextRunAt = at
	s.records[owner][id] = r
	s.removeLocked(owner, id)
	if !r.Quarantined {
		s.insertLocked(Entry{At: at, OwnerID: owner, ID: id})
	}
	return nil
}

func (s *memStore) Update(ctx context.Context, r Reminder) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[r.OwnerID][r.ID]; !ok {
		return ErrNotFound
	}
	s.records[r.OwnerID][r.ID] = r
	s.removeLocked(r.OwnerID, r.ID)
	if !r.Quarantined {
		s.insertLocked(Entry{At: r.NextRunAt, OwnerID: r.OwnerID, ID: r.ID})
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, owner int64, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[owner][id]; !ok {
		return ErrNotFound
	}
	delete(s.records[owner], id)
	if len(s.records[owner]) == 0 {
		delete(s.records, owner)
	}
	s.removeLocked(owner, id)
	return nil
}

func (s *memStore) DueEntries(ctx context.Context, now time.Time) ([]Entry, error) {
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

func (s *memStore) Quarantine(ctx context.Context, owner int64, id, reason string) error {
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
	r.Quarantined = true
	r.QuarantineReason = reason
	s.records[owner][id] = r
	s.removeLocked(owner, id)
	return nil
}

func (s *memStore) Quarantined(ctx context.Context) ([]Reminder, error) {
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

func (s *memStore) Reconcile(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	// Records are the authoritative value; rebuild the index from them and
	// count entries whose key drifted (or went missing).
	prev := map[string]time.Time{}
	for _, e := range s.index {
		prev[e.ID] = e.At
	}
	fixed := 0
	s.index = s.index[:0]
	for owner, owned := range s.records {
		for id, r := range owned {
			if r.Quarantined {
				continue
			}
			at, ok := prev[id]
			if !ok || !at.Equal(r.NextRunAt) {
				fixed++
			}
			s.insertLocked(Entry{At: r.NextRunAt, OwnerID: owner, ID: id})
		}
	}
	return fixed, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) insertLocked(e Entry) {
	i := sort.Search(len(s.index), func(i int) bool { return s.index[i].At.After(e.At) })
	s.index = append(s.index, Entry{})
	copy(s.index[i+1:], s.index[i:])
	s.index[i] = e
}

func (s *memStore) removeLocked(owner int64, id string) {
	for i, e := range s.index {
		if e.OwnerID == owner && e.ID == id {
			s.index = append(s.index[:i], s.index[i+1:]...)
			return
		}
	}
}
