package dispatch

import (
	"sync"
	"time"
)

// fireKey identifies one scheduled firing: the reminder plus the instant it
// was due. A rescheduled reminder gets a new key, so dedup never suppresses a
// legitimate later firing.
type fireKey struct {
	owner int64
	id    string
	dueMS int64
}

// window is a time-bounded set of recently handled firings. If re-stamping
// the next run fails after a delivery, the entry stays due and the next pass
// would deliver it again; the window absorbs those repeats until the entry is
// repaired or old enough to evict.
type window struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[fireKey]time.Time
}

func newWindow(ttl time.Duration) *window {
	return &window{ttl: ttl, seen: make(map[fireKey]time.Time)}
}

// remember records the firing and reports whether it was new.
func (w *window) remember(k fireKey, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[k]; ok {
		return false
	}
	w.seen[k] = now
	return true
}

// setTTL changes the eviction horizon; existing entries are re-judged
// against it on the next sweep.
func (w *window) setTTL(ttl time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ttl = ttl
}

// forget drops the firing so a later pass may retry it.
func (w *window) forget(k fireKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.seen, k)
}

// sweep evicts entries older than the ttl.
func (w *window) sweep(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, at := range w.seen {
		if now.Sub(at) > w.ttl {
			delete(w.seen, k)
		}
	}
}

func (w *window) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
