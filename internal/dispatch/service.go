// Package dispatch runs the firing loop: it polls the due index, delivers
// each due reminder through the transport boundary, and advances or retires
// the schedule afterwards.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/eventbus"
	"remindd/internal/schedule"
	"remindd/internal/storage"
	"remindd/internal/transport"
	logx "remindd/pkg/logx"
)

// Bus event types.
const (
	EventFired       = "reminder.fired"
	EventRescheduled = "reminder.rescheduled"
	EventRetired     = "reminder.retired"
	EventQuarantined = "reminder.quarantined"
	EventPass        = "dispatch.pass"
)

const (
	defaultPollInterval    = time.Minute
	defaultDeliveryTimeout = 10 * time.Second
	defaultRatePerSec      = 25
)

// Config tunes the loop. Zero values take the defaults above.
type Config struct {
	PollInterval    time.Duration
	DeliveryTimeout time.Duration
	RatePerSec      float64
	Burst           int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = defaultDeliveryTimeout
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RatePerSec)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	return c
}

// PassStats summarizes one poll pass; published as EventPass data.
type PassStats struct {
	Due       int
	Delivered int
	Failed    int
	Skipped   int
	Took      time.Duration
}

type Loop struct {
	store   storage.Store
	deliver transport.Deliverer
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu     sync.Mutex
	cfg    Config
	reconf chan struct{}

	limiter *rate.Limiter
	recent  *window
}

// New wires a dispatch loop. Now may be nil (wall clock); tests inject a
// fixed or stepped clock and drive passes directly.
func New(cfg Config, store storage.Store, deliver transport.Deliverer, bus eventbus.Bus, log logx.Logger, now func() time.Time) *Loop {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		cfg:     cfg,
		store:   store,
		deliver: deliver,
		bus:     bus,
		log:     log.With(logx.String("component", "dispatch")),
		now:     now,
		reconf:  make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		// Long enough that an entry stuck due by a failed re-stamp is not
		// redelivered on every pass before maintenance repairs it.
		recent: newWindow(10 * cfg.PollInterval),
	}
}

// Apply swaps the tunables at runtime. The poll ticker is reset on the next
// loop turn; in-flight deliveries keep their original timeout.
func (l *Loop) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	l.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	l.limiter.SetBurst(cfg.Burst)
	l.recent.setTTL(10 * cfg.PollInterval)
	select {
	case l.reconf <- struct{}{}:
	default:
	}
}

func (l *Loop) pollInterval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.PollInterval
}

func (l *Loop) deliveryTimeout() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.DeliveryTimeout
}

// Run polls until ctx is canceled. A failed pass is logged and retried on the
// next tick; Run itself returns only on shutdown.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.pollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.log.Info("dispatch loop started",
		logx.Duration("poll_interval", interval),
		logx.Duration("delivery_timeout", l.deliveryTimeout()))

	for {
		select {
		case <-ctx.Done():
			l.log.Info("dispatch loop stopped")
			return nil
		case <-l.reconf:
			if iv := l.pollInterval(); iv != interval {
				interval = iv
				ticker.Reset(interval)
				l.log.Info("dispatch loop reconfigured", logx.Duration("poll_interval", interval))
			}
		case <-ticker.C:
			now := l.now()
			stats, err := l.pass(ctx, now)
			if err != nil && !errors.Is(err, context.Canceled) {
				l.log.Error("dispatch pass aborted", logx.Err(err))
			}
			l.recent.sweep(now)
			l.publish(EventPass, stats)
		}
	}
}

// pass processes everything due at now. Delivery and per-reminder schedule
// faults are isolated to their entry; a store read or write failure aborts
// the pass so the remaining entries are retried intact on the next tick.
func (l *Loop) pass(ctx context.Context, now time.Time) (PassStats, error) {
	start := l.now()
	var stats PassStats

	due, err := l.store.DueEntries(ctx, now)
	if err != nil {
		return stats, fmt.Errorf("due scan: %w", err)
	}
	stats.Due = len(due)

	for _, e := range due {
		if err := ctx.Err(); err != nil {
			// Shutdown mid-pass. Unprocessed entries stay due and are
			// picked up on the next start.
			stats.Took = l.now().Sub(start)
			return stats, err
		}
		if err := l.fire(ctx, e, now, &stats); err != nil {
			stats.Took = l.now().Sub(start)
			return stats, err
		}
	}
	stats.Took = l.now().Sub(start)
	return stats, nil
}

// fire handles one due entry end to end. The returned error is non-nil only
// for store failures, which abort the pass.
func (l *Loop) fire(ctx context.Context, e storage.Entry, now time.Time, stats *PassStats) error {
	key := fireKey{owner: e.OwnerID, id: e.ID, dueMS: e.At.UnixMilli()}
	if !l.recent.remember(key, now) {
		stats.Skipped++
		return nil
	}

	r, err := l.store.Get(ctx, e.OwnerID, e.ID)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted between the scan and now; nothing to do.
		stats.Skipped++
		return nil
	}
	if err != nil {
		l.recent.forget(key)
		return fmt.Errorf("load reminder %s: %w", e.ID, err)
	}
	if !r.NextRunAt.Equal(e.At) {
		// The record moved under us (rescheduled concurrently); the index
		// entry is stale.
		l.recent.forget(key)
		stats.Skipped++
		return nil
	}

	if err := l.limiter.Wait(ctx); err != nil {
		l.recent.forget(key)
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, l.deliveryTimeout())
	derr := l.deliver.Deliver(dctx, r.OwnerID, r.Text)
	cancel()
	if derr != nil {
		// Delivery failure does not stall the schedule: the slot is
		// consumed and the reminder advances regardless.
		stats.Failed++
		l.log.Warn("delivery failed",
			logx.Int64("owner", r.OwnerID),
			logx.String("id", r.ID),
			logx.Err(derr))
	} else {
		stats.Delivered++
	}
	l.publish(EventFired, map[string]any{"id": r.ID, "owner": r.OwnerID, "delivered": derr == nil})

	return l.advance(ctx, r, now)
}

// advance recomputes the next occurrence and re-stamps, retires, or
// quarantines the reminder.
func (l *Loop) advance(ctx context.Context, r storage.Reminder, now time.Time) error {
	loc, lerr := time.LoadLocation(r.Timezone)
	if lerr != nil {
		return l.quarantine(ctx, r, fmt.Sprintf("timezone %q no longer loads: %v", r.Timezone, lerr))
	}
	next, ok, err := schedule.Next(r.Schedule, loc, now)
	if err != nil {
		return l.quarantine(ctx, r, fmt.Sprintf("next-run computation: %v", err))
	}
	if !ok {
		// One-shot with no further occurrence.
		if err := l.store.Delete(ctx, r.OwnerID, r.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("retire reminder %s: %w", r.ID, err)
		}
		l.log.Debug("reminder retired", logx.Int64("owner", r.OwnerID), logx.String("id", r.ID))
		l.publish(EventRetired, map[string]any{"id": r.ID, "owner": r.OwnerID})
		return nil
	}
	if err := l.store.UpdateNextRun(ctx, r.OwnerID, r.ID, next); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		// The delivery already happened; the window keeps the stale due
		// entry from double-firing while the store recovers.
		return fmt.Errorf("reschedule reminder %s: %w", r.ID, err)
	}
	l.publish(EventRescheduled, map[string]any{"id": r.ID, "owner": r.OwnerID, "next": next})
	return nil
}

func (l *Loop) quarantine(ctx context.Context, r storage.Reminder, reason string) error {
	if err := l.store.Quarantine(ctx, r.OwnerID, r.ID, reason); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("quarantine reminder %s: %w", r.ID, err)
	}
	l.log.Error("reminder quarantined",
		logx.Int64("owner", r.OwnerID),
		logx.String("id", r.ID),
		logx.String("reason", reason))
	l.publish(EventQuarantined, map[string]any{"id": r.ID, "owner": r.OwnerID, "reason": reason})
	return nil
}

func (l *Loop) publish(typ string, data any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
