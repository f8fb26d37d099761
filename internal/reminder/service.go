// Package reminder is the write-side API of the engine: it validates user
// input, compiles timing intent into stored schedules, and stamps the first
// firing instant before handing records to storage.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/schedule"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Bus event types published on lifecycle transitions.
const (
	EventCreated = "reminder.created"
	EventDeleted = "reminder.deleted"
)

const maxTextLen = 4096

type Config struct {
	Store  storage.Store
	Bus    eventbus.Bus
	Logger logx.Logger

	// Now is the clock used for creation-time resolution. Nil means
	// time.Now; tests inject a fixed instant.
	Now func() time.Time
}

type Service struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store: cfg.Store,
		bus:   cfg.Bus,
		log:   log.With(logx.String("component", "reminder")),
		now:   now,
	}
}

// Create validates and stores a reminder. Multi-day input compiles into one
// stored reminder per day, so the returned slice can hold several ids; they
// fire and are managed independently from here on.
//
// Relative input is resolved against the creation instant: the stored
// schedule is a one-shot, and the first firing is exactly now+duration
// regardless of the owner's zone.
func (s *Service) Create(ctx context.Context, ownerID int64, text string, sp schedule.Spec, tz string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidText)
	}
	if len(text) > maxTextLen {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidText, maxTextLen)
	}
	loc, err := loadZone(tz)
	if err != nil {
		return nil, err
	}

	now := s.now()
	schedules, err := schedule.Compile(sp, loc, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	// Relative intent pins the firing instant directly; calendar intent is
	// resolved through the next-run rules.
	var exact time.Time
	if rel, ok := sp.(schedule.RelativeSpec); ok {
		exact = now.Add(time.Duration(rel.Minutes) * time.Minute)
	}

	ids := make([]string, 0, len(schedules))
	for _, sch := range schedules {
		nextRun := exact
		if nextRun.IsZero() {
			next, ok, err := schedule.Next(sch, loc, now)
			if err != nil {
				return s.rollback(ctx, ownerID, ids, fmt.Errorf("%w: %v", ErrInvalidSchedule, err))
			}
			if !ok {
				return s.rollback(ctx, ownerID, ids, fmt.Errorf("%w: schedule would never fire", ErrInvalidSchedule))
			}
			nextRun = next
		}
		id, err := s.store.Put(ctx, storage.Reminder{
			OwnerID:   ownerID,
			Text:      text,
			Schedule:  sch,
			Timezone:  loc.String(),
			NextRunAt: nextRun,
			CreatedAt: now,
		})
		if err != nil {
			return s.rollback(ctx, ownerID, ids, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
		}
		ids = append(ids, id)
		s.log.Info("reminder created",
			logx.Int64("owner", ownerID),
			logx.String("id", id),
			logx.String("schedule", sch.String()),
			logx.Time("next_run", nextRun))
		s.publish(EventCreated, id, ownerID)
	}
	return ids, nil
}

// List returns the owner's reminders, soonest first. Quarantined records are
// included so the owner can see (and delete) them.
func (s *Service) List(ctx context.Context, ownerID int64) ([]storage.Reminder, error) {
	out, err := s.store.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, ownerID int64, id string) (storage.Reminder, error) {
	r, err := s.store.Get(ctx, ownerID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Reminder{}, ErrNotFound
	}
	if err != nil {
		return storage.Reminder{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return r, nil
}

func (s *Service) Delete(ctx context.Context, ownerID int64, id string) error {
	err := s.store.Delete(ctx, ownerID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.log.Info("reminder deleted", logx.Int64("owner", ownerID), logx.String("id", id))
	s.publish(EventDeleted, id, ownerID)
	return nil
}

// BulkRetimezone re-anchors all of an owner's reminders in a new zone: each
// schedule keeps its local wall-clock meaning ("09:00" stays 09:00) but the
// firing instants are recomputed in the new zone's calendar. Reminders with
// no further occurrence in the new zone are left untouched and not counted.
// Quarantined records are skipped.
func (s *Service) BulkRetimezone(ctx context.Context, ownerID int64, newTZ string) (int, error) {
	loc, err := loadZone(newTZ)
	if err != nil {
		return 0, err
	}
	all, err := s.store.List(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := s.now()
	updated := 0
	for _, r := range all {
		if r.Quarantined {
			continue
		}
		next, ok, err := schedule.Next(r.Schedule, loc, now)
		if err != nil || !ok {
			s.log.Warn("retimezone skipped reminder",
				logx.Int64("owner", ownerID),
				logx.String("id", r.ID),
				logx.Err(err))
			continue
		}
		r.Timezone = loc.String()
		r.NextRunAt = next
		if err := s.store.Update(ctx, r); err != nil {
			return updated, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		updated++
	}
	s.log.Info("reminders retimezoned",
		logx.Int64("owner", ownerID),
		logx.String("tz", loc.String()),
		logx.Int("updated", updated))
	return updated, nil
}

// rollback removes the reminders created so far in a failed multi-put, so a
// partially applied Create does not leave orphans behind.
func (s *Service) rollback(ctx context.Context, ownerID int64, ids []string, cause error) ([]string, error) {
	for _, id := range ids {
		if err := s.store.Delete(ctx, ownerID, id); err != nil {
			s.log.Warn("rollback delete failed", logx.String("id", id), logx.Err(err))
		}
	}
	return nil, cause
}

func (s *Service) publish(typ, id string, owner int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{"id": id, "owner": owner}})
}

func loadZone(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, fmt.Errorf("%w: empty zone name", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	return loc, nil
}
