package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"remindd/internal/schedule"
	"remindd/internal/storage"
)

func newTestService(t *testing.T, now time.Time) (*Service, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	svc := New(Config{Store: st, Now: func() time.Time { return now }})
	return svc, st
}

func TestCreateDaily(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)

	ids, err := svc.Create(context.Background(), 42, "  stand-up  ", schedule.DailySpec{Time: "09:00"}, "Europe/Warsaw")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %v, want one", ids)
	}
	r, err := st.Get(context.Background(), 42, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Text != "stand-up" {
		t.Fatalf("text not trimmed: %q", r.Text)
	}
	if r.Timezone != "Europe/Warsaw" {
		t.Fatalf("timezone = %q", r.Timezone)
	}
	warsaw, _ := time.LoadLocation("Europe/Warsaw")
	// 08:00 UTC is 09:00 in Warsaw (CET); today's slot is not strictly in
	// the future, so the first firing is tomorrow.
	want := time.Date(2026, time.March, 4, 9, 0, 0, 0, warsaw)
	if !r.NextRunAt.Equal(want) {
		t.Fatalf("next run = %v, want %v", r.NextRunAt, want)
	}
}

func TestCreateMultiDayFansOut(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)

	sp := schedule.MultiDaySpec{Time: "18:30", DaysOfWeek: []int{1, 3, 5, 3}}
	ids, err := svc.Create(context.Background(), 7, "gym", sp, "UTC")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want 3 (duplicate day collapsed)", ids)
	}
	list, err := st.List(context.Background(), 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	days := map[time.Weekday]bool{}
	for _, r := range list {
		if r.Schedule.Kind != schedule.KindWeekly {
			t.Fatalf("kind = %q, want weekly", r.Schedule.Kind)
		}
		days[r.Schedule.Weekday] = true
	}
	for _, d := range []time.Weekday{time.Monday, time.Wednesday, time.Friday} {
		if !days[d] {
			t.Fatalf("missing weekly schedule for %v", d)
		}
	}
}

func TestCreateRelativeExactInstant(t *testing.T) {
	t.Parallel()
	// An odd creation instant with sub-minute noise. The firing must be
	// exactly now+5m in absolute time, whatever zone the owner is in.
	now := time.Date(2026, time.March, 3, 8, 17, 42, 123456789, time.UTC)
	for _, tz := range []string{"UTC", "Europe/Warsaw", "Pacific/Kiritimati"} {
		svc, st := newTestService(t, now)
		ids, err := svc.Create(context.Background(), 1, "tea", schedule.RelativeSpec{Minutes: 5}, tz)
		if err != nil {
			t.Fatalf("create in %s: %v", tz, err)
		}
		r, err := st.Get(context.Background(), 1, ids[0])
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !r.NextRunAt.Equal(now.Add(5 * time.Minute)) {
			t.Fatalf("next run in %s = %v, want %v", tz, r.NextRunAt, now.Add(5*time.Minute))
		}
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	cases := []struct {
		name string
		text string
		sp   schedule.Spec
		tz   string
		want error
	}{
		{"empty text", "   ", schedule.DailySpec{Time: "09:00"}, "UTC", ErrInvalidText},
		{"bad time", "x", schedule.DailySpec{Time: "24:00"}, "UTC", ErrInvalidSchedule},
		{"bad weekday", "x", schedule.WeeklySpec{Time: "09:00", DayOfWeek: 7}, "UTC", ErrInvalidSchedule},
		{"bad day of month", "x", schedule.MonthlySpec{Time: "09:00", DayOfMonth: 32}, "UTC", ErrInvalidSchedule},
		{"once in the past", "x", schedule.OnceSpec{Date: "2026-03-01", Time: "09:00"}, "UTC", ErrInvalidSchedule},
		{"zero relative", "x", schedule.RelativeSpec{Minutes: 0}, "UTC", ErrInvalidSchedule},
		{"unknown zone", "x", schedule.DailySpec{Time: "09:00"}, "Mars/Olympus_Mons", ErrInvalidTimezone},
		{"empty zone", "x", schedule.DailySpec{Time: "09:00"}, "", ErrInvalidTimezone},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, 1, tc.text, tc.sp, tc.tz); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	ids, err := svc.Create(ctx, 5, "once", schedule.OnceSpec{Date: "2026-03-10", Time: "12:00"}, "UTC")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, 5, ids[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, 5, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: err = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, 6, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete: err = %v, want ErrNotFound", err)
	}
}

func TestBulkRetimezone(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	svc, st := newTestService(t, now)
	ctx := context.Background()

	// A daily 09:00 slot and a one-shot with no further occurrence anywhere.
	dailyIDs, err := svc.Create(ctx, 9, "daily", schedule.DailySpec{Time: "09:00"}, "UTC")
	if err != nil {
		t.Fatalf("create daily: %v", err)
	}
	onceIDs, err := svc.Create(ctx, 9, "soon", schedule.OnceSpec{Date: "2026-03-03", Time: "08:30"}, "UTC")
	if err != nil {
		t.Fatalf("create once: %v", err)
	}
	// Simulate the one-shot having fired: its date is now in the past in
	// every zone east of UTC.
	if err := st.UpdateNextRun(ctx, 9, onceIDs[0], now.Add(-time.Hour)); err != nil {
		t.Fatalf("update: %v", err)
	}
	later := time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return later }

	n, err := svc.BulkRetimezone(ctx, 9, "Europe/Warsaw")
	if err != nil {
		t.Fatalf("retimezone: %v", err)
	}
	// The one-shot's 08:30 slot has passed in Warsaw too (12:00 UTC is
	// 13:00 there), so only the daily reminder is re-anchored.
	if n != 1 {
		t.Fatalf("updated = %d, want 1", n)
	}
	once, err := st.Get(ctx, 9, onceIDs[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if once.Timezone != "UTC" {
		t.Fatalf("expired one-shot was rewritten: tz = %q", once.Timezone)
	}

	daily, err := st.Get(ctx, 9, dailyIDs[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	warsaw, _ := time.LoadLocation("Europe/Warsaw")
	want := time.Date(2026, time.March, 4, 9, 0, 0, 0, warsaw)
	if !daily.NextRunAt.Equal(want) || daily.Timezone != "Europe/Warsaw" {
		t.Fatalf("daily after retimezone = %v %q, want %v Europe/Warsaw", daily.NextRunAt, daily.Timezone, want)
	}
}
