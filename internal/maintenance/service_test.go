package maintenance

import (
	"context"
	"testing"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

func TestValidateSpec(t *testing.T) {
	t.Parallel()
	for _, spec := range []string{"@every 1h", "0 3 * * *", "*/30 * * * * *", "@hourly"} {
		if err := ValidateSpec(spec); err != nil {
			t.Errorf("ValidateSpec(%q) = %v, want nil", spec, err)
		}
	}
	for _, spec := range []string{"", "not a spec", "61 * * * *", "@every"} {
		if err := ValidateSpec(spec); err == nil {
			t.Errorf("ValidateSpec(%q) = nil, want error", spec)
		}
	}
}

func TestReconcilePublishes(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	svc := New(Config{}, storage.NewMemory(), bus, logx.Nop())
	fixed, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if fixed != 0 {
		t.Fatalf("fixed = %d, want 0 on a fresh store", fixed)
	}
	select {
	case e := <-events:
		if e.Type != EventReconcile {
			t.Fatalf("event type = %q", e.Type)
		}
	default:
		t.Fatal("no reconcile event published")
	}
}

func TestReportCountsQuarantined(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, owner := range []int64{1, 1, 2} {
		id, err := st.Put(ctx, storage.Reminder{
			OwnerID:   owner,
			Text:      "r",
			Timezone:  "UTC",
			NextRunAt: now.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		if i > 0 {
			if err := st.Quarantine(ctx, owner, id, "bad zone"); err != nil {
				t.Fatalf("quarantine: %v", err)
			}
		}
	}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	svc := New(Config{}, st, bus, logx.Nop())
	n, err := svc.Report(ctx)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if n != 2 {
		t.Fatalf("quarantined = %d, want 2", n)
	}
	select {
	case e := <-events:
		if e.Type != EventReport || e.Data.(int) != 2 {
			t.Fatalf("event = %+v", e)
		}
	default:
		t.Fatal("no report event published")
	}
}

func TestStartStopDisabled(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: false}, storage.NewMemory(), nil, logx.Nop())
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestApplyRestartsOnSpecChange(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, ReconcileSpec: "@every 1h"}, storage.NewMemory(), nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Apply(ctx, Config{Enabled: true, ReconcileSpec: "@every 2h"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := svc.Apply(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("apply disable: %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
