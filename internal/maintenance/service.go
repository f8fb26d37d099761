// Package maintenance runs periodic background jobs against the store, the
// main one being index reconciliation after unclean shutdowns.
package maintenance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/internal/eventbus"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// EventReconcile is published after each reconcile job with the repaired
// entry count as data. EventReport carries the quarantined record count.
const (
	EventReconcile = "maintenance.reconcile"
	EventReport    = "maintenance.report"
)

const (
	defaultReconcileSpec = "@every 1h"
	defaultReportSpec    = "@daily"
)

type Config struct {
	Enabled bool
	// ReconcileSpec is a cron spec (5-field, 6-field with seconds, or a
	// descriptor like "@every 1h") for the index reconcile job.
	ReconcileSpec string
	// ReportSpec schedules the quarantine summary log.
	ReportSpec string
	// Timezone anchors calendar specs; empty means the host zone.
	Timezone string
}

// specParser accepts the same grammar everywhere the config mentions a cron
// spec. SecondOptional allows both 5-field and 6-field forms.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether a cron spec parses; used by config validation
// before a reload is accepted.
func ValidateSpec(spec string) error {
	_, err := specParser.Parse(strings.TrimSpace(spec))
	return err
}

type Service struct {
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool
}

func New(cfg Config, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		bus:   bus,
		log:   log.With(logx.String("component", "maintenance")),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.cfg.Enabled {
		return nil
	}
	if err := s.startLocked(ctx); err != nil {
		return err
	}
	s.running = true
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
	s.running = false
	return nil
}

// Apply swaps the config at runtime. A changed spec or zone restarts the
// cron runner; toggling Enabled starts or stops it.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := cfg != s.cfg
	s.cfg = cfg
	if !changed {
		return nil
	}
	if s.running {
		s.stopLocked(ctx)
		s.running = false
	}
	if cfg.Enabled {
		if err := s.startLocked(ctx); err != nil {
			return err
		}
		s.running = true
	}
	return nil
}

func (s *Service) startLocked(ctx context.Context) error {
	spec := strings.TrimSpace(s.cfg.ReconcileSpec)
	if spec == "" {
		spec = defaultReconcileSpec
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	reportSpec := strings.TrimSpace(s.cfg.ReportSpec)
	if reportSpec == "" {
		reportSpec = defaultReportSpec
	}

	c := cron.New(cron.WithParser(specParser), cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() { s.reconcile(runCtx) }); err != nil {
		s.cancel()
		return err
	}
	if _, err := c.AddFunc(reportSpec, func() { s.report(runCtx) }); err != nil {
		s.cancel()
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance started",
		logx.String("reconcile_spec", spec),
		logx.String("report_spec", reportSpec))
	return nil
}

func (s *Service) stopLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.c = nil
	s.log.Info("maintenance stopped")
}

// Reconcile runs the repair job once, outside the cron cadence. The app
// calls it at startup so a crash between a record write and an index move is
// healed before the first dispatch pass.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	fixed, err := s.store.Reconcile(ctx)
	if err != nil {
		return 0, err
	}
	if fixed > 0 {
		s.log.Warn("due index repaired", logx.Int("entries", fixed))
	} else {
		s.log.Debug("due index clean")
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventReconcile, Data: fixed})
	}
	return fixed, nil
}

func (s *Service) reconcile(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Reconcile(ctx); err != nil {
		s.log.Error("reconcile job failed", logx.Err(err))
	}
}

// Report logs a summary of quarantined reminders so records parked by the
// dispatch loop do not die silent.
func (s *Service) Report(ctx context.Context) (int, error) {
	rs, err := s.store.Quarantined(ctx)
	if err != nil {
		return 0, err
	}
	if len(rs) == 0 {
		s.log.Debug("no quarantined reminders")
	} else {
		owners := map[int64]int{}
		for _, r := range rs {
			owners[r.OwnerID]++
		}
		s.log.Warn("quarantined reminders pending review",
			logx.Int("count", len(rs)),
			logx.Int("owners", len(owners)))
		for _, r := range rs {
			s.log.Warn("quarantined",
				logx.Int64("owner", r.OwnerID),
				logx.String("id", r.ID),
				logx.String("reason", r.QuarantineReason))
		}
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventReport, Data: len(rs)})
	}
	return len(rs), nil
}

func (s *Service) report(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Report(ctx); err != nil {
		s.log.Error("quarantine report failed", logx.Err(err))
	}
}
