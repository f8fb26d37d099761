// Package app assembles the engine: config, logging, storage, the reminder
// service, the dispatch loop, maintenance, and the delivery transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindd/internal/config"
	"remindd/internal/dispatch"
	"remindd/internal/eventbus"
	"remindd/internal/maintenance"
	"remindd/internal/reminder"
	"remindd/internal/runtime/supervisor"
	"remindd/internal/storage"
	"remindd/internal/transport"
	"remindd/internal/transport/telegram"
	logx "remindd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter transport.Adapter

	reminders *reminder.Service
	loop      *dispatch.Loop
	maint     *maintenance.Service
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("info")

	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Reloads are applied live; settings that only take effect through a
	// restart are rejected before the reload commits.
	boot := *cfg
	cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		if next.Storage.Driver != boot.Storage.Driver || next.Storage.Path != boot.Storage.Path {
			return errors.New("storage settings require a restart")
		}
		if next.Telegram.Token != boot.Telegram.Token {
			return errors.New("telegram.token requires a restart")
		}
		return nil
	})

	adapter, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
		Burst:      cfg.Telegram.Burst,
	}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logs, log := logx.New(mapLogging(cfg.Logging), adapter)
	log = log.With(logx.String("component", "app"))

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOrDefault(cfg.Storage.BusyTimeout, 5*time.Second),
	}, logs.Logger().With(logx.String("component", "storage")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	bus := eventbus.New()
	base := logs.Logger()

	reminders := reminder.New(reminder.Config{Store: store, Bus: bus, Logger: base})
	loop := dispatch.New(mapDispatch(cfg.Dispatch), store, adapter, bus, base, nil)
	maint := maintenance.New(mapMaintenance(cfg.Maintenance), store, bus, base)

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logs,
		bus:       bus,
		store:     store,
		adapter:   adapter,
		reminders: reminders,
		loop:      loop,
		maint:     maint,
	}, nil
}

// Reminders exposes the write-side API for command surfaces built on top of
// the engine.
func (a *App) Reminders() *reminder.Service { return a.reminders }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error seen by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// Heal the due index before the first pass; a crash between a record
	// write and an index move must not fire stale instants.
	if fixed, err := a.maint.Reconcile(runCtx); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	} else if fixed > 0 {
		a.log.Warn("startup reconcile repaired index entries", logx.Int("entries", fixed))
	}

	if err := a.maint.Start(runCtx); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}

	a.sup.GoRestart("dispatch.loop", a.loop.Run,
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithPublishFirstError(true))

	events, unsubEvents := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubEvents()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe()
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, cfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("started")
	return nil
}

// applyConfig pushes a validated reload into the running services. Storage
// and the bot token are fixed at startup; changes there only log a notice.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(mapLogging(cfg.Logging))
	a.loop.Apply(mapDispatch(cfg.Dispatch))
	if err := a.maint.Apply(ctx, mapMaintenance(cfg.Maintenance)); err != nil {
		a.log.Warn("maintenance config not applied", logx.Err(err))
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	c := a.sup.Counters()
	a.log.Info("stopping",
		logx.Int64("goroutines_active", c.Active),
		logx.Int64("goroutines_started", int64(c.Started)))
	a.sup.Cancel()

	a.step(ctx, "maintenance", 2*time.Second, a.maint.Stop)
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// step bounds one shutdown stage so a single component cannot stall the
// whole stop sequence.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		} else {
			a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)))
	}
}

func mapLogging(l config.Logging) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File != "",
			Path:    l.File,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     l.Chat.ChatID,
			ThreadID:   l.Chat.ThreadID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: int(l.Chat.RatePerSec),
		},
	}
}

func mapDispatch(d config.Dispatch) dispatch.Config {
	return dispatch.Config{
		PollInterval:    config.DurationOrDefault(d.PollInterval, time.Minute),
		DeliveryTimeout: config.DurationOrDefault(d.DeliveryTimeout, 10*time.Second),
		RatePerSec:      d.RatePerSec,
		Burst:           d.Burst,
	}
}

func mapMaintenance(m config.Maintenance) maintenance.Config {
	return maintenance.Config{
		Enabled:       m.Enabled,
		ReconcileSpec: m.ReconcileSpec,
		ReportSpec:    m.ReportSpec,
		Timezone:      m.Timezone,
	}
}
