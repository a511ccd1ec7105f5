// Package app assembles the automation services from config and owns
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"feeflow/internal/adapters/telegram"
	"feeflow/internal/config"
	"feeflow/internal/datastore"
	"feeflow/internal/engine"
	"feeflow/internal/eventbus"
	"feeflow/internal/notify"
	"feeflow/internal/registry"
	"feeflow/internal/runtime/supervisor"
	"feeflow/internal/runtrack"
	"feeflow/internal/scheduler"
	logx "feeflow/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store     datastore.Store
	bus       eventbus.Bus
	registry  *registry.Registry
	tracker   *runtrack.Tracker
	engine    *engine.Engine
	scheduler *scheduler.Service
	opsSender notify.Sender
	opsChat   string
}

func New(cfgMgr *config.Manager) *App {
	return &App{cfgMgr: cfgMgr}
}

// Run builds every service from the committed config and blocks until
// ctx is canceled, then shuts down in reverse order.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfgMgr.Get()
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	a.logSvc, a.log = logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer a.logSvc.Close()
	a.cfgMgr.SetLogger(a.log.With(logx.String("svc", "config")))

	if err := a.build(cfg); err != nil {
		return err
	}
	defer a.store.Close()

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("svc", "supervisor"))))

	sup.GoRestart("config.watch", a.cfgMgr.Watch)
	sup.Go0("config.reload", a.reloadLoop)
	if a.opsChat != "" {
		sup.Go0("ops.alerts", a.alertLoop)
	}

	if cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(sup.Context()); err != nil {
			sup.Cancel()
			return err
		}
	} else {
		a.log.Warn("scheduler disabled; jobs only run on manual trigger")
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("feeflow started",
		logx.Int("jobs", len(cfg.Jobs)),
		logx.Bool("scheduler", cfg.Scheduler.Enabled))

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		a.log.Warn("scheduler stop", logx.Err(err))
	}
	sup.Cancel()
	return sup.Wait(stopCtx)
}

// Scheduler exposes the running scheduler for embedding surfaces.
func (a *App) Scheduler() *scheduler.Service { return a.scheduler }

func (a *App) build(cfg *config.Config) error {
	store, err := a.openStore(cfg)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	a.store = store

	sender, err := a.buildSender(cfg)
	if err != nil {
		store.Close()
		return err
	}

	loc := time.Local
	if tz := cfg.Scheduler.Timezone; tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			store.Close()
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	a.bus = eventbus.New()
	a.tracker = runtrack.New(
		runtrack.WithStore(store),
		runtrack.WithHistorySize(cfg.Scheduler.HistorySize),
		runtrack.WithLogger(a.log.With(logx.String("svc", "runtrack"))),
	)

	a.registry = registry.New(loc, a.log.With(logx.String("svc", "registry")))
	now := time.Now()
	for _, jc := range cfg.Jobs {
		def := registry.JobDefinition{
			ID:          jc.ID,
			Name:        jc.Name,
			Type:        runtrack.JobType(jc.Type),
			Schedule:    jc.Schedule,
			Description: jc.Description,
			Active:      jc.Enabled,
			Params: registry.Params{
				Month:        jc.Params.Month,
				Year:         jc.Params.Year,
				ReminderType: jc.Params.ReminderType,
			},
		}
		if err := a.registry.Register(def, now); err != nil {
			store.Close()
			return fmt.Errorf("register job: %w", err)
		}
	}

	itemTimeout, err := cfg.Engine.PerItemTimeout()
	if err != nil {
		store.Close()
		return err
	}
	earlyWindow, err := cfg.Engine.EarlyWindow()
	if err != nil {
		store.Close()
		return err
	}
	a.engine = engine.New(store, sender, engine.Config{
		Workers:             cfg.Engine.Workers,
		ItemTimeout:         itemTimeout,
		EarlyReminderWindow: earlyWindow,
		DueDay:              cfg.Engine.DueDay,
	}, a.log.With(logx.String("svc", "engine")))

	tick, err := cfg.Scheduler.Tick()
	if err != nil {
		store.Close()
		return err
	}
	a.scheduler = scheduler.New(
		scheduler.Config{TickInterval: tick},
		a.registry, a.tracker, a.engine, a.bus,
		a.log.With(logx.String("svc", "scheduler")),
	)
	return nil
}

func (a *App) openStore(cfg *config.Config) (datastore.Store, error) {
	busy, err := cfg.Datastore.Busy()
	if err != nil {
		return nil, err
	}
	return datastore.Open(datastore.Config{
		Driver:      cfg.Datastore.Driver,
		Path:        cfg.Datastore.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("svc", "datastore")))
}

// buildSender picks the delivery channel and wraps it with the rate
// limit. The same sender serves guardian reminders and ops alerts.
func (a *App) buildSender(cfg *config.Config) (notify.Sender, error) {
	if !cfg.Notify.Enabled {
		return notify.Disabled{}, nil
	}

	var base notify.Sender
	switch cfg.Notify.Channel {
	case "telegram":
		tg, err := telegram.New(cfg.Notify.Telegram.Token, a.log.With(logx.String("svc", "telegram")))
		if err != nil {
			return nil, err
		}
		base = tg
	default:
		base = notify.NewLogSender(a.log.With(logx.String("svc", "notify")))
	}

	limited := notify.NewLimited(base, float64(cfg.Notify.RatePerSec))
	a.opsSender = limited
	a.opsChat = cfg.Notify.OpsRecipient
	return limited, nil
}

// reloadLoop applies hot-reloadable config. Only logging settings swap
// at runtime; job and datastore changes take effect on restart.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgMgr.Subscribe(4)
	defer a.cfgMgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config reloaded", logx.String("level", cfg.Logging.Level))
		}
	}
}

// alertLoop forwards job failures from the bus to the ops recipient.
func (a *App) alertLoop(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != scheduler.EventFailed {
				continue
			}
			je, ok := ev.Data.(scheduler.JobEvent)
			if !ok {
				continue
			}
			msg := fmt.Sprintf("Job %s (%s) failed: %s", je.JobID, je.JobType, je.Error)
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := a.opsSender.Send(sendCtx, a.opsChat, msg); err != nil {
				a.log.Warn("ops alert failed",
					logx.String("job_id", je.JobID),
					logx.Err(err))
			}
			cancel()
		}
	}
}
