// Package app wires the daemon together: config, logging, scheduler, task
// registry, schedules, run history and the HTTP API.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobkit/internal/config"
	"jobkit/internal/eventbus"
	"jobkit/internal/history"
	"jobkit/internal/httpapi"
	"jobkit/internal/schedule"
	"jobkit/internal/scheduler"
	"jobkit/internal/tasks"
	logx "jobkit/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	sched *scheduler.Scheduler
	reg   *tasks.Registry
	cron  *schedule.Service

	store    history.Store
	recorder *history.Recorder

	api *httpapi.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	reg := tasks.NewRegistry()

	sched := scheduler.New(scheduler.Config{
		Name:           cfg.Scheduler.Name,
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
	}, log.With(logx.String("comp", "scheduler")), bus)

	cron := schedule.New(schedule.Config{
		Enabled:  cfg.Schedule.Enabled,
		Timezone: cfg.Schedule.Timezone,
	}, sched, reg, log.With(logx.String("comp", "schedule")))

	// Run history (optional)
	var store history.Store
	if hc, enabled, err := mapHistoryConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := history.Open(hc, log.With(logx.String("comp", "history")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("run history enabled", logx.String("driver", hc.Driver))
	}
	recorder := history.NewRecorder(store, bus, log.With(logx.String("comp", "history")))

	var api *httpapi.Server
	if cfg.HTTP.Enabled {
		ac, err := mapHTTPConfig(cfg)
		if err != nil {
			return nil, err
		}
		api = httpapi.NewServer(ac, sched, reg, store, log.With(logx.String("comp", "http")))
	}

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		sched:    sched,
		reg:      reg,
		cron:     cron,
		store:    store,
		recorder: recorder,
		api:      api,
	}, nil
}

// Tasks exposes the registry so main can bind task names before Start.
func (a *App) Tasks() *tasks.Registry { return a.reg }

// Scheduler exposes the job core for embedding callers.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Done is closed when the supervisor context unwinds (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Config.Validate already ran in Parse; add process-level checks.
		for _, e := range cfg.Schedule.Entries {
			if _, err := a.reg.Get(e.Task); err != nil {
				return fmt.Errorf("schedule.entries (%s): %w", e.Name, err)
			}
		}
		if _, _, err := mapHistoryConfig(cfg); err != nil {
			return err
		}
		_, err := mapHTTPConfig(cfg)
		return err
	})

	cfg := a.cfgm.Get()

	a.recorder.Start(a.sup.Context())

	if a.cron.Enabled() {
		if err := a.syncScheduleEntries(cfg.Schedule.Entries); err != nil {
			return err
		}
		a.cron.Start(a.sup.Context())
	}

	if a.api != nil {
		a.sup.Go("http.serve", func(c context.Context) error {
			return a.api.Run(c)
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("schedule", 2*time.Second, func(c context.Context) error { a.cron.Stop(c); return nil })
	step("scheduler", 5*time.Second, func(c context.Context) error { return a.sched.Close(c) })
	step("history", 2*time.Second, func(c context.Context) error {
		a.recorder.Stop(c)
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// reloadLoop applies validated config snapshots published by the watcher.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest snapshot.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}

			for _, s := range sections {
				switch s {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   newCfg.Logging.Level,
						Console: newCfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: newCfg.Logging.File.Enabled,
							Path:    newCfg.Logging.File.Path,
						},
					})
				case "scheduler":
					a.sched.SetMaxConcurrency(newCfg.Scheduler.MaxConcurrency)
				case "schedule":
					a.applyScheduleConfig(ctx, newCfg)
				case "http", "history":
					a.log.Warn("config section changed; restart required to take effect",
						logx.String("section", s))
				}
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applyScheduleConfig(ctx context.Context, cfg *config.Config) {
	wasEnabled := a.cron.Enabled()
	a.cron.Apply(schedule.Config{
		Enabled:  cfg.Schedule.Enabled,
		Timezone: cfg.Schedule.Timezone,
	})
	if err := a.syncScheduleEntries(cfg.Schedule.Entries); err != nil {
		a.log.Warn("schedule entries rejected; keeping previous", logx.Err(err))
		return
	}

	switch {
	case wasEnabled && !cfg.Schedule.Enabled:
		a.log.Info("schedules disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		a.cron.Stop(stopCtx)
		cancel()
	case !wasEnabled && cfg.Schedule.Enabled:
		a.log.Info("schedules enabled via config")
		a.cron.Start(ctx)
	}
}

// syncScheduleEntries reconciles the cron service against the config list:
// upsert everything declared, remove anything no longer declared.
func (a *App) syncScheduleEntries(entries []config.ScheduleEntry) error {
	declared := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if err := a.cron.Upsert(e.Name, e.Spec, e.Task); err != nil {
			return fmt.Errorf("schedule entry %q: %w", e.Name, err)
		}
		declared[e.Name] = struct{}{}
	}
	for _, info := range a.cron.List() {
		if _, keep := declared[info.Name]; !keep {
			a.cron.Remove(info.Name)
		}
	}
	return nil
}

func mapHistoryConfig(cfg *config.Config) (history.Config, bool, error) {
	if cfg == nil || cfg.History == nil {
		return history.Config{}, false, nil
	}
	driver := strings.TrimSpace(cfg.History.Driver)
	if driver == "" || driver == "none" {
		return history.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
	if err != nil {
		return history.Config{}, false, err
	}
	return history.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.History.Path),
		BusyTimeout: busy,
	}, true, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	addr := strings.TrimSpace(cfg.HTTP.Addr)
	if addr == "" {
		addr = "127.0.0.1:8642"
	}
	interval, err := config.ParseDurationField("http.stream_interval", cfg.HTTP.StreamInterval)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:        cfg.HTTP.Enabled,
		Addr:           addr,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
		StreamInterval: interval,
	}, nil
}
