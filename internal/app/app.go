// Package app wires configuration, storage, the task runtime and the HTTP
// surface into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"touchbase/internal/auth"
	"touchbase/internal/clock"
	"touchbase/internal/config"
	"touchbase/internal/debugsrv"
	"touchbase/internal/eventbus"
	"touchbase/internal/feed"
	"touchbase/internal/httpapi"
	"touchbase/internal/interaction"
	"touchbase/internal/meetings"
	"touchbase/internal/metrics"
	"touchbase/internal/reconcile"
	"touchbase/internal/runtime/supervisor"
	"touchbase/internal/storage"
	"touchbase/internal/task/engine"
	"touchbase/internal/task/scheduler"
	logx "touchbase/pkg/logx"
)

const sweepTaskName = "reconcile.sweep"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock clock.Clock
	loc   *time.Location

	engine  *engine.Service
	sched   *scheduler.Service
	metrics *metrics.Metrics
	debug   *debugsrv.Service

	job          *reconcile.Job
	interactions *interaction.Service
	views        *meetings.ViewCache
	tokens       *feed.Tokens
	feed         *feed.Generator
	auth         *auth.Events
	http         *httpapi.Server

	suggestDue bool
}

// New loads cfgPath and builds every component without starting any
// goroutine. Call Start to run the service or Close to release resources
// after one-shot use.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm:       cfgm,
		logs:       logSvc,
		log:        log.With(logx.String("comp", "app")),
		bus:        eventbus.New(),
		clock:      clock.Real{},
		metrics:    metrics.New(),
		suggestDue: cfg.Reconcile.SuggestDue,
	}
	if err := a.build(cfg, log); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	loc, err := config.LoadLocation("timezone", cfg.Timezone)
	if err != nil {
		return err
	}
	a.loc = loc

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if a.store, err = storage.Open(sc, log); err != nil {
		return err
	}
	if sc.Driver == "memory" {
		a.log.Warn("using in-memory storage; nothing is persisted")
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, log.With(logx.String("comp", "scheduler")))
	a.metrics.WatchEngine(a.engine.Snapshot)

	a.debug = debugsrv.New(mapDebugConfig(cfg), log)
	a.debug.Expose("task_engine", func() any { return a.engine.Snapshot() })
	a.debug.Expose("scheduler", func() any { return a.sched.Snapshot() })

	opts, err := mapReconcileOptions(cfg, loc)
	if err != nil {
		return err
	}
	opts.Clock = a.clock
	a.job = reconcile.New(a.store, a.sched, a.bus, log, opts)
	a.job.SetObserver(a.metrics)

	if spec := strings.TrimSpace(cfg.Reconcile.SweepSchedule); spec != "" {
		err := a.sched.AddScheduleOpt(sweepTaskName, spec, 0, engine.TaskOptions{RetryMax: -1, Overlap: engine.OverlapSkipIfRunning}, func(ctx context.Context) error {
			_, err := a.job.RunAll(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("reconcile.sweep_schedule: %w", err)
		}
	}

	a.interactions = interaction.New(a.store, a.clock, loc, a.bus, log)
	a.auth = auth.NewEvents(a.bus, a.clock, log)
	a.tokens = feed.NewTokens(a.store, a.clock, a.bus, log)
	name, label, uidHost := feedCalendar(cfg)
	a.feed = &feed.Generator{Store: a.store, Clock: a.clock, Location: loc, Name: name, Label: label, UIDHost: uidHost}

	a.views, err = meetings.NewViewCache(viewCacheSize(cfg), func(ctx context.Context, owner string) (meetings.Dashboard, error) {
		return meetings.Build(ctx, a.store, owner, a.clock.Now(), loc)
	}, a.clock, loc, log)
	if err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		hc, err := mapHTTPConfig(cfg)
		if err != nil {
			return err
		}
		a.http, err = httpapi.New(hc, httpapi.Deps{
			Store:        a.store,
			Interactions: a.interactions,
			Views:        a.views,
			Feed:         a.feed,
			Tokens:       a.tokens,
			Auth:         a.auth,
			Reconcile:    a.job,
			Metrics:      a.metrics,
			Clock:        a.clock,
			Location:     loc,
		}, log)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Log() logx.Logger { return a.log }
func (a *App) Bus() eventbus.Bus { return a.bus }
func (a *App) Store() storage.Store { return a.store }
func (a *App) Location() *time.Location { return a.loc }
func (a *App) Reconcile() *reconcile.Job { return a.job }
func (a *App) Interactions() *interaction.Service { return a.interactions }
func (a *App) Tokens() *feed.Tokens { return a.tokens }
func (a *App) Feed() *feed.Generator { return a.feed }
func (a *App) Auth() *auth.Events { return a.auth }
func (a *App) Metrics() *metrics.Metrics { return a.metrics }
func (a *App) Dashboards() *meetings.ViewCache { return a.views }
func (a *App) Config() *config.Config { return a.cfgm.Get() }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Engine() *engine.Service { return a.engine }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.debug.Expose("supervisor", func() any { return a.sup.Snapshot() })

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; reconcile triggers wait until it is enabled")
	}

	a.sup.Go("reconcile.listen", func(c context.Context) error { return a.job.Listen(c, a.bus) })
	a.sup.Go("dashboard.invalidate", func(c context.Context) error { return a.views.Watch(c, a.bus) })
	if a.suggestDue {
		a.sup.Go("interaction.suggest", func(c context.Context) error { return a.interactions.Watch(c, a.bus) })
	}

	if alerts := a.logs.Alerts(); alerts != nil {
		a.sup.Go0("logx.alerts", func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case al, ok := <-alerts:
					if !ok {
						return
					}
					a.metrics.LogAlert(strings.ToLower(al.Level))
				}
			}
		})
	}

	// Debug-level event trace; components subscribe on their own.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.String("owner", e.OwnerID), logx.Time("time", e.Time))
			}
		}
	})

	if a.http != nil {
		a.sup.Go("http", a.http.Serve)
	}
	a.debug.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				newCfg = latest(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("timezone", a.loc.String()), logx.Bool("http", a.http != nil))
	return nil
}

// latest drains ch so a burst of reloads is applied once.
func latest(ch <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer := <-ch:
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// applyConfig applies the live-reloadable sections: logging, scheduler,
// task engine and the debug listener. Other sections are reported and left
// for the next restart.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := logx.String("changed", strings.Join(sections, ","))
	a.log.Debug("config change summary", append([]logx.Field{changed}, attrs...)...)
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config change requires restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	prevSchedEnabled := a.sched.Enabled()
	prevEngEnabled := a.engine.Enabled()

	newEngCfg, err := mapTaskEngineConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		newEngCfg = engine.Config{Enabled: prevEngEnabled}
	} else {
		a.engine.Apply(c, newEngCfg)
	}
	schedCfg := mapSchedulerConfig(newCfg)
	a.sched.Apply(schedCfg)

	// scheduler first on shutdown, engine first on startup
	if prevSchedEnabled && !schedCfg.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	}
	if prevEngEnabled && !newEngCfg.Enabled {
		a.log.Info("task engine disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.engine.Stop(stopCtx)
		cancel()
	}
	if !prevEngEnabled && newEngCfg.Enabled {
		a.log.Info("task engine enabled via config")
		a.engine.Start(c)
	}
	if !prevSchedEnabled && schedCfg.Enabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(c)
	}

	a.debug.Reconfigure(c, mapDebugConfig(newCfg))

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: a.clock.Now(), Data: sections})
	a.log.Info("config reloaded", append([]logx.Field{changed}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// cancel first so background loops start unwinding immediately
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	// http, listeners and config watch unwind with the supervisor context
	step("supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases the store and log sinks of an app that was never started.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		err = errors.Join(err, a.logs.Close())
	}
	return err
}
