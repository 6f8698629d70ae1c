package app

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"touchbase/internal/config"
	"touchbase/internal/debugsrv"
	"touchbase/internal/feed"
	"touchbase/internal/httpapi"
	"touchbase/internal/reconcile"
	"touchbase/internal/storage"
	"touchbase/internal/task/engine"
	"touchbase/internal/task/scheduler"
	logx "touchbase/pkg/logx"
)

const defaultViewCacheSize = 256

// mapStorageConfig resolves the store settings. An empty driver means the
// in-process memory store; "none" is rejected since every component needs
// a store.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "":
		return storage.Config{Driver: "memory"}, nil
	case "none":
		return storage.Config{}, fmt.Errorf("storage.driver: a store is required")
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "badger":
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

// mapTaskEngineConfig fills engine defaults. The engine follows
// scheduler.enabled unless task_engine.enabled is set explicitly.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Workers:     2,
		QueueSize:   256,
		HistorySize: 200,
		RetryMax:    3,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	if cfg.Scheduler.Enabled && !out.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax > 0 {
		out.RetryMax = te.RetryMax
	}

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// mapSchedulerConfig falls back to the top-level timezone so cron specs and
// status days agree.
func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Timezone)
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}
}

func mapReconcileOptions(cfg *config.Config, loc *time.Location) (reconcile.Options, error) {
	rc := cfg.Reconcile
	cooldown, err := config.ParseDurationOrDefault("reconcile.cooldown", rc.Cooldown, reconcile.DefaultCooldown)
	if err != nil {
		return reconcile.Options{}, err
	}
	delay, err := config.ParseDurationOrDefault("reconcile.delay", rc.Delay, reconcile.DefaultDelay)
	if err != nil {
		return reconcile.Options{}, err
	}
	timeout, err := config.ParseDurationOrDefault("reconcile.timeout", rc.Timeout, reconcile.DefaultTimeout)
	if err != nil {
		return reconcile.Options{}, err
	}
	// an explicit "0s" disables the cooldown
	if strings.TrimSpace(rc.Cooldown) != "" && cooldown == 0 {
		cooldown = -1
	}
	return reconcile.Options{Cooldown: cooldown, Delay: delay, Timeout: timeout, Location: loc}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	out := httpapi.Config{
		Addr:      hc.Addr,
		BaseURL:   strings.TrimSpace(cfg.Feed.BaseURL),
		FeedRate:  rate.Limit(cfg.Feed.RatePerSec),
		FeedBurst: cfg.Feed.Burst,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationField("http.read_timeout", hc.ReadTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("http.write_timeout", hc.WriteTimeout); err != nil {
		return httpapi.Config{}, err
	}
	if out.ShutdownTimeout, err = config.ParseDurationField("http.shutdown_timeout", hc.ShutdownTimeout); err != nil {
		return httpapi.Config{}, err
	}
	return out, nil
}

func viewCacheSize(cfg *config.Config) int {
	if cfg.HTTP.CacheSize > 0 {
		return cfg.HTTP.CacheSize
	}
	return defaultViewCacheSize
}

func feedCalendar(cfg *config.Config) (name, label, uidHost string) {
	name = strings.TrimSpace(cfg.Feed.CalendarName)
	if name == "" {
		name = feed.DefaultName
	}
	label = strings.TrimSpace(cfg.Feed.InteractionLabel)
	if label == "" {
		label = feed.DefaultLabel
	}
	uidHost = strings.TrimSpace(cfg.Feed.UIDHost)
	if uidHost == "" {
		uidHost = feed.DefaultUIDHost
	}
	return name, label, uidHost
}

func mapDebugConfig(cfg *config.Config) debugsrv.Config {
	d := cfg.Debug
	return debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 d.Addr,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
}
