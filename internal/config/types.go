package config

// Config is the root of the service configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	// Timezone is the IANA zone used for day-level status classification,
	// dashboard aggregation and calendar feeds. Empty means the host zone.
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`

	Logging    LoggingConfig     `json:"logging"`
	Storage    StorageConfig     `json:"storage"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Reconcile  ReconcileConfig   `json:"reconcile"`
	Feed       FeedConfig        `json:"feed"`
	HTTP       HTTPConfig        `json:"http"`
	Debug      DebugConfig       `json:"debug"`
}

type LoggingConfig struct {
	Level   string       `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alerts  LoggingAlert `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// LoggingAlert copies WARN+ records onto the in-process alert log.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty" validate:"omitempty,oneof=warn warning error WARN WARNING ERROR"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// StorageConfig selects the store adapter.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./touchbase.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none memory mem sqlite sqlite3 badger"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,duration"` // sqlite only
}

// SchedulerConfig controls the trigger service (cron, interval, one-shot).
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// TaskEngineConfig controls the task execution engine.
//
// Enabled is a pointer so we can distinguish "omitted" (default to
// scheduler.enabled) from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty" validate:"gte=0"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	DefaultTimeout string `json:"default_timeout,omitempty" validate:"omitempty,duration"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty" validate:"omitempty,duration"`
	HistorySize    int    `json:"history_size,omitempty" validate:"gte=0"`
	RetryMax       int    `json:"retry_max,omitempty" validate:"gte=0"`
}

// ReconcileConfig controls the reconciliation job.
//
// Defaults: cooldown "5m", delay "1s", timeout "30s", no periodic sweep.
type ReconcileConfig struct {
	Cooldown string `json:"cooldown,omitempty" validate:"omitempty,duration"`
	Delay    string `json:"delay,omitempty" validate:"omitempty,duration"`
	Timeout  string `json:"timeout,omitempty" validate:"omitempty,duration"`
	// SweepSchedule reconciles every owner on a schedule
	// (cron spec, "every:30m", "interval:1h" or "HH:MM").
	SweepSchedule string `json:"sweep_schedule,omitempty"`
	// SuggestDue creates suggested check-ins after each run.
	SuggestDue bool `json:"suggest_due,omitempty"`
}

// FeedConfig controls the calendar feed.
type FeedConfig struct {
	InteractionLabel string `json:"interaction_label,omitempty"`
	CalendarName     string `json:"calendar_name,omitempty"`
	UIDHost          string `json:"uid_host,omitempty" validate:"omitempty,hostname_rfc1123"`
	// BaseURL is the public address feed URLs are built from.
	BaseURL    string  `json:"base_url,omitempty" validate:"omitempty,url"`
	RatePerSec float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
	Burst      int     `json:"burst,omitempty" validate:"gte=0"`
}

// HTTPConfig controls the API server.
//
// Security note: the owner API trusts its caller. Bind it to localhost or put
// it behind the auth proxy; only /feed/* is meant to be public.
type HTTPConfig struct {
	Enabled         bool   `json:"enabled"`
	Addr            string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	ReadTimeout     string `json:"read_timeout,omitempty" validate:"omitempty,duration"`
	WriteTimeout    string `json:"write_timeout,omitempty" validate:"omitempty,duration"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty" validate:"omitempty,duration"`
	CacheSize       int    `json:"cache_size,omitempty" validate:"gte=0"`
}

// DebugConfig controls the profiling and runtime-state listener. It can be
// toggled and moved by hot reload.
//
// A non-loopback addr requires a token unless allow_insecure is set.
type DebugConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token                string `json:"token,omitempty"`
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty" validate:"gte=0"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty" validate:"gte=0"`
}
