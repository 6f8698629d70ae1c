package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"touchbase/internal/task/engine"
	logx "touchbase/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA name; empty means Local
}

// Enqueuer is the part of the task engine the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type Job = func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	opt     engine.TaskOptions
	state   *engine.RunState
	entryID cron.EntryID
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	opt     engine.TaskOptions
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	engine Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	once    map[string]*onceDef
	onceSeq uint64

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
}

type OnceInfo struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
	Once      []OnceInfo     `json:"once"`
}
