package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"touchbase/internal/checkin"
	"touchbase/internal/clock"
	"touchbase/internal/eventbus"
	"touchbase/internal/status"
	"touchbase/internal/storage"
	logx "touchbase/pkg/logx"
)

const (
	DefaultCooldown = 5 * time.Minute
	DefaultDelay    = time.Second
	DefaultTimeout  = 30 * time.Second
)

type Options struct {
	Cooldown time.Duration
	Delay    time.Duration
	Timeout  time.Duration
	Location *time.Location
	Clock    clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Cooldown < 0 {
		o.Cooldown = 0
	} else if o.Cooldown == 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.Delay <= 0 {
		o.Delay = DefaultDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	o.Clock = clock.Or(o.Clock)
	return o
}

// Observer receives the outcome of every run, skipped ones included.
type Observer interface {
	ObserveReconcile(r Result, err error)
}

// Result summarizes one run.
type Result struct {
	OwnerID string `json:"owner_id"`
	Skipped bool   `json:"skipped,omitempty"`

	Stale        int           `json:"stale"`
	Missed       int           `json:"missed"`
	Completed    int           `json:"completed"`
	Unclassified int           `json:"unclassified"`
	Took         time.Duration `json:"took"`
}

// Changed is the number of rows the store actually moved.
func (r Result) Changed() int { return r.Missed + r.Completed }

type Job struct {
	store storage.Store
	sched Scheduler
	bus   eventbus.Bus
	obs   Observer
	log   logx.Logger
	opts  Options

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func New(store storage.Store, sched Scheduler, bus eventbus.Bus, log logx.Logger, opts Options) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{
		store:   store,
		sched:   sched,
		bus:     bus,
		log:     log.With(logx.String("comp", "reconcile")),
		opts:    opts.withDefaults(),
		lastRun: map[string]time.Time{},
	}
}

// SetObserver attaches metrics. Call before the job is used.
func (j *Job) SetObserver(o Observer) { j.obs = o }

// LastRun reports when owner was last reconciled by this process.
func (j *Job) LastRun(owner string) (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.lastRun[owner]
	return t, ok
}

// Run reconciles owner unless it was reconciled within the cooldown.
// A failed run does not start the cooldown.
func (j *Job) Run(ctx context.Context, owner string) (Result, error) {
	res, err := j.run(ctx, owner)
	if j.obs != nil {
		j.obs.ObserveReconcile(res, err)
	}
	return res, err
}

func (j *Job) run(ctx context.Context, owner string) (Result, error) {
	res := Result{OwnerID: owner}
	if owner == "" {
		return res, errors.New("owner required")
	}
	if j.store == nil {
		return res, storage.ErrDisabled
	}
	now := j.opts.Clock.Now()

	j.mu.Lock()
	last, seen := j.lastRun[owner]
	if seen && now.Sub(last) < j.opts.Cooldown {
		j.mu.Unlock()
		res.Skipped = true
		j.log.Debug("reconcile skipped: cooldown", logx.String("owner", owner), logx.Time("last_run", last))
		return res, nil
	}
	j.mu.Unlock()

	start := time.Now()
	stale, err := j.store.ListCheckIns(ctx, storage.CheckInFilter{
		OwnerID:  owner,
		Statuses: []checkin.Status{checkin.Scheduled},
		Before:   now,
	})
	if err != nil {
		return res, fmt.Errorf("list stale check-ins: %w", err)
	}
	res.Stale = len(stale)

	var missed, completed []string
	for _, c := range stale {
		st, ok := status.Determine(c.Date, now, j.opts.Location)
		switch {
		case !ok:
			res.Unclassified++
		case st == checkin.Missed:
			missed = append(missed, c.ID)
		case st == checkin.Completed:
			completed = append(completed, c.ID)
		}
	}
	if res.Unclassified > 0 {
		j.log.Warn("check-ins without a usable date left untouched", logx.String("owner", owner), logx.Int("count", res.Unclassified))
	}

	if len(missed)+len(completed) > 0 {
		var trs []storage.Transition
		if len(missed) > 0 {
			trs = append(trs, storage.Transition{To: checkin.Missed, IDs: missed})
		}
		if len(completed) > 0 {
			trs = append(trs, storage.Transition{To: checkin.Completed, IDs: completed})
		}
		moved, err := j.store.ApplyBulk(ctx, storage.BulkUpdate{
			OwnerID:     owner,
			From:        checkin.Scheduled,
			Before:      now,
			At:          now,
			Transitions: trs,
		})
		if err != nil {
			return res, fmt.Errorf("apply transitions: %w", err)
		}
		res.Missed = moved[checkin.Missed]
		res.Completed = moved[checkin.Completed]
	}
	res.Took = time.Since(start)

	j.mu.Lock()
	j.lastRun[owner] = now
	j.mu.Unlock()

	j.log.Info("reconcile done",
		logx.String("owner", owner),
		logx.Int("stale", res.Stale),
		logx.Int("missed", res.Missed),
		logx.Int("completed", res.Completed),
		logx.Duration("took", res.Took),
	)
	if j.bus != nil {
		j.bus.Publish(eventbus.Event{Type: eventbus.ReconcileCompleted, OwnerID: owner, Time: now, Data: res})
	}
	return res, nil
}

// RunAll reconciles every owner known to the store. Per-owner failures are
// logged and joined into the returned error.
func (j *Job) RunAll(ctx context.Context) ([]Result, error) {
	if j.store == nil {
		return nil, storage.ErrDisabled
	}
	owners, err := j.store.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	out := make([]Result, 0, len(owners))
	var errs []error
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := j.Run(ctx, owner)
		if err != nil {
			j.log.Warn("reconcile failed", logx.String("owner", owner), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", owner, err))
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}
