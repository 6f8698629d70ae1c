package reconcile

import (
	"context"
	"time"

	"touchbase/internal/eventbus"
	"touchbase/internal/task/engine"
	logx "touchbase/pkg/logx"
)

// Scheduler defers work by name. *scheduler.Service satisfies it.
type Scheduler interface {
	AddOnceOpt(name string, at time.Time, timeout time.Duration, opt engine.TaskOptions, job func(ctx context.Context) error) error
	Remove(name string) bool
}

func taskName(owner string) string { return "reconcile:" + owner }

// Trigger queues a run for owner after the configured delay and returns
// immediately. A trigger already pending for owner is replaced.
func (j *Job) Trigger(owner string) {
	if owner == "" {
		return
	}
	if j.sched == nil {
		j.log.Warn("reconcile trigger dropped: no scheduler", logx.String("owner", owner))
		return
	}
	at := j.opts.Clock.Now().Add(j.opts.Delay)
	err := j.sched.AddOnceOpt(taskName(owner), at, j.opts.Timeout, engine.TaskOptions{RetryMax: -1}, func(ctx context.Context) error {
		if _, err := j.Run(ctx, owner); err != nil {
			j.log.Warn("reconcile failed", logx.String("owner", owner), logx.Err(err))
			return engine.NoRetry(err)
		}
		return nil
	})
	if err != nil {
		j.log.Warn("reconcile trigger failed", logx.String("owner", owner), logx.Err(err))
		return
	}
	j.log.Debug("reconcile triggered", logx.String("owner", owner), logx.Time("at", at))
}

// Cancel drops a pending trigger for owner. It reports whether one existed.
func (j *Job) Cancel(owner string) bool {
	if j.sched == nil || owner == "" {
		return false
	}
	return j.sched.Remove(taskName(owner))
}

// Listen maps auth events to triggers until ctx is done: sign-in and state
// changes trigger a run, sign-out cancels the pending one.
func (j *Job) Listen(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64, eventbus.AuthSignedIn, eventbus.AuthStateChanged, eventbus.AuthSignedOut)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			switch e.Type {
			case eventbus.AuthSignedOut:
				j.Cancel(e.OwnerID)
			default:
				j.Trigger(e.OwnerID)
			}
		}
	}
}
