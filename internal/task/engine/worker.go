package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"touchbase/internal/eventbus"
	logx "touchbase/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, stopCh, qt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	defer qt.release()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && queueDelay > maxDelay {
		s.drop(start, qt.task, "stale_queue_delay")
		return
	}

	var (
		err      error
		attempts int
	)
loop:
	for attempts = 1; attempts <= 1+qt.opt.RetryMax; attempts++ {
		err = s.runOnce(ctx, qt)
		if err == nil || IsNoRetry(err) || attempts > qt.opt.RetryMax {
			break
		}
		delay := backoff(qt.opt, attempts, rng)
		s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", attempts+1), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
			break loop
		case <-stopCh:
			t.Stop()
			err = ErrStopped
			break loop
		case <-t.C:
		}
	}
	attempts = min(attempts, 1+qt.opt.RetryMax)

	var nr noRetryError
	if errors.As(err, &nr) {
		err = nr.err
	}
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: time.Since(start), Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", item.Duration), logx.Int("attempts", attempts))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventTaskFailed, Data: item})
		}
	} else {
		s.log.Debug("task completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", item.Duration))
	}
	s.record(item)
}

// runOnce runs one attempt under the task timeout with panic recovery.
func (s *Service) runOnce(ctx context.Context, qt queuedTask) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(ctx)
}

// backoff doubles RetryBase per attempt up to RetryCap, with 20% jitter.
func backoff(opt TaskOptions, attempt int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < attempt && d < opt.RetryCap; i++ {
		d *= 2
	}
	d = min(d, opt.RetryCap)
	if rng != nil {
		d = time.Duration(float64(d) * (1 + (rng.Float64()*2-1)*0.2))
	}
	return max(d, 0)
}
