package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"touchbase/internal/eventbus"
	logx "touchbase/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1}, nil)
	var ran atomic.Bool
	if err := s.Enqueue(Task{Name: "hello", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, ran.Load)
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
}

func TestEnqueueDisabledAndStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("got %v, want ErrDisabled", err)
	}
	s2 := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s2.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
}

func TestNoRetryStopsAfterOneAttempt(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	failed, unsub := bus.Subscribe(4, EventTaskFailed)
	defer unsub()
	s := startEngine(t, Config{Workers: 1, RetryMax: 3}, bus)

	var calls atomic.Int32
	err := s.Enqueue(Task{Name: "permanent", Run: func(ctx context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("bad input"))
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case e := <-failed:
		item := e.Data.(HistoryItem)
		if item.Attempts != 1 || item.Error != "bad input" {
			t.Fatalf("unexpected history item %+v", item)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no failure event")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("got %d calls, want 1", got)
	}
}

func TestRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, RetryMax: 2}, nil)
	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryCap: 2 * time.Millisecond},
		Run: func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("try again")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
	h := s.Snapshot().History[0]
	if h.Error != "" || h.Attempts != 3 {
		t.Fatalf("unexpected history %+v", h)
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2}, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	task := Task{
		Name: "slow",
		Opt:  TaskOptions{Overlap: OverlapSkipIfRunning},
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("got %v, want ErrOverlapSkip", err)
	}
	close(release)
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })
}

func TestStopCancelsRunningTask(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	s.Start(context.Background())

	started := make(chan struct{})
	var canceled atomic.Bool
	_ = s.Enqueue(Task{Name: "long", Opt: TaskOptions{RetryMax: -1}, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	}})
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if !canceled.Load() {
		t.Fatalf("running task was not canceled")
	}
}

func TestBackoffBounds(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryCap: time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := backoff(opt, tc.attempt, nil); got != tc.want {
			t.Fatalf("attempt %d: got %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
