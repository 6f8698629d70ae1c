package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"touchbase/internal/task/engine"
	logx "touchbase/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// AddSchedule registers a recurring trigger. schedule is anything
// ParseSchedule accepts. Re-registering a name replaces it. Runs of the same
// schedule never overlap.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	return s.AddScheduleOpt(name, schedule, timeout, engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}, job)
}

func (s *Service) AddScheduleOpt(name, schedule string, timeout time.Duration, opt engine.TaskOptions, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	} else if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     opt,
		state:   &engine.RunState{},
	})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.registerLocked(d); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Time("next", s.c.Entry(d.entryID).Next))
	return nil
}

// AddOnce fires job once at at. A pending trigger with the same name is
// replaced, so repeated calls debounce to the latest time.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) error {
	return s.AddOnceOpt(name, at, timeout, engine.TaskOptions{}, job)
}

func (s *Service) AddOnceOpt(name string, at time.Time, timeout time.Duration, opt engine.TaskOptions, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.onceSeq++
	d := &onceDef{at: at, timeout: timeout, job: job, opt: opt, ver: s.onceSeq}
	s.once[name] = d
	if s.c != nil {
		s.armLocked(name, d)
	}
	return nil
}

// Pending reports when the one-shot trigger name fires, if one is pending.
func (s *Service) Pending(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.once[strings.TrimSpace(name)]
	if !ok {
		return time.Time{}, false
	}
	return d.at, true
}

// Remove cancels every trigger registered under name and reports whether
// anything was removed. A job already handed to the engine is not affected.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]

	if d, ok := s.once[name]; ok {
		if d.timer != nil {
			d.timer.Stop()
		}
		delete(s.once, name)
		removed = true
	}
	return removed
}

func (s *Service) registerLocked(d *scheduleDef) error {
	name, timeout, job, opt, state := d.name, d.timeout, d.job, d.opt, d.state
	fire := cron.FuncJob(func() {
		s.enqueue(engine.Task{Name: name, Timeout: timeout, Run: job, Opt: opt, State: state})
	})

	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(every); err == nil && dur > 0 {
			sched, _ := intervalWithSpread(dur, time.Now().In(s.loc), name)
			d.entryID = s.c.Schedule(sched, fire)
			return nil
		}
	}
	id, err := s.c.AddJob(d.spec, fire)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// armLocked starts the timer for a one-shot trigger. The version check in
// the callback ignores timers that lost a race with Remove or a replacement.
func (s *Service) armLocked(name string, d *onceDef) {
	ver := d.ver
	d.timer = time.AfterFunc(max(time.Until(d.at), 0), func() {
		s.mu.Lock()
		cur, ok := s.once[name]
		if !ok || cur.ver != ver {
			s.mu.Unlock()
			return
		}
		delete(s.once, name)
		s.mu.Unlock()
		s.enqueue(engine.Task{Name: name, Timeout: cur.timeout, Run: cur.job, Opt: cur.opt})
	})
}

func (s *Service) enqueue(t engine.Task) {
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(t)
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("trigger skipped", logx.String("name", t.Name))
		return
	}
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[t.Name]
	quiet := !last.IsZero() && now.Sub(last) < enqueueWarnThrottle
	if !quiet {
		s.lastWarn[t.Name] = now
	}
	s.warnMu.Unlock()
	if !quiet {
		s.log.Warn("trigger failed to enqueue", logx.String("name", t.Name), logx.Err(err))
	}
}
