// Package eventbus is an in-process fanout of small domain signals between
// the auth, reconciliation, check-in and feed components.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published inside the process.
const (
	AuthSignedIn       = "auth.signed_in"
	AuthSignedOut      = "auth.signed_out"
	AuthStateChanged   = "auth.state_changed"
	ReconcileCompleted = "reconcile.completed"
	CheckInChanged     = "checkin.changed"
	ContactChanged     = "contact.changed"
	FeedTokenRotated   = "feed.token_rotated"
	ConfigReloaded     = "config.reloaded"
)

// Event carries an owner-scoped signal. Data should stay small.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type    string
	OwnerID string
	Time    time.Time
	Data    any
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives every event whose Type is in types, or all events
	// when types is empty.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It starts no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *sub) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// Unsubscribe may close ch between the snapshot and the send.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}
