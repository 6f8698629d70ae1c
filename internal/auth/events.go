// Package auth is the boundary to the external authentication provider. It
// does not manage sessions; it turns provider notifications into bus events
// that the reconciliation job listens to.
package auth

import (
	"fmt"
	"strings"

	"touchbase/internal/clock"
	"touchbase/internal/eventbus"
	logx "touchbase/pkg/logx"
)

// Kind is an authentication state transition.
type Kind string

const (
	SignedIn     Kind = "signed_in"
	SignedOut    Kind = "signed_out"
	StateChanged Kind = "state_changed"
)

func (k Kind) eventType() string {
	switch k {
	case SignedIn:
		return eventbus.AuthSignedIn
	case SignedOut:
		return eventbus.AuthSignedOut
	default:
		return eventbus.AuthStateChanged
	}
}

// ParseKind accepts the short names above, their event type form
// ("auth.signed_in") and a few provider spellings.
func ParseKind(s string) (Kind, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "auth.")
	v = strings.NewReplacer("-", "_", " ", "_").Replace(v)
	switch v {
	case "signed_in", "sign_in", "signin", "login":
		return SignedIn, nil
	case "signed_out", "sign_out", "signout", "logout":
		return SignedOut, nil
	case "state_changed", "token_refreshed", "user_updated", "changed":
		return StateChanged, nil
	}
	return "", fmt.Errorf("unknown auth event %q", s)
}

// Events publishes auth transitions for owners.
type Events struct {
	bus   eventbus.Bus
	clock clock.Clock
	log   logx.Logger
}

func NewEvents(bus eventbus.Bus, clk clock.Clock, log logx.Logger) *Events {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Events{bus: bus, clock: clock.Or(clk), log: log.With(logx.String("comp", "auth"))}
}

// Publish emits the event for kind. Owners must be non-empty.
func (e *Events) Publish(owner string, kind Kind) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return fmt.Errorf("auth event %s: owner required", kind)
	}
	e.log.Debug("auth event", logx.String("owner", owner), logx.String("kind", string(kind)))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: kind.eventType(), OwnerID: owner, Time: e.clock.Now()})
	}
	return nil
}

func (e *Events) SignedIn(owner string) error     { return e.Publish(owner, SignedIn) }
func (e *Events) SignedOut(owner string) error    { return e.Publish(owner, SignedOut) }
func (e *Events) StateChanged(owner string) error { return e.Publish(owner, StateChanged) }
