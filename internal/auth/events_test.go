package auth

import (
	"testing"
	"time"

	"touchbase/internal/clock"
	"touchbase/internal/eventbus"
	logx "touchbase/pkg/logx"
)

func TestParseKind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Kind
	}{
		{"signed_in", SignedIn},
		{"auth.signed_in", SignedIn},
		{" Sign-In ", SignedIn},
		{"logout", SignedOut},
		{"TOKEN_REFRESHED", StateChanged},
		{"auth.state_changed", StateChanged},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("ParseKind(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
	if _, err := ParseKind("reboot"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestEventsPublish(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := NewEvents(bus, clock.NewFake(at), logx.Nop())

	if err := ev.SignedIn("u1"); err != nil {
		t.Fatal(err)
	}
	if err := ev.SignedOut("u1"); err != nil {
		t.Fatal(err)
	}
	if err := ev.StateChanged(" "); err == nil {
		t.Fatal("expected error for empty owner")
	}

	for _, want := range []string{eventbus.AuthSignedIn, eventbus.AuthSignedOut} {
		e := <-ch
		if e.Type != want || e.OwnerID != "u1" || !e.Time.Equal(at) {
			t.Fatalf("got %+v, want %s for u1", e, want)
		}
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}
