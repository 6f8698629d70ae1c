package feed

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"touchbase/internal/checkin"
	"touchbase/internal/clock"
	"touchbase/internal/eventbus"
	"touchbase/internal/storage"
	logx "touchbase/pkg/logx"
)

var ErrUnknownToken = errors.New("unknown feed token")

const tokenBytes = 32

// NewToken returns 32 random bytes, base64url encoded without padding.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate feed token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// URL is the subscription address of token under base.
func URL(base, token string) string {
	return strings.TrimRight(base, "/") + "/feed/" + token + ".ics"
}

// Tokens issues and resolves feed tokens. Errors are returned to the caller
// as-is; nothing is retried.
type Tokens struct {
	store storage.Store
	clock clock.Clock
	bus   eventbus.Bus
	log   logx.Logger
}

func NewTokens(store storage.Store, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Tokens {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tokens{store: store, clock: clock.Or(clk), bus: bus, log: log.With(logx.String("comp", "feed"))}
}

// Get returns owner's token, issuing one on first use. Concurrent first
// calls all get the same token.
func (t *Tokens) Get(ctx context.Context, owner string) (checkin.FeedToken, error) {
	tok, err := t.store.GetFeedToken(ctx, owner)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return checkin.FeedToken{}, err
	}
	fresh, err := t.newToken(owner)
	if err != nil {
		return checkin.FeedToken{}, err
	}
	tok, err = t.store.AddFeedToken(ctx, fresh)
	if err != nil {
		return checkin.FeedToken{}, fmt.Errorf("store feed token: %w", err)
	}
	return tok, nil
}

// Rotate replaces owner's token. The previous token stops resolving at once.
func (t *Tokens) Rotate(ctx context.Context, owner string) (checkin.FeedToken, error) {
	tok, err := t.issue(ctx, owner)
	if err != nil {
		return checkin.FeedToken{}, err
	}
	t.log.Info("feed token rotated", logx.String("owner", owner))
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.FeedTokenRotated, OwnerID: owner})
	}
	return tok, nil
}

// Resolve maps a token to its owner.
func (t *Tokens) Resolve(ctx context.Context, token string) (string, error) {
	token = strings.TrimSuffix(strings.TrimSpace(token), ".ics")
	if token == "" {
		return "", ErrUnknownToken
	}
	owner, err := t.store.OwnerForFeedToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrUnknownToken
	}
	return owner, err
}

func (t *Tokens) newToken(owner string) (checkin.FeedToken, error) {
	if owner == "" {
		return checkin.FeedToken{}, errors.New("owner required")
	}
	raw, err := NewToken()
	if err != nil {
		return checkin.FeedToken{}, err
	}
	return checkin.FeedToken{OwnerID: owner, Token: raw, CreatedAt: t.clock.Now()}, nil
}

func (t *Tokens) issue(ctx context.Context, owner string) (checkin.FeedToken, error) {
	tok, err := t.newToken(owner)
	if err != nil {
		return checkin.FeedToken{}, err
	}
	if err := t.store.PutFeedToken(ctx, tok); err != nil {
		return checkin.FeedToken{}, fmt.Errorf("store feed token: %w", err)
	}
	return tok, nil
}
