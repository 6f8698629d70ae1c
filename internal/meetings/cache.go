package meetings

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"touchbase/internal/clock"
	"touchbase/internal/eventbus"
	"touchbase/internal/status"
	logx "touchbase/pkg/logx"
)

// Loader builds a fresh dashboard for owner.
type Loader func(ctx context.Context, owner string) (Dashboard, error)

type cachedView struct {
	d   Dashboard
	day time.Time
}

// ViewCache keeps recently built dashboards per owner. Entries are dropped
// when the bus reports a change for their owner, and a view built on an
// earlier local day is never served.
type ViewCache struct {
	views *lru.Cache[string, cachedView]
	load  Loader
	clock clock.Clock
	loc   *time.Location
	log   logx.Logger
}

func NewViewCache(size int, load Loader, clk clock.Clock, loc *time.Location, log logx.Logger) (*ViewCache, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, cachedView](size)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ViewCache{
		views: c,
		load:  load,
		clock: clock.Or(clk),
		loc:   loc,
		log:   log.With(logx.String("comp", "viewcache")),
	}, nil
}

// Get returns the cached dashboard or loads and caches a new one.
func (c *ViewCache) Get(ctx context.Context, owner string) (Dashboard, bool, error) {
	today := status.Day(c.clock.Now(), c.loc)
	if v, ok := c.views.Get(owner); ok {
		if v.day.Equal(today) {
			return v.d, true, nil
		}
		c.views.Remove(owner)
		c.log.Debug("view expired at day change", logx.String("owner", owner))
	}
	d, err := c.load(ctx, owner)
	if err != nil {
		return Dashboard{}, false, err
	}
	c.views.Add(owner, cachedView{d: d, day: today})
	return d, false, nil
}

func (c *ViewCache) Invalidate(owner string) {
	if c.views.Remove(owner) {
		c.log.Debug("view invalidated", logx.String("owner", owner))
	}
}

func (c *ViewCache) Len() int { return c.views.Len() }

// Watch invalidates views on reconcile and check-in or contact changes until
// ctx is done.
func (c *ViewCache) Watch(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(128, eventbus.ReconcileCompleted, eventbus.CheckInChanged, eventbus.ContactChanged)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Invalidate(e.OwnerID)
		}
	}
}
