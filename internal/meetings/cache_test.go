package meetings

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"touchbase/internal/checkin"
	"touchbase/internal/clock"
	"touchbase/internal/eventbus"
	"touchbase/internal/storage"
	logx "touchbase/pkg/logx"
)

func TestBuildDashboard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	due := now.AddDate(0, 0, -1)
	_, err := st.InsertContact(ctx, checkin.Contact{ID: "c1", OwnerID: "u1", Name: "Ada", Frequency: checkin.Weekly, NextDue: &due})
	require.NoError(t, err)
	for _, c := range []checkin.CheckIn{
		ci("n1", now.AddDate(0, 0, 2), checkin.Scheduled, checkin.Planned),
		ci("m1", now.AddDate(0, 0, -2), checkin.Missed, checkin.Planned),
		ci("done", now.AddDate(0, 0, -3), checkin.Completed, checkin.Planned),
	} {
		_, err := st.InsertCheckIn(ctx, c)
		require.NoError(t, err)
	}

	d, err := Build(ctx, st, "u1", now, time.UTC)
	require.NoError(t, err)
	require.Equal(t, []string{"n1"}, ids(d.Next.Planned))
	require.Equal(t, []string{"m1"}, ids(d.Missed))
	require.Equal(t, "Ada", d.Names["c1"])
	require.Len(t, d.Due, 1)
}

func TestViewCacheInvalidatesOnEvents(t *testing.T) {
	t.Parallel()
	var loads atomic.Int32
	vc, err := NewViewCache(8, func(ctx context.Context, owner string) (Dashboard, error) {
		loads.Add(1)
		return Dashboard{OwnerID: owner}, nil
	}, clock.NewFake(now), time.UTC, logx.Nop())
	require.NoError(t, err)

	_, hit, err := vc.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, hit)
	_, hit, _ = vc.Get(context.Background(), "u1")
	require.True(t, hit)
	require.EqualValues(t, 1, loads.Load())

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = vc.Watch(ctx, bus) }()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.ReconcileCompleted, OwnerID: "u1"})
		return vc.Len() == 0
	}, time.Second, 10*time.Millisecond)

	_, hit, _ = vc.Get(context.Background(), "u1")
	require.False(t, hit)
	require.EqualValues(t, 2, loads.Load())
}

func TestViewCacheExpiresAtDayChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	built := time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(built)
	_, err := st.InsertCheckIn(ctx, ci("k1", time.Date(2024, 5, 16, 9, 0, 0, 0, time.UTC), checkin.Scheduled, checkin.Planned))
	require.NoError(t, err)

	vc, err := NewViewCache(8, func(ctx context.Context, owner string) (Dashboard, error) {
		return Build(ctx, st, owner, clk.Now(), time.UTC)
	}, clk, time.UTC, logx.Nop())
	require.NoError(t, err)

	d, hit, err := vc.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, hit)
	require.Equal(t, []string{"k1"}, ids(d.Next.Planned))

	clk.Set(built.Add(14 * time.Hour))
	_, hit, err = vc.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, hit, "same local day")

	clk.Set(time.Date(2024, 5, 18, 8, 0, 0, 0, time.UTC))
	d, hit, err = vc.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, hit)
	require.Empty(t, d.Next.Planned)
	require.Equal(t, []string{"k1"}, ids(d.Missed))
}
