package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"touchbase/internal/checkin"
	logx "touchbase/pkg/logx"
)

type driverCase struct {
	name string
	open func(t *testing.T) Store
}

func drivers() []driverCase {
	return []driverCase{
		{"memory", func(t *testing.T) Store { return NewMemory() }},
		{"sqlite", func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tb.db")}, logx.Nop())
			require.NoError(t, err)
			return st
		}},
		{"badger", func(t *testing.T) Store {
			st, err := Open(Config{Driver: "badger"}, logx.Nop())
			require.NoError(t, err)
			return st
		}},
	}
}

func forEachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()
	for _, d := range drivers() {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			st := d.open(t)
			t.Cleanup(func() { _ = st.Close() })
			fn(t, st)
		})
	}
}

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func ci(id string, date time.Time, st checkin.Status) checkin.CheckIn {
	return checkin.CheckIn{
		ID:        id,
		OwnerID:   "u1",
		ContactID: "c1",
		Date:      date,
		Status:    st,
		Type:      checkin.Planned,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestContactCRUD(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		last := base.Add(-24 * time.Hour)
		c := checkin.Contact{ID: "c1", OwnerID: "u1", Name: "Ada", Frequency: checkin.Weekly, LastInteraction: &last}
		_, err := st.InsertContact(ctx, c)
		require.NoError(t, err)

		got, err := st.GetContact(ctx, "u1", "c1")
		require.NoError(t, err)
		require.Equal(t, "Ada", got.Name)
		require.NotNil(t, got.LastInteraction)
		require.True(t, got.LastInteraction.Equal(last))
		require.Nil(t, got.NextDue)

		c.Name = "Ada L."
		_, err = st.UpdateContact(ctx, c)
		require.NoError(t, err)

		list, err := st.ListContacts(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "Ada L.", list[0].Name)

		_, err = st.UpdateContact(ctx, checkin.Contact{ID: "nope", OwnerID: "u1"})
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, st.DeleteContact(ctx, "u1", "c1"))
		_, err = st.GetContact(ctx, "u1", "c1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestInsertCheckInValidates(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		bad := ci("x", base, "Pending")
		_, err := st.InsertCheckIn(context.Background(), bad)
		require.ErrorIs(t, err, ErrInvalid)

		noDate := ci("y", time.Time{}, checkin.Scheduled)
		_, err = st.InsertCheckIn(context.Background(), noDate)
		require.ErrorIs(t, err, ErrInvalid)
	})
}

func TestListCheckInsFilterAndOrder(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		rows := []checkin.CheckIn{
			ci("b", base.Add(48*time.Hour), checkin.Scheduled),
			ci("a", base.Add(48*time.Hour), checkin.Scheduled),
			ci("c", base.Add(-48*time.Hour), checkin.Missed),
			ci("d", base.Add(24*time.Hour), checkin.Completed),
		}
		for _, r := range rows {
			_, err := st.InsertCheckIn(ctx, r)
			require.NoError(t, err)
		}
		other := ci("z", base, checkin.Scheduled)
		other.OwnerID = "u2"
		_, err := st.InsertCheckIn(ctx, other)
		require.NoError(t, err)

		all, err := st.ListCheckIns(ctx, CheckInFilter{OwnerID: "u1"})
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, r := range all {
			ids = append(ids, r.ID)
		}
		require.Equal(t, []string{"c", "d", "a", "b"}, ids)

		sched, err := st.ListCheckIns(ctx, CheckInFilter{OwnerID: "u1", Statuses: []checkin.Status{checkin.Scheduled}, After: base})
		require.NoError(t, err)
		require.Len(t, sched, 2)

		owners, err := st.Owners(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"u1", "u2"}, owners)
	})
}

func TestApplyBulkConditional(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		past := ci("past", base.Add(-72*time.Hour), checkin.Scheduled)
		sameDay := ci("today", base.Add(-2*time.Hour), checkin.Scheduled)
		future := ci("future", base.Add(72*time.Hour), checkin.Scheduled)
		manual := ci("manual", base.Add(-72*time.Hour), checkin.Scheduled)
		manual.Manual = true
		done := ci("done", base.Add(-72*time.Hour), checkin.Completed)
		for _, r := range []checkin.CheckIn{past, sameDay, future, manual, done} {
			_, err := st.InsertCheckIn(ctx, r)
			require.NoError(t, err)
		}

		at := base.Add(time.Minute)
		res, err := st.ApplyBulk(ctx, BulkUpdate{
			OwnerID: "u1",
			From:    checkin.Scheduled,
			Before:  base,
			At:      at,
			Transitions: []Transition{
				{To: checkin.Completed, IDs: []string{"today", "future"}},
				{To: checkin.Missed},
			},
		})
		require.NoError(t, err)
		require.Equal(t, 1, res[checkin.Completed])
		require.Equal(t, 2, res[checkin.Missed])

		want := map[string]checkin.Status{
			"past":   checkin.Missed,
			"today":  checkin.Completed,
			"future": checkin.Scheduled,
			"manual": checkin.Missed,
			"done":   checkin.Completed,
		}
		for id, s := range want {
			got, err := st.GetCheckIn(ctx, "u1", id)
			require.NoError(t, err)
			require.Equal(t, s, got.Status, id)
		}
		got, err := st.GetCheckIn(ctx, "u1", "past")
		require.NoError(t, err)
		require.True(t, got.UpdatedAt.Equal(at))

		// A second run finds nothing left to move.
		n, err := MarkMissed(ctx, st, "u1", base)
		require.NoError(t, err)
		require.Zero(t, n)
	})
}

func TestApplyBulkEmptyIDsMovesNothing(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		_, err := st.InsertCheckIn(ctx, ci("p", base.Add(-time.Hour), checkin.Scheduled))
		require.NoError(t, err)
		res, err := st.ApplyBulk(ctx, BulkUpdate{
			OwnerID:     "u1",
			From:        checkin.Scheduled,
			Before:      base,
			Transitions: []Transition{{To: checkin.Completed, IDs: []string{}}},
		})
		require.NoError(t, err)
		require.Zero(t, res[checkin.Completed])
	})
}

func TestFeedTokenRotation(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		_, err := st.GetFeedToken(ctx, "u1")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, st.PutFeedToken(ctx, checkin.FeedToken{OwnerID: "u1", Token: "old", CreatedAt: base}))
		owner, err := st.OwnerForFeedToken(ctx, "old")
		require.NoError(t, err)
		require.Equal(t, "u1", owner)

		require.NoError(t, st.PutFeedToken(ctx, checkin.FeedToken{OwnerID: "u1", Token: "new", CreatedAt: base.Add(time.Hour)}))
		_, err = st.OwnerForFeedToken(ctx, "old")
		require.True(t, errors.Is(err, ErrNotFound))

		tok, err := st.GetFeedToken(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, "new", tok.Token)

		require.ErrorIs(t, st.PutFeedToken(ctx, checkin.FeedToken{OwnerID: "u1"}), ErrInvalid)
	})
}

func TestAddFeedTokenKeepsFirst(t *testing.T) {
	t.Parallel()
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		got, err := st.AddFeedToken(ctx, checkin.FeedToken{OwnerID: "u1", Token: "first", CreatedAt: base})
		require.NoError(t, err)
		require.Equal(t, "first", got.Token)

		got, err = st.AddFeedToken(ctx, checkin.FeedToken{OwnerID: "u1", Token: "second", CreatedAt: base})
		require.NoError(t, err)
		require.Equal(t, "first", got.Token)
		_, err = st.OwnerForFeedToken(ctx, "second")
		require.ErrorIs(t, err, ErrNotFound)

		_, err = st.AddFeedToken(ctx, checkin.FeedToken{OwnerID: "u2"})
		require.ErrorIs(t, err, ErrInvalid)
	})
}
