package interaction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"touchbase/internal/checkin"
	"touchbase/internal/clock"
	"touchbase/internal/eventbus"
	"touchbase/internal/storage"
	logx "touchbase/pkg/logx"
)

var now = time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, storage.Store, eventbus.Bus) {
	t.Helper()
	st := storage.NewMemory()
	bus := eventbus.New()
	svc := New(st, clock.NewFake(now), time.UTC, bus, logx.Nop())
	n := 0
	svc.newID = func() string { n++; return fmt.Sprintf("id-%d", n) }
	_, err := st.InsertContact(context.Background(), checkin.Contact{ID: "c1", OwnerID: "u1", Name: "Ada", Frequency: checkin.Weekly})
	require.NoError(t, err)
	return svc, st, bus
}

func TestScheduleClassifiesByDate(t *testing.T) {
	t.Parallel()
	svc, st, _ := setup(t)
	ctx := context.Background()

	future, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: now.AddDate(0, 0, 3), Notes: "  lunch "})
	require.NoError(t, err)
	require.Equal(t, checkin.Scheduled, future.Status)
	require.Equal(t, checkin.Planned, future.Type)
	require.Equal(t, "lunch", future.Notes)

	past, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: now.AddDate(0, 0, -3)})
	require.NoError(t, err)
	require.Equal(t, checkin.Missed, past.Status)

	c, err := st.GetContact(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Nil(t, c.LastInteraction)

	_, err = svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "nobody", Date: now})
	require.ErrorIs(t, err, ErrNoContact)
	_, err = svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1"})
	require.ErrorIs(t, err, storage.ErrInvalid)
	_, err = svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: now, Type: "other"})
	require.ErrorIs(t, err, storage.ErrInvalid)
}

func TestScheduleSameDay(t *testing.T) {
	t.Parallel()
	svc, st, _ := setup(t)
	ctx := context.Background()

	later, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: now.Add(5 * time.Hour)})
	require.NoError(t, err)
	require.Equal(t, checkin.Scheduled, later.Status)
	require.False(t, later.Manual)
	c, err := st.GetContact(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Nil(t, c.LastInteraction)
	require.Nil(t, c.NextDue)

	earlier := now.Add(-2 * time.Hour)
	done, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: earlier})
	require.NoError(t, err)
	require.Equal(t, checkin.Completed, done.Status)
	c, err = st.GetContact(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, c.LastInteraction)
	require.True(t, c.LastInteraction.Equal(earlier))
	require.True(t, c.NextDue.Equal(earlier.AddDate(0, 0, 7)))
}

func TestCompleteUpdatesContact(t *testing.T) {
	t.Parallel()
	svc, st, bus := setup(t)
	ctx := context.Background()
	events, unsub := bus.Subscribe(8, eventbus.ContactChanged)
	defer unsub()

	when := now.AddDate(0, 0, -2)
	ci, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: when})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, "u1", ci.ID)
	require.NoError(t, err)
	require.Equal(t, checkin.Completed, done.Status)
	require.True(t, done.Manual)

	c, err := st.GetContact(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, c.LastInteraction)
	require.True(t, c.LastInteraction.Equal(when))
	require.True(t, c.NextDue.Equal(when.AddDate(0, 0, 7)))

	select {
	case e := <-events:
		require.Equal(t, "u1", e.OwnerID)
	default:
		t.Fatal("no contact.changed event")
	}
}

func TestCompleteRejectsFuture(t *testing.T) {
	t.Parallel()
	svc, _, _ := setup(t)
	ctx := context.Background()
	ci, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: now.AddDate(0, 0, 1)})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, "u1", ci.ID)
	require.ErrorIs(t, err, ErrFutureDate)

	// later today is fine
	today, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: now.Add(3 * time.Hour)})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, "u1", today.ID)
	require.NoError(t, err)
}

func TestRecordInteractionKeepsLatest(t *testing.T) {
	t.Parallel()
	svc, _, _ := setup(t)
	ctx := context.Background()
	c, err := svc.RecordInteraction(ctx, "u1", "c1", now)
	require.NoError(t, err)
	require.True(t, c.NextDue.Equal(now.AddDate(0, 0, 7)))

	c, err = svc.RecordInteraction(ctx, "u1", "c1", now.AddDate(0, 0, -10))
	require.NoError(t, err)
	require.True(t, c.LastInteraction.Equal(now))
}

func TestSetStatusValidation(t *testing.T) {
	t.Parallel()
	svc, st, _ := setup(t)
	ctx := context.Background()
	past, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: now.AddDate(0, 0, -1)})
	require.NoError(t, err)
	future, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: now.AddDate(0, 0, 1)})
	require.NoError(t, err)

	cases := []struct {
		id   string
		to   checkin.Status
		want error
	}{
		{past.ID, checkin.Scheduled, ErrInvalidStatus},
		{future.ID, checkin.Missed, ErrInvalidStatus},
		{future.ID, checkin.Completed, ErrInvalidStatus},
		{future.ID, "Pending", ErrInvalidStatus},
		{"missing", checkin.Missed, storage.ErrNotFound},
		{past.ID, checkin.Missed, nil},
		{future.ID, checkin.Scheduled, nil},
	}
	for _, tc := range cases {
		got, err := svc.SetStatus(ctx, "u1", tc.id, tc.to)
		if tc.want != nil {
			require.True(t, errors.Is(err, tc.want), "%s -> %s: %v", tc.id, tc.to, err)
			continue
		}
		require.NoError(t, err)
		require.True(t, got.Manual)
	}

	stored, err := st.GetCheckIn(ctx, "u1", past.ID)
	require.NoError(t, err)
	require.Equal(t, checkin.Missed, stored.Status)
	require.True(t, stored.Manual)
}

func TestSuggestDue(t *testing.T) {
	t.Parallel()
	svc, st, _ := setup(t)
	ctx := context.Background()
	overdue := now.AddDate(0, 0, -4)
	later := now.AddDate(0, 0, 9)
	for _, c := range []checkin.Contact{
		{ID: "c2", OwnerID: "u1", Name: "Bo", Frequency: checkin.Monthly, NextDue: &overdue},
		{ID: "c3", OwnerID: "u1", Name: "Cy", Frequency: checkin.Monthly, NextDue: &later},
		{ID: "c4", OwnerID: "u1", Name: "Di", Frequency: checkin.Monthly, NextDue: &later},
	} {
		_, err := st.InsertContact(ctx, c)
		require.NoError(t, err)
	}
	// c4 already has something pending
	_, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c4", Date: now.AddDate(0, 0, 2)})
	require.NoError(t, err)

	created, err := svc.SuggestDue(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, created, 2)
	byContact := map[string]checkin.CheckIn{}
	for _, ci := range created {
		require.Equal(t, checkin.Suggested, ci.Type)
		require.Equal(t, checkin.Scheduled, ci.Status)
		byContact[ci.ContactID] = ci
	}
	require.True(t, byContact["c2"].Date.Equal(time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC)))
	require.True(t, byContact["c3"].Date.Equal(later))

	again, err := svc.SuggestDue(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestWatchSuggestsAfterReconcile(t *testing.T) {
	t.Parallel()
	svc, st, bus := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	due := now.AddDate(0, 0, 2)
	_, err := st.InsertContact(ctx, checkin.Contact{ID: "c2", OwnerID: "u1", Name: "Bo", Frequency: checkin.Daily, NextDue: &due})
	require.NoError(t, err)

	go func() { _ = svc.Watch(ctx, bus) }()
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.ReconcileCompleted, OwnerID: "u1"})
		rows, _ := st.ListCheckIns(ctx, storage.CheckInFilter{OwnerID: "u1", ContactID: "c2"})
		return len(rows) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	svc, _, _ := setup(t)
	ctx := context.Background()
	ci, err := svc.Schedule(ctx, "u1", ScheduleRequest{ContactID: "c1", Date: now.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "u1", ci.ID))
	require.ErrorIs(t, svc.Delete(ctx, "u1", ci.ID), storage.ErrNotFound)
}
