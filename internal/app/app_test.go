package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"touchbase/internal/checkin"
	"touchbase/internal/config"
	"touchbase/internal/feed"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		in      config.StorageConfig
		driver  string
		wantErr bool
	}{
		{config.StorageConfig{}, "memory", false},
		{config.StorageConfig{Driver: "mem"}, "memory", false},
		{config.StorageConfig{Driver: "none"}, "", true},
		{config.StorageConfig{Driver: "sqlite"}, "", true},
		{config.StorageConfig{Driver: "sqlite3", Path: "x.db", BusyTimeout: "2s"}, "sqlite3", false},
		{config.StorageConfig{Driver: "badger"}, "badger", false},
		{config.StorageConfig{Driver: "postgres"}, "", true},
	}
	for _, tc := range cases {
		got, err := mapStorageConfig(&config.Config{Storage: tc.in})
		if tc.wantErr {
			require.Error(t, err, "%+v", tc.in)
			continue
		}
		require.NoError(t, err, "%+v", tc.in)
		require.Equal(t, tc.driver, got.Driver)
	}

	got, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "sqlite", Path: "x.db"}})
	require.NoError(t, err)
	require.Equal(t, time.Second, got.BusyTimeout)
}

func TestMapTaskEngineConfig(t *testing.T) {
	got, err := mapTaskEngineConfig(&config.Config{Scheduler: config.SchedulerConfig{Enabled: true}})
	require.NoError(t, err)
	require.True(t, got.Enabled)
	require.Equal(t, 2, got.Workers)
	require.Equal(t, 256, got.QueueSize)
	require.Equal(t, 3, got.RetryMax)

	off := false
	_, err = mapTaskEngineConfig(&config.Config{
		Scheduler:  config.SchedulerConfig{Enabled: true},
		TaskEngine: &config.TaskEngineConfig{Enabled: &off},
	})
	require.Error(t, err)

	got, err = mapTaskEngineConfig(&config.Config{TaskEngine: &config.TaskEngineConfig{Workers: 5, DefaultTimeout: "3s"}})
	require.NoError(t, err)
	require.False(t, got.Enabled)
	require.Equal(t, 5, got.Workers)
	require.Equal(t, 3*time.Second, got.DefaultTimeout)
}

func TestMapReconcileOptions(t *testing.T) {
	opts, err := mapReconcileOptions(&config.Config{}, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, opts.Cooldown)
	require.Equal(t, time.UTC, opts.Location)

	opts, err = mapReconcileOptions(&config.Config{Reconcile: config.ReconcileConfig{Cooldown: "0s", Delay: "2s"}}, time.UTC)
	require.NoError(t, err)
	require.Negative(t, opts.Cooldown)
	require.Equal(t, 2*time.Second, opts.Delay)
}

func TestMapSchedulerAndFeedDefaults(t *testing.T) {
	sc := mapSchedulerConfig(&config.Config{Timezone: "Europe/Berlin"})
	require.Equal(t, "Europe/Berlin", sc.Timezone)
	sc = mapSchedulerConfig(&config.Config{Timezone: "Europe/Berlin", Scheduler: config.SchedulerConfig{Timezone: "UTC"}})
	require.Equal(t, "UTC", sc.Timezone)

	name, label, host := feedCalendar(&config.Config{Feed: config.FeedConfig{InteractionLabel: "Coffee"}})
	require.Equal(t, feed.DefaultName, name)
	require.Equal(t, "Coffee", label)
	require.Equal(t, feed.DefaultUIDHost, host)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(writeConfig(t, `{"storage":{"driver":"none"}}`))
	require.Error(t, err)
	_, err = New(writeConfig(t, `{"timezone":"Mars/Olympus"}`))
	require.Error(t, err)
}

func TestAppReconcilesOnSignIn(t *testing.T) {
	a, err := New(writeConfig(t, `{
		"timezone": "UTC",
		"logging": {"level": "error"},
		"storage": {"driver": "memory"},
		"scheduler": {"enabled": true},
		"reconcile": {"delay": "5ms"}
	}`))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		require.NoError(t, a.Stop(stopCtx, StopAppStop))
	}()

	st := a.Store()
	_, err = st.InsertContact(ctx, checkin.Contact{ID: "c1", OwnerID: "u1", Name: "Ada", Frequency: checkin.Monthly})
	require.NoError(t, err)
	_, err = st.InsertCheckIn(ctx, checkin.CheckIn{
		ID: "k1", OwnerID: "u1", ContactID: "c1",
		Date:   time.Now().AddDate(0, 0, -3),
		Status: checkin.Scheduled, Type: checkin.Planned,
	})
	require.NoError(t, err)

	// the listener subscribes asynchronously, so keep signing in until a
	// run has happened
	require.Eventually(t, func() bool {
		if _, ok := a.Reconcile().LastRun("u1"); ok {
			return true
		}
		require.NoError(t, a.Auth().SignedIn("u1"))
		return false
	}, 3*time.Second, 50*time.Millisecond)

	ci, err := st.GetCheckIn(ctx, "u1", "k1")
	require.NoError(t, err)
	require.Equal(t, checkin.Missed, ci.Status)
	require.Nil(t, a.Err())
}
