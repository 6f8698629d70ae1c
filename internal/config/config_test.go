package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
timezone: Europe/Berlin
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./touchbase.db
scheduler:
  enabled: true
task_engine:
  workers: 4
reconcile:
  cooldown: 5m
  delay: 1s
  sweep_schedule: "every:30m"
feed:
  interaction_label: Coffee
  base_url: https://cal.example.com
http:
  enabled: true
  addr: 127.0.0.1:8080
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("touchbase.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	require.Equal(t, "Europe/Berlin", cfg.Timezone)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, 4, cfg.TaskEngine.Workers)
	require.Equal(t, "Coffee", cfg.Feed.InteractionLabel)
	require.True(t, cfg.HTTP.Enabled)
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.json", []byte(`{"storage":{"driver":"memory"},"smtp":{}}`))
	require.Error(t, err)
	_, err = Decode("c.json", []byte(`{} {}`))
	require.Error(t, err)
	_, err = Decode("c.yml", []byte("- a\n- b\n"))
	require.Error(t, err)

	cfg, err := Decode("c.yaml", []byte(""))
	require.NoError(t, err)
	require.Equal(t, Config{}, *cfg)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	off := false
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"zero is valid", Config{}, ""},
		{"bad driver", Config{Storage: StorageConfig{Driver: "postgres"}}, "storage.driver"},
		{"sqlite needs path", Config{Storage: StorageConfig{Driver: "sqlite"}}, "storage.path"},
		{"bad duration", Config{Reconcile: ReconcileConfig{Cooldown: "soon"}}, "reconcile.cooldown"},
		{"negative duration", Config{Reconcile: ReconcileConfig{Delay: "-1s"}}, "reconcile.delay"},
		{"bad timezone", Config{Timezone: "Mars/Olympus"}, "timezone"},
		{"bad addr", Config{HTTP: HTTPConfig{Addr: "nope"}}, "http.addr"},
		{"bad base url", Config{Feed: FeedConfig{BaseURL: "not a url"}}, "feed.base_url"},
		{"file path required", Config{Logging: LoggingConfig{File: LoggingFile{Enabled: true}}}, "logging.file.path"},
		{"engine off with scheduler", Config{Scheduler: SchedulerConfig{Enabled: true}, TaskEngine: &TaskEngineConfig{Enabled: &off}}, "task_engine.enabled"},
		{"bad sweep", Config{Scheduler: SchedulerConfig{Enabled: true}, Reconcile: ReconcileConfig{SweepSchedule: "whenever"}}, "sweep_schedule"},
		{"sweep without scheduler", Config{Reconcile: ReconcileConfig{SweepSchedule: "every:1h"}}, "scheduler.enabled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Storage: StorageConfig{Driver: "memory"}}
	b := &Config{Storage: StorageConfig{Driver: "sqlite", Path: "/secret/place.db"}, Reconcile: ReconcileConfig{Cooldown: "1m"}}
	sections, attrs := SummarizeConfigChange(a, b)
	require.Equal(t, []string{"reconcile", "storage"}, sections)
	require.NotEmpty(t, attrs)
	require.Equal(t, []string{"reconcile", "storage"}, RestartRequired(sections))

	sections, _ = SummarizeConfigChange(b, b)
	require.Empty(t, sections)
}

func TestManagerLoadAndWatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "touchbase.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"reconcile":{"cooldown":"5m"}}`), 0o644))

	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "5m", cfg.Reconcile.Cooldown)

	sub := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = m.Watch(ctx); close(done) }()

	// invalid content is rejected and never published
	var got *Config
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"reconcile":{"cooldown":"later"}}`), 0o644)
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, []byte(`{"reconcile":{"cooldown":"1m"}}`), 0o644)
		select {
		case got = <-sub:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, "1m", got.Reconcile.Cooldown)
	require.Equal(t, "1m", m.Get().Reconcile.Cooldown)

	cancel()
	<-done
}

func TestLoadLocation(t *testing.T) {
	t.Parallel()
	loc, err := LoadLocation("timezone", "")
	require.NoError(t, err)
	require.Equal(t, time.Local, loc)
	_, err = LoadLocation("timezone", "Nowhere/Land")
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "timezone:"))
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	require.Equal(t, time.Second, d)
	_, err = ParseDurationOrDefault("x", "-2s", time.Second)
	require.Error(t, err)
}

func TestExampleConfigLoads(t *testing.T) {
	t.Parallel()
	data, err := os.ReadFile(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)
	cfg, err := Decode("config.example.yaml", data)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))
	require.Equal(t, "03:30", cfg.Reconcile.SweepSchedule)
	require.True(t, cfg.Reconcile.SuggestDue)
	require.False(t, cfg.Debug.Enabled)
}
