package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"touchbase/internal/reconcile"
	"touchbase/internal/task/engine"
)

func TestObserveReconcile(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveReconcile(reconcile.Result{OwnerID: "u1", Missed: 2, Completed: 1, Took: 10 * time.Millisecond}, nil)
	m.ObserveReconcile(reconcile.Result{OwnerID: "u1", Skipped: true}, nil)
	m.ObserveReconcile(reconcile.Result{OwnerID: "u2"}, errors.New("boom"))

	require.Equal(t, 1.0, testutil.ToFloat64(m.reconcileRuns.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reconcileRuns.WithLabelValues("skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reconcileRuns.WithLabelValues("error")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.reconcileChanged.WithLabelValues("Missed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reconcileChanged.WithLabelValues("Completed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveReconcile(reconcile.Result{}, nil)
	m.FeedRequest(200)
	m.DashboardView(true)
	m.HTTPRequest("/", 200, 0.1)
	m.LogAlert("warn")
	m.WatchEngine(nil)
}

func TestLogAlert(t *testing.T) {
	t.Parallel()
	m := New()
	m.LogAlert("warn")
	m.LogAlert("warn")
	m.LogAlert("error")
	require.Equal(t, 2.0, testutil.ToFloat64(m.logAlerts.WithLabelValues("warn")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.logAlerts.WithLabelValues("error")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()
	m := New()
	m.FeedRequest(http.StatusNotFound)
	m.DashboardView(false)
	m.WatchEngine(func() engine.Snapshot { return engine.Snapshot{QueueLen: 3, InFlight: 1, Dropped: 7} })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{
		`touchbase_feed_requests_total{code="404"} 1`,
		`touchbase_dashboard_views_total{cache="miss"} 1`,
		`touchbase_task_queue_length 3`,
		`touchbase_task_dropped_total 7`,
	} {
		require.True(t, strings.Contains(body, want), "missing %q", want)
	}
}
