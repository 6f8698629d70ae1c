// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"touchbase/internal/reconcile"
	"touchbase/internal/task/engine"
)

const namespace = "touchbase"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	reconcileRuns     *prometheus.CounterVec
	reconcileChanged  *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	feedRequests      *prometheus.CounterVec
	dashboardViews    *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	logAlerts         *prometheus.CounterVec
}

// New registers every collector on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		reconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation runs by outcome (ok, skipped, error).",
		}, []string{"outcome"}),
		reconcileChanged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "transitions_total",
			Help:      "Check-ins moved by reconciliation, by target status.",
		}, []string{"status"}),
		reconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Wall time of non-skipped reconciliation runs.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		feedRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "requests_total",
			Help:      "Calendar feed requests by HTTP status code.",
		}, []string{"code"}),
		dashboardViews: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "views_total",
			Help:      "Dashboard reads by cache result (hit, miss).",
		}, []string{"cache"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
		logAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "alerts_total",
			Help:      "Log records copied to the alert sink, by level.",
		}, []string{"level"}),
	}
}

// ObserveReconcile implements reconcile.Observer.
func (m *Metrics) ObserveReconcile(r reconcile.Result, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.reconcileRuns.WithLabelValues("error").Inc()
		return
	case r.Skipped:
		m.reconcileRuns.WithLabelValues("skipped").Inc()
		return
	}
	m.reconcileRuns.WithLabelValues("ok").Inc()
	m.reconcileChanged.WithLabelValues("Missed").Add(float64(r.Missed))
	m.reconcileChanged.WithLabelValues("Completed").Add(float64(r.Completed))
	m.reconcileDuration.Observe(r.Took.Seconds())
}

func (m *Metrics) FeedRequest(code int) {
	if m == nil {
		return
	}
	m.feedRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) DashboardView(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.dashboardViews.WithLabelValues(label).Inc()
}

func (m *Metrics) HTTPRequest(route string, code int, seconds float64) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(seconds)
}

func (m *Metrics) LogAlert(level string) {
	if m == nil {
		return
	}
	m.logAlerts.WithLabelValues(level).Inc()
}

// WatchEngine exports the task engine's queue state as gauges read at
// scrape time.
func (m *Metrics) WatchEngine(snap func() engine.Snapshot) {
	if m == nil || snap == nil {
		return
	}
	f := promauto.With(m.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "task", Name: "queue_length",
		Help: "Tasks waiting in the engine queue.",
	}, func() float64 { return float64(snap().QueueLen) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "task", Name: "in_flight",
		Help: "Tasks currently running.",
	}, func() float64 { return float64(snap().InFlight) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "task", Name: "dropped_total",
		Help: "Tasks dropped because the queue was full or stale.",
	}, func() float64 { return float64(snap().Dropped) })
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

var _ reconcile.Observer = (*Metrics)(nil)
