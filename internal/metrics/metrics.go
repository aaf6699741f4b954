// Package metrics exposes prometheus counters and histograms for the
// refresh loop, provider fetches and the HTTP API.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookcal"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	busyWindows     prometheus.Gauge
	fetchTotal      *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Busy-calendar refresh runs by outcome",
		}, []string{"status"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Wall time of a full refresh",
			Buckets:   prometheus.DefBuckets,
		}),
		busyWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "busy_windows",
			Help:      "Busy windows held by the latest snapshot",
		}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_total",
			Help:      "Calendar connection fetches by provider and outcome",
		}, []string{"provider", "status"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of a single connection fetch",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status code",
		}, []string{"route", "code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.refreshTotal, m.refreshDuration, m.busyWindows,
		m.fetchTotal, m.fetchDuration,
		m.requestTotal, m.requestLatency,
	)
	return m
}

// ObserveFetch records one provider fetch.
func (m *Metrics) ObserveFetch(provider string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(provider, status(ok)).Inc()
	m.fetchDuration.WithLabelValues(provider).Observe(seconds)
}

// ObserveRefresh records one refresh run and the size of its snapshot.
func (m *Metrics) ObserveRefresh(ok bool, seconds float64, windows int) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(status(ok)).Inc()
	m.refreshDuration.Observe(seconds)
	m.busyWindows.Set(float64(windows))
}

func (m *Metrics) ObserveRequest(route string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestLatency.WithLabelValues(route).Observe(seconds)
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
