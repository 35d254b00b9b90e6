package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters and histograms for khctl.
type Metrics struct {
	registry              *prometheus.Registry
	apiRequestsTotal      *prometheus.CounterVec
	apiRequestSeconds     *prometheus.HistogramVec
	apiTransportErrors    *prometheus.CounterVec
	monitorPollsTotal     *prometheus.CounterVec
	monitorFinishedTotal  *prometheus.CounterVec
	monitorJobProgressPct *prometheus.GaugeVec
}

// New constructs a metrics registry and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	apiRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "khctl",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total User API requests that received a response.",
		},
		[]string{"method", "route", "code"},
	)
	apiRequestSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "khctl",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "User API round trip latency.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
	apiTransportErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "khctl",
			Subsystem: "api",
			Name:      "transport_errors_total",
			Help:      "User API requests that failed before a response arrived.",
		},
		[]string{"method", "route"},
	)
	monitorPollsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "khctl",
			Subsystem: "monitor",
			Name:      "polls_total",
			Help:      "Job monitor fetches by kind (job, layers, tasks).",
		},
		[]string{"kind"},
	)
	monitorFinishedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "khctl",
			Subsystem: "monitor",
			Name:      "finished_total",
			Help:      "Monitored jobs that reached a terminal status.",
		},
		[]string{"status"},
	)
	monitorJobProgressPct := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "khctl",
			Subsystem: "monitor",
			Name:      "job_progress_percent",
			Help:      "Last observed progress of a monitored job.",
		},
		[]string{"job"},
	)

	registry.MustRegister(
		apiRequestsTotal,
		apiRequestSeconds,
		apiTransportErrors,
		monitorPollsTotal,
		monitorFinishedTotal,
		monitorJobProgressPct,
	)

	return &Metrics{
		registry:              registry,
		apiRequestsTotal:      apiRequestsTotal,
		apiRequestSeconds:     apiRequestSeconds,
		apiTransportErrors:    apiTransportErrors,
		monitorPollsTotal:     monitorPollsTotal,
		monitorFinishedTotal:  monitorFinishedTotal,
		monitorJobProgressPct: monitorJobProgressPct,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.apiRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) IncTransportError(method, route string) {
	if m == nil {
		return
	}
	m.apiTransportErrors.WithLabelValues(method, route).Inc()
}

func (m *Metrics) IncPoll(kind string) {
	if m == nil {
		return
	}
	m.monitorPollsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncFinished(status string) {
	if m == nil {
		return
	}
	m.monitorFinishedTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetJobProgress(jobID string, percent float64) {
	if m == nil {
		return
	}
	m.monitorJobProgressPct.WithLabelValues(jobID).Set(percent)
}
