// Package observability provides Prometheus metrics for the bridge.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Fetches        *prometheus.CounterVec
	FetchLatency   *prometheus.HistogramVec
	TokenRefreshes prometheus.Counter
	ChartCommands  *prometheus.CounterVec
	ChartLatency   *prometheus.HistogramVec
	Surfaces       prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics registers collectors on reg. Pass prometheus.NewRegistry() in tests.
func NewMetrics(reg *prometheus.Registry, namespace string) *Metrics {
	if namespace == "" {
		namespace = "levelbridge"
	}
	f := promauto.With(reg)
	return &Metrics{
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetches_total",
			Help:      "Upstream fetches by kind and outcome",
		}, []string{"kind", "outcome"}),
		FetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "fetch_duration_seconds",
			Help:      "Upstream fetch latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		TokenRefreshes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "token_refreshes_total",
			Help:      "Anti-forgery token fetches",
		}),
		ChartCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chart",
			Name:      "commands_total",
			Help:      "Chart host commands by command and outcome",
		}, []string{"cmd", "outcome"}),
		ChartLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chart",
			Name:      "command_duration_seconds",
			Help:      "Round trip of chart host commands",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"cmd"}),
		Surfaces: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chart",
			Name:      "surfaces",
			Help:      "Connected chart surfaces",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveFetch(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(kind, outcome).Inc()
	m.FetchLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) TokenRefreshed() {
	if m == nil {
		return
	}
	m.TokenRefreshes.Inc()
}

func (m *Metrics) ObserveCommand(cmd, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChartCommands.WithLabelValues(cmd, outcome).Inc()
	m.ChartLatency.WithLabelValues(cmd).Observe(d.Seconds())
}

func (m *Metrics) SetSurfaces(n int) {
	if m == nil {
		return
	}
	m.Surfaces.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
