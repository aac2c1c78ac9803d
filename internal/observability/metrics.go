// Package observability defines the Prometheus metrics exported by the server.
package observability

import (
	"errors"
	"time"

	"github.com/JonMunkholm/geomap/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters, histograms, and gauges for CSV loads and sessions.
type Metrics struct {
	Loads            *prometheus.CounterVec // labels: outcome={success,failure}
	StrategyAttempts *prometheus.CounterVec // labels: strategy, result={ok,tokenization,insufficient_columns,empty}
	RowsLoaded       prometheus.Histogram
	RowsDropped      prometheus.Counter
	LoadDuration     prometheus.Histogram
	UploadBytes      prometheus.Histogram
	SessionsActive   prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geomap",
			Name:      "loads_total",
			Help:      "CSV loads by outcome.",
		}, []string{"outcome"}),
		StrategyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geomap",
			Name:      "strategy_attempts_total",
			Help:      "Parse strategy attempts by strategy and result.",
		}, []string{"strategy", "result"}),
		RowsLoaded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geomap",
			Name:      "rows_loaded",
			Help:      "Coordinate rows per successful load.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}),
		RowsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geomap",
			Name:      "rows_dropped_total",
			Help:      "Records discarded because a coordinate cell was not numeric.",
		}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geomap",
			Name:      "load_duration_seconds",
			Help:      "Time spent parsing an upload.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		UploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geomap",
			Name:      "upload_bytes",
			Help:      "Size of uploaded CSV files.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geomap",
			Name:      "sessions_active",
			Help:      "Map sessions currently held in memory.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Loads,
		m.StrategyAttempts,
		m.RowsLoaded,
		m.RowsDropped,
		m.LoadDuration,
		m.UploadBytes,
		m.SessionsActive,
	}
}

// NewMetrics creates all metrics and registers them with the default registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting registers the metrics with reg instead of the default
// registry so tests can create as many instances as they need.
func NewMetricsForTesting(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

// ObserveLoad records one load attempt and the per-strategy results.
func (m *Metrics) ObserveLoad(report core.LoadReport, table *core.Table, size int, elapsed time.Duration) {
	m.LoadDuration.Observe(elapsed.Seconds())
	m.UploadBytes.Observe(float64(size))

	for _, a := range report.Attempts {
		m.StrategyAttempts.WithLabelValues(a.Strategy, attemptResult(a.Err)).Inc()
	}

	if table == nil {
		m.Loads.WithLabelValues("failure").Inc()
		return
	}
	m.Loads.WithLabelValues("success").Inc()
	m.RowsLoaded.Observe(float64(table.Len()))
	m.RowsDropped.Add(float64(table.Dropped()))
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrTokenization):
		return "tokenization"
	case errors.Is(err, core.ErrInsufficientColumns):
		return "insufficient_columns"
	case errors.Is(err, core.ErrEmptyResult):
		return "empty"
	default:
		return "error"
	}
}
