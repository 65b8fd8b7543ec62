// Package health exposes Prometheus metrics for the refresh engine and
// an optional HTTP endpoint to scrape them.
package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	secretsGauge    prometheus.Gauge
	checkoutFailure *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers all metrics with the default registry. Safe to
// call more than once; recording is a no-op until it runs.
func InitMetrics() {
	metricsOnce.Do(func() {
		refreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bt_refresh_total",
				Help: "Total number of refresh runs by outcome",
			},
			[]string{"status"},
		)
		refreshDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bt_refresh_duration_seconds",
				Help:    "Duration of refresh runs in seconds",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120},
			},
		)
		secretsGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bt_snapshot_secrets",
				Help: "Number of secrets in the published snapshot",
			},
		)
		checkoutFailure = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bt_checkout_failures_total",
				Help: "Total number of failed credential checkouts by reason",
			},
			[]string{"reason"},
		)
		metricsRegistered = true
	})
}

// RecordRefresh records one refresh run.
func RecordRefresh(status string, seconds float64) {
	if !metricsRegistered {
		return
	}
	refreshTotal.WithLabelValues(status).Inc()
	refreshDuration.Observe(seconds)
}

// RecordSnapshotSize records the size of the published snapshot.
func RecordSnapshotSize(n int) {
	if !metricsRegistered {
		return
	}
	secretsGauge.Set(float64(n))
}

// RecordCheckoutFailure records one failed checkout.
func RecordCheckoutFailure(reason string) {
	if !metricsRegistered {
		return
	}
	checkoutFailure.WithLabelValues(reason).Inc()
}
