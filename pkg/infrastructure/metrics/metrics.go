// Package metrics exposes Prometheus collectors for vendor calls, token refreshes,
// workout fetches and reconciliation passes.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "workoutsync"

var (
	vendorRequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vendor",
		Name:      "requests_total",
		Help:      "Vendor API calls grouped by provider, endpoint and HTTP status (0 for transport errors).",
	}, []string{"provider", "endpoint", "status"})

	vendorRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "vendor",
		Name:      "request_duration_seconds",
		Help:      "Latency of vendor API calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "endpoint"})

	tokenRefreshCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oauth",
		Name:      "token_refreshes_total",
		Help:      "Token refresh attempts grouped by provider and outcome.",
	}, []string{"provider", "outcome"})

	workoutsFetchedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "workouts_fetched_total",
		Help:      "Normalized workouts returned by provider fetches.",
	}, []string{"provider"})

	skippedItemCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "skipped_items_total",
		Help:      "Vendor items skipped because they could not be decoded or normalized.",
	}, []string{"provider"})

	reconcileGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the most recent reconciliation pass per provider.",
	}, []string{"provider"})

	reconcileOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "users_total",
		Help:      "Users visited by reconciliation grouped by outcome (refreshed, fixed, error, ok).",
	}, []string{"provider", "outcome"})
)

func init() {
	prometheus.MustRegister(
		vendorRequestCounter,
		vendorRequestDuration,
		tokenRefreshCounter,
		workoutsFetchedCounter,
		skippedItemCounter,
		reconcileGauge,
		reconcileOutcomeCounter,
	)
}

// RecordVendorRequest counts one vendor call. status is 0 when no response was received.
func RecordVendorRequest(provider, endpoint string, status int, elapsed time.Duration) {
	vendorRequestCounter.WithLabelValues(provider, endpoint, strconv.Itoa(status)).Inc()
	vendorRequestDuration.WithLabelValues(provider, endpoint).Observe(elapsed.Seconds())
}

// RecordTokenRefresh counts a refresh attempt; outcome is "success", "failure" or "skipped".
func RecordTokenRefresh(provider, outcome string) {
	tokenRefreshCounter.WithLabelValues(provider, outcome).Inc()
}

func RecordWorkoutsFetched(provider string, n int) {
	workoutsFetchedCounter.WithLabelValues(provider).Add(float64(n))
}

func RecordSkippedItem(provider string) {
	skippedItemCounter.WithLabelValues(provider).Inc()
}

// RecordReconcileRun stamps the completion time of a pass.
func RecordReconcileRun(provider string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	reconcileGauge.WithLabelValues(provider).Set(float64(ts.Unix()))
}

func RecordReconcileOutcome(provider, outcome string) {
	reconcileOutcomeCounter.WithLabelValues(provider, outcome).Inc()
}
