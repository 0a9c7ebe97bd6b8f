package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "market_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "market_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "market_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	assetTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "market_layer",
			Subsystem: "settlement",
			Name:      "asset_transitions_total",
			Help:      "Total number of asset lifecycle transitions.",
		},
		[]string{"state"},
	)

	inconsistencies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "market_layer",
			Subsystem: "settlement",
			Name:      "inconsistencies_total",
			Help:      "Local persistence failures after remote success.",
		},
		[]string{"op"},
	)

	repairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "market_layer",
			Subsystem: "settlement",
			Name:      "reconciled_assets_total",
			Help:      "Assets repaired from the marketplace owner view.",
		},
	)

	rewardPayouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "market_layer",
			Subsystem: "ledger",
			Name:      "reward_payouts_total",
			Help:      "Reward token payouts attempted on finalized sales.",
		},
		[]string{"success"},
	)
)

func init() {
	Registry.MustRegister(httpInFlight, httpRequests, httpDuration, assetTransitions, inconsistencies, repairs, rewardPayouts)
}

// ObserveTransition counts a successful lifecycle transition.
func ObserveTransition(state string) {
	assetTransitions.WithLabelValues(state).Inc()
}

// ObserveInconsistency counts a persistence-after-remote-success failure.
func ObserveInconsistency(op string) {
	inconsistencies.WithLabelValues(op).Inc()
}

// ObserveRepair counts a reconciled asset row.
func ObserveRepair() {
	repairs.Inc()
}

// ObserveRewardPayout counts a payout attempt.
func ObserveRewardPayout(success bool) {
	rewardPayouts.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHTTP wraps a handler with request counting and latency
// histograms. The path label uses the route pattern, not the raw URL, to
// bound cardinality.
func InstrumentHTTP(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
