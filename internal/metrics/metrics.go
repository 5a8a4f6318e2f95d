package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of gateway operations",
		},
		[]string{"provider", "model", "operation", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Operation duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model", "operation"},
	)

	UnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_units_total",
			Help: "Total usage units metered (tokens, images, seconds, characters)",
		},
		[]string{"provider", "model", "direction"},
	)

	ProviderCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_cost_usd_total",
			Help: "Raw provider cost in USD",
		},
		[]string{"provider", "model"},
	)

	BilledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_billed_usd_total",
			Help: "Billed amount in USD after markup and rounding",
		},
		[]string{"provider", "model"},
	)

	UsageEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_usage_records_emitted_total",
			Help: "Usage records delivered to the sink",
		},
		[]string{"provider", "model", "operation"},
	)

	SinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_usage_sink_failures_total",
			Help: "Usage records the sink failed to accept",
		},
		[]string{"operation"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Upstream provider failures by type",
		},
		[]string{"provider", "error_type"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_hits_total",
			Help: "Requests rejected by the per-model rate limiter",
		},
		[]string{"provider", "model"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_streams",
			Help: "Streaming completions currently in flight",
		},
	)
)

func RecordRequest(provider, model, operation, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(provider, model, operation, status).Inc()
	RequestDuration.WithLabelValues(provider, model, operation).Observe(durationSec)
}

func RecordUnits(provider, model string, inputUnits, outputUnits int) {
	UnitsTotal.WithLabelValues(provider, model, "input").Add(float64(inputUnits))
	UnitsTotal.WithLabelValues(provider, model, "output").Add(float64(outputUnits))
}

func RecordCost(provider, model string, providerCost, billedAmount float64) {
	ProviderCostTotal.WithLabelValues(provider, model).Add(providerCost)
	BilledTotal.WithLabelValues(provider, model).Add(billedAmount)
}

func RecordUsageEmitted(provider, model, operation string) {
	UsageEmittedTotal.WithLabelValues(provider, model, operation).Inc()
}

func RecordSinkFailure(operation string) {
	SinkFailuresTotal.WithLabelValues(operation).Inc()
}

func RecordProviderError(provider, errorType string) {
	ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

func RecordRateLimitHit(provider, model string) {
	RateLimitHits.WithLabelValues(provider, model).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func IncrementActiveStreams() {
	ActiveStreams.Inc()
}

func DecrementActiveStreams() {
	ActiveStreams.Dec()
}
