package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Recovery metrics
	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeheal_recoveries_total",
			Help: "Total number of recovery executions by error type and outcome",
		},
		[]string{"error_type", "outcome"},
	)

	ActionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeheal_action_attempts_total",
			Help: "Total number of recovery action attempts by action and result",
		},
		[]string{"action", "result"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeheal_action_duration_seconds",
			Help:    "Recovery action duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"action"},
	)

	// Circuit breaker metrics
	BreakersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeheal_circuit_breakers",
			Help: "Number of circuit breakers by state",
		},
		[]string{"state"},
	)

	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeheal_circuit_breaker_transitions_total",
			Help: "Total breaker transitions by target state",
		},
		[]string{"to"},
	)

	BreakerRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeheal_circuit_breaker_rejections_total",
			Help: "Total recovery requests rejected by an open breaker",
		},
	)

	// Health verification metrics
	HealthCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeheal_health_check_duration_seconds",
			Help:    "Post-action health verification duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"kind", "result"},
	)

	// Ingress metrics
	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeheal_webhook_requests_total",
			Help: "Total webhook alerts received by source and status",
		},
		[]string{"source", "status"},
	)

	TicketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeheal_tickets_total",
			Help: "Total tickets created by source",
		},
		[]string{"source"},
	)

	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeheal_classifications_total",
			Help: "Total failure classifications by provider",
		},
		[]string{"provider"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RecoveriesTotal)
	prometheus.MustRegister(ActionAttemptsTotal)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(BreakersByState)
	prometheus.MustRegister(BreakerTransitionsTotal)
	prometheus.MustRegister(BreakerRejectionsTotal)
	prometheus.MustRegister(HealthCheckDuration)
	prometheus.MustRegister(WebhookRequestsTotal)
	prometheus.MustRegister(TicketsTotal)
	prometheus.MustRegister(ClassificationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
