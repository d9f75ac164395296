package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the insight gateway.
type Metrics struct {
	RequestTotal        *prometheus.CounterVec
	RequestDurationMs   *prometheus.HistogramVec
	GuardRejectionTotal *prometheus.CounterVec
	OracleCallTotal     *prometheus.CounterVec
	SummaryCacheTotal   *prometheus.CounterVec
	RateLimitTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_request_total",
			Help: "Total number of chat requests processed, by routed intent and outcome.",
		}, []string{"intent", "status"}),

		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insight_request_duration_ms",
			Help:    "Total request duration in milliseconds (including oracle latency).",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"intent"}),

		GuardRejectionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_guard_rejection_total",
			Help: "Generated statements rejected by the validation guard, by failing check.",
		}, []string{"check"}),

		OracleCallTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_oracle_call_total",
			Help: "Oracle calls issued, by purpose and outcome.",
		}, []string{"purpose", "status"}),

		SummaryCacheTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_summary_cache_total",
			Help: "Monthly summary lookups, by result (hit, stale, miss).",
		}, []string{"result"}),

		RateLimitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "insight_rate_limit_denied_total",
			Help: "Requests denied by the rate limiter.",
		}, []string{"tenant"}),
	}
}

func (m *Metrics) RecordRequest(intent, status string, durationMs float64) {
	m.RequestTotal.WithLabelValues(intent, status).Inc()
	m.RequestDurationMs.WithLabelValues(intent).Observe(durationMs)
}

func (m *Metrics) RecordGuardRejection(check string) {
	m.GuardRejectionTotal.WithLabelValues(check).Inc()
}

func (m *Metrics) RecordOracleCall(purpose, status string) {
	m.OracleCallTotal.WithLabelValues(purpose, status).Inc()
}

func (m *Metrics) RecordSummaryLookup(result string) {
	m.SummaryCacheTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRateLimitDenied(tenant string) {
	m.RateLimitTotal.WithLabelValues(tenant).Inc()
}
