package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics holds the registry's Prometheus collectors.
type Metrics struct {
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration *prometheus.HistogramVec
	QueryDuration       prometheus.Histogram
	GatewayUnavailable  prometheus.Counter
	VerificationsTotal  *prometheus.CounterVec
	ProfileDegraded     prometheus.Counter
	AuditDropped        prometheus.Counter
	RateLimited         prometheus.Counter
}

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer in
// the server and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransactionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idledger_transactions_total",
			Help: "Ledger transactions submitted, by type and outcome",
		}, []string{"type", "outcome"}),
		TransactionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idledger_transaction_duration_seconds",
			Help:    "Duration of ledger submits including commit",
			Buckets: durationBuckets,
		}, []string{"type"}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idledger_query_duration_seconds",
			Help:    "Duration of ledger reads",
			Buckets: durationBuckets,
		}),
		GatewayUnavailable: f.NewCounter(prometheus.CounterOpts{
			Name: "idledger_gateway_unavailable_total",
			Help: "Ledger calls that failed because the gateway could not answer",
		}),
		VerificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idledger_verifications_total",
			Help: "Credential verifications by result",
		}, []string{"result"}),
		ProfileDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "idledger_profile_degraded_total",
			Help: "Profile store calls served with empty display fields",
		}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "idledger_audit_dropped_total",
			Help: "Audit events dropped because the publisher buffer was full",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "idledger_rate_limited_total",
			Help: "API requests rejected by the per-caller rate limit",
		}),
	}
}

// ObserveTransaction records one submit. outcome is "committed" or an error code.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveTransaction(txType, outcome string, start time.Time) {
	m.TransactionsTotal.WithLabelValues(txType, outcome).Inc()
	m.TransactionDuration.WithLabelValues(txType).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveQuery(start time.Time) {
	m.QueryDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncGatewayUnavailable() {
	m.GatewayUnavailable.Inc()
}

func (m *Metrics) IncVerification(valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.VerificationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncProfileDegraded() {
	m.ProfileDegraded.Inc()
}

func (m *Metrics) IncAuditDropped() {
	m.AuditDropped.Inc()
}

func (m *Metrics) IncRateLimited() {
	m.RateLimited.Inc()
}
