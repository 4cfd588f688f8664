package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/certguard/pkg/constants"
)

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	Decisions        *prometheus.CounterVec
	CheckLatency     prometheus.Histogram
	StoreErrors      *prometheus.CounterVec
	Escalations      *prometheus.CounterVec
	AuditDropped     *prometheus.CounterVec
	AuditWriteErrors *prometheus.CounterVec
	CleanupRuns      *prometheus.CounterVec
	CleanupDeleted   *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certguard_decisions_total",
				Help: "Policy decisions by audit action, decision code and dimension.",
			},
			[]string{"action", "code", "dimension"},
		),
		CheckLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "certguard_check_duration_seconds",
				Help:    "Time spent evaluating a policy check.",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certguard_store_errors_total",
				Help: "Counter store failures by operation.",
			},
			[]string{"operation"},
		),
		Escalations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certguard_escalations_total",
				Help: "Blocks created by escalation rules.",
			},
			[]string{"dimension"},
		),
		AuditDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certguard_audit_dropped_total",
				Help: "Audit entries that were never persisted.",
			},
			[]string{"reason"},
		),
		AuditWriteErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certguard_audit_write_errors_total",
				Help: "Failed audit sink writes, including ones later retried successfully.",
			},
			[]string{"sink"},
		),
		CleanupRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certguard_cleanup_runs_total",
				Help: "Maintenance job runs by job and result.",
			},
			[]string{"job", "result"},
		),
		CleanupDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certguard_cleanup_deleted_total",
				Help: "Rows removed by maintenance jobs.",
			},
			[]string{"job"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "certguard_http_requests_total",
				Help: "HTTP requests by route, method and status.",
			},
			[]string{"path", "method", "status"},
		),
		HTTPLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "certguard_http_request_duration_seconds",
				Help:    "HTTP request latency by route and method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}
}

func (m *Metrics) RecordDecision(action constants.Action, code constants.DecisionCode, dim constants.Dimension) {
	m.Decisions.WithLabelValues(string(action), string(code), string(dim)).Inc()
}

func (m *Metrics) RecordStoreError(operation string) {
	m.StoreErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordEscalation(dim constants.Dimension) {
	m.Escalations.WithLabelValues(string(dim)).Inc()
}

func (m *Metrics) ObserveCheckLatency(d time.Duration) {
	m.CheckLatency.Observe(d.Seconds())
}

func (m *Metrics) RecordAuditDrop(reason string) {
	m.AuditDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordAuditWriteError(sink string) {
	m.AuditWriteErrors.WithLabelValues(sink).Inc()
}

// RecordCleanup counts one maintenance job run.
func (m *Metrics) RecordCleanup(job string, deleted int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CleanupRuns.WithLabelValues(job, result).Inc()
	if deleted > 0 {
		m.CleanupDeleted.WithLabelValues(job).Add(float64(deleted))
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(path, method string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(path, method).Observe(d.Seconds())
}
