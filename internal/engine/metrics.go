package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: решения классификатора по действию и severity
	DecisionsTotal *prometheus.CounterVec

	// HITL: исходы заявок (approved / rejected) и текущая очередь оператора
	ApprovalsTotal   *prometheus.CounterVec
	PendingApprovals prometheus.Gauge

	// Latency: сколько команда провисела в ожидании человека
	ApprovalWaitDuration prometheus.Histogram

	// Watchdog: срабатывания stall-детектора по причине
	StallsTotal *prometheus.CounterVec

	// Audit: заполненность буфера (backpressure) и отказы записи
	AuditBufferFill    prometheus.Gauge
	AuditWriteFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cse_decisions_total",
			Help: "Total number of command safety decisions.",
		}, []string{"action", "severity"}),

		ApprovalsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cse_approvals_total",
			Help: "Total number of resolved approval requests by outcome.",
		}, []string{"outcome"}), // outcome: approved, rejected

		PendingApprovals: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cse_pending_approvals",
			Help: "Current number of approval requests waiting for an operator.",
		}),

		ApprovalWaitDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "cse_approval_wait_seconds",
			Help:    "Histogram of time between approval request and resolution.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		StallsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cse_command_stalls_total",
			Help: "Total number of stall signals by reason.",
		}, []string{"reason"}), // reason: runtime_exceeded, idle_timeout

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cse_audit_buffer_utilization",
			Help: "Current number of events in the audit buffer.",
		}),

		AuditWriteFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cse_audit_write_failures_total",
			Help: "Total number of audit batches that failed after retries.",
		}),
	}
}
