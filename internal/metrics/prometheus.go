package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ortelius/pdvd-remediation/model"
)

// Live collectors exposed on /metrics. The hourly buckets are the durable record;
// these only cover the current process.
var (
	plansSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "remediation",
		Name:      "plans_submitted_total",
		Help:      "Remediation plans accepted for processing",
	})

	autonomyLevels = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remediation",
		Subsystem: "risk",
		Name:      "autonomy_level_total",
		Help:      "Assessed plans by proposed autonomy level",
	}, []string{"level"})

	approvals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remediation",
		Subsystem: "approval",
		Name:      "decisions_total",
		Help:      "Approval gate outcomes",
	}, []string{"outcome"})

	executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remediation",
		Subsystem: "execution",
		Name:      "completed_total",
		Help:      "Executions reaching a terminal status",
	}, []string{"status", "strategy"})

	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "remediation",
		Subsystem: "execution",
		Name:      "duration_seconds",
		Help:      "End-to-end execution duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"strategy"})

	rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remediation",
		Subsystem: "rollback",
		Name:      "performed_total",
		Help:      "Rollbacks performed by outcome",
	}, []string{"success"})

	activeExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "remediation",
		Subsystem: "execution",
		Name:      "active",
		Help:      "Executions currently held by a worker",
	})
)

// RecordPlanSubmitted counts an accepted plan.
func RecordPlanSubmitted() {
	plansSubmitted.Inc()
}

// RecordAutonomyLevel counts an assessment by level.
func RecordAutonomyLevel(level model.AutonomyLevel) {
	autonomyLevels.WithLabelValues(strconv.Itoa(int(level))).Inc()
}

// RecordApproval counts a gate or human approval outcome.
func RecordApproval(outcome string) {
	approvals.WithLabelValues(outcome).Inc()
}

// RecordExecution counts a terminal execution and its rollback, if any.
func RecordExecution(exec *model.Execution) {
	executions.WithLabelValues(string(exec.Status), string(exec.Strategy)).Inc()
	executionDuration.WithLabelValues(string(exec.Strategy)).Observe(float64(exec.TotalMs) / 1000)
	if exec.RollbackPerformed {
		ok := exec.RollbackSuccess != nil && *exec.RollbackSuccess
		rollbacks.WithLabelValues(strconv.FormatBool(ok)).Inc()
	}
}

// ExecutionStarted and ExecutionFinished track worker occupancy.
func ExecutionStarted() { activeExecutions.Inc() }

// ExecutionFinished decrements the active gauge.
func ExecutionFinished() { activeExecutions.Dec() }
