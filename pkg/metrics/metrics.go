package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_deployments_total",
			Help: "Total number of finished deployments by environment, strategy, and outcome",
		},
		[]string{"environment", "strategy", "outcome"},
	)

	DeploymentsInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchyard_deployments_in_progress",
			Help: "Number of deployment executions currently not terminal",
		},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchyard_deployment_duration_seconds",
			Help:    "End-to-end deployment duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"environment", "strategy"},
	)

	// Pipeline metrics
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchyard_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_stage_failures_total",
			Help: "Total number of stage failures by stage and failure kind",
		},
		[]string{"stage", "kind"},
	)

	// Node metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "switchyard_nodes_total",
			Help: "Total number of registered nodes by environment and state",
		},
		[]string{"environment", "state"},
	)

	NodesUpdatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "switchyard_nodes_updated_total",
			Help: "Total number of successful node module swaps",
		},
	)

	NodesRolledBackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "switchyard_nodes_rolled_back_total",
			Help: "Total number of node module reversions",
		},
	)

	HeartbeatTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_heartbeat_transitions_total",
			Help: "Total number of node state transitions made by the heartbeat monitor",
		},
		[]string{"to_state"},
	)

	ColorFlipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_color_flips_total",
			Help: "Total number of blue-green active color switches",
		},
		[]string{"environment"},
	)

	// Approval metrics
	ApprovalDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_approval_decisions_total",
			Help: "Total number of approval gate resolutions by decision",
		},
		[]string{"decision"},
	)

	ApprovalsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchyard_approvals_pending",
			Help: "Number of deployments currently awaiting approval",
		},
	)

	// Orchestrator metrics
	QueueWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "switchyard_queue_wait_seconds",
			Help:    "Time spent waiting for the per-environment module serialization key",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubmitConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "switchyard_submit_conflicts_total",
			Help: "Total number of submissions rejected because the serialization key stayed busy",
		},
	)

	// Tracker metrics
	TrackedExecutions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "switchyard_tracked_executions",
			Help: "Number of execution records held by the tracker, by status",
		},
		[]string{"status"},
	)

	// Probe metrics
	ProbeSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_probe_samples_total",
			Help: "Total number of node health samples by result",
		},
		[]string{"result"},
	)

	// Verifier metrics
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_verifications_total",
			Help: "Total number of module signature verifications by verdict",
		},
		[]string{"verdict"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentsInProgress)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StageFailuresTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(NodesUpdatedTotal)
	prometheus.MustRegister(NodesRolledBackTotal)
	prometheus.MustRegister(HeartbeatTransitionsTotal)
	prometheus.MustRegister(ColorFlipsTotal)
	prometheus.MustRegister(ApprovalDecisionsTotal)
	prometheus.MustRegister(ApprovalsPending)
	prometheus.MustRegister(QueueWaitDuration)
	prometheus.MustRegister(SubmitConflictsTotal)
	prometheus.MustRegister(TrackedExecutions)
	prometheus.MustRegister(ProbeSamplesTotal)
	prometheus.MustRegister(VerificationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
