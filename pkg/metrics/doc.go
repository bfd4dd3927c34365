/*
Package metrics provides Prometheus metrics collection and exposition for
Switchyard.

The metrics package defines and registers all Switchyard metrics using the
Prometheus client library, providing observability into deployment outcomes,
stage latency, node fleet state, approval flow, and serialization pressure.
Metrics are exposed via HTTP endpoint for scraping by Prometheus servers.

# Architecture

Switchyard's metrics system follows Prometheus conventions with
instrumentation across all core components:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Deployments: total, in progress, duration  │          │
	│  │  Pipeline: stage duration, stage failures   │          │
	│  │  Nodes: fleet by state, swaps, reversions   │          │
	│  │  Heartbeat: monitor state transitions       │          │
	│  │  Approval: decisions, pending gauge         │          │
	│  │  Orchestrator: queue wait, conflicts        │          │
	│  │  Tracker: records by status                 │          │
	│  │  Probe: samples by result                   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Variables:
  - Package-level vars registered at init
  - Counters for monotonic totals (deployments, swaps, conflicts)
  - Gauges for instantaneous values (in-progress, pending approvals)
  - Histograms for distributions (stage duration, queue wait)

Timer:
  - NewTimer() captures a start instant
  - ObserveDuration / ObserveDurationVec record elapsed seconds into
    histograms at the end of an operation

Collector:
  - Periodic gauge refresh from the registry and tracker
  - 15 second cadence, immediate first collection
  - Started by the host binary, stopped on shutdown

Health Endpoints:
  - /health: overall component health (JSON)
  - /ready: critical components registered and healthy
  - /live: process liveness

# Metrics Catalog

Deployment Metrics:

switchyard_deployments_total{environment, strategy, outcome}:
  - Type: Counter
  - Description: Finished deployments by outcome
  - Example: switchyard_deployments_total{environment="production",strategy="canary",outcome="rolled-back"} 2

switchyard_deployments_in_progress:
  - Type: Gauge
  - Description: Executions currently not terminal

switchyard_deployment_duration_seconds{environment, strategy}:
  - Type: Histogram
  - Description: End-to-end execution duration

Pipeline Metrics:

switchyard_stage_duration_seconds{stage}:
  - Type: Histogram
  - Description: Per-stage wall time

switchyard_stage_failures_total{stage, kind}:
  - Type: Counter
  - Description: Stage failures by failure kind

Node Metrics:

switchyard_nodes_total{environment, state}:
  - Type: Gauge
  - Description: Registered nodes by environment and state

switchyard_nodes_updated_total / switchyard_nodes_rolled_back_total:
  - Type: Counter
  - Description: Successful module swaps and reversions

switchyard_heartbeat_transitions_total{to_state}:
  - Type: Counter
  - Description: State transitions made by the heartbeat monitor

switchyard_color_flips_total{environment}:
  - Type: Counter
  - Description: Blue-green active color switches

Approval, Orchestrator, Tracker, Probe:

switchyard_approval_decisions_total{decision} (Counter),
switchyard_approvals_pending (Gauge),
switchyard_queue_wait_seconds (Histogram),
switchyard_submit_conflicts_total (Counter),
switchyard_tracked_executions{status} (Gauge),
switchyard_probe_samples_total{result} (Counter).

# Usage

Recording a stage duration:

	timer := metrics.NewTimer()
	runStage(...)
	timer.ObserveDurationVec(metrics.StageDuration, string(stage))

Counting outcomes:

	metrics.DeploymentsTotal.WithLabelValues(env, strategy, outcome).Inc()
	metrics.NodesUpdatedTotal.Inc()

Serving metrics from a host:

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())

# Example Queries

Deployment failure rate by environment:

	sum(rate(switchyard_deployments_total{outcome!="succeeded"}[1h])) by (environment)
	/
	sum(rate(switchyard_deployments_total[1h])) by (environment)

Slowest pipeline stages (p95):

	histogram_quantile(0.95, rate(switchyard_stage_duration_seconds_bucket[1h]))

Unhealthy node count:

	sum(switchyard_nodes_total{state="unhealthy"})

# Integration Points

This package integrates with:

  - pkg/orchestrator: deployment totals, queue wait, conflicts
  - pkg/pipeline: stage duration and failures
  - pkg/strategy: node swap and reversion counters
  - pkg/registry: heartbeat transition counters, color flips
  - pkg/approval: decision counters, pending gauge
  - pkg/probe: sample result counters
  - cmd/switchyard: HTTP exposition and collector lifecycle

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Metric naming conventions: https://prometheus.io/docs/practices/naming/
*/
package metrics
