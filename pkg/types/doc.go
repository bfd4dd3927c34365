/*
Package types defines the core data structures used throughout Switchyard.

This package contains the fundamental types that represent Switchyard's
domain model: deployable modules, deployment requests, pipeline
executions, clusters, nodes, and health observations. These types are
used by every other package for state management, orchestration logic,
and event payloads.

# Architecture

The types package is the foundation of Switchyard's data model. It
defines:

  - Module identity (name, semantic version, artifact digest, signature)
  - Deployment requests and strategy selection
  - Pipeline execution records with per-stage results
  - Cluster topology (environments, nodes, blue/green colors)
  - Node condition and health snapshots
  - Failure classification and shared sentinel errors

All types are designed to be:
  - Serializable (JSON, for the durable store)
  - Immutable where possible (executions are cloned before handoff)
  - Self-documenting (string enums with constants)
  - Validated (structural checks close to the type)

# Core Types

Module Identity:
  - Module: Immutable (name, version) plus pinned artifact and signature
  - ArtifactRef: URI, sha256 digest, and size of the module binary
  - DeploymentRequest: Module, target environment, optional strategy
    override, requester

Pipeline Execution:
  - Execution: One pipeline run, owned by the tracker
  - PipelineStatus: Pending, running, awaiting-approval, and the four
    terminal states
  - StageResult: Timestamps, status, and message for one stage
  - DeploymentResult: Terminal summary with node counts and failure kind

Cluster Topology:
  - Cluster: Nodes serving one environment, with the active color
  - Node: State, color, current/prior module versions, last heartbeat
  - HealthSnapshot: CPU, memory, p95 latency, error rate at one instant

# Status Lifecycle

Execution status moves one way, with a single loop through approval:

	pending ──> running ──> succeeded | failed | rolled-back | cancelled
	               │ ▲
	               ▼ │
	        awaiting-approval ──> failed | cancelled

Terminal states admit no further transitions. CanTransition enforces
the graph; the tracker rejects everything else.

# Failure Kinds

Every failed execution carries exactly one FailureKind, a stable string
consumers can branch on: validation, signature-rejected, preparation,
approval-denied, approval-timeout, health-degradation, node-driver,
cancelled, conflict, internal. FailureError attaches a kind to an error
chain; KindOf recovers it.

# Thread Safety

Types here are read-safe and write-unsafe: mutation must be
synchronized by the owning component. The tracker (pkg/tracker) owns
Execution records and hands out deep copies via Clone. The registry
(pkg/registry) owns Node and Cluster records under its own lock.

# See Also

  - pkg/tracker for execution record ownership
  - pkg/registry for cluster and node state
  - pkg/pipeline for stage sequencing
  - pkg/storage for the persisted representation
*/
package types
