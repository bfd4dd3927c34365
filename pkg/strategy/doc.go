// Package strategy implements the four rollout shapes a deployment can
// take across a cluster: direct, rolling, blue-green, and canary.
//
// # Architecture
//
// A strategy instance is single-use. The pipeline constructs one per
// execution, calls Apply, and on failure calls Rollback on the same
// instance; the instance's report remembers exactly which nodes were
// touched.
//
//	            ┌────────────────────────────┐
//	  Apply ───▶│  strategy (direct/rolling/  │──▶ registry  claim / complete /
//	            │  blue-green/canary)         │              fail / revert
//	 Rollback ─▶│                             │──▶ driver    ApplyModule /
//	            │  report: updated,           │              RollbackModule
//	            │  rolled back, affected      │──▶ probe     settle windows,
//	            └────────────────────────────┘              hold predicates
//
// # Node Handshake
//
// Every node moves through the same claim cycle regardless of
// strategy: MarkUpdating claims the node (the registry's single-writer
// guarantee), the driver swaps the module, and CompleteUpdate or
// FailUpdate releases the claim with the outcome. An apply abandoned
// by cancellation releases the claim without recording either, because
// drivers guarantee a cancelled apply leaves the prior version loaded.
//
// # Rollout Shapes
//
//   - direct: one parallel wave over every available node, then a
//     settle wait. Development's default.
//   - rolling: fixed-size batches, each held through a settle window
//     before the next starts, with a ceiling on concurrent
//     unavailability. A failure stops the walk mid-cluster.
//   - blue-green: provision a full second pool, deploy to it off to
//     the side, flip traffic atomically once the pool is ready, hold
//     the old pool warm, retire it after the hold window.
//   - canary: cumulative percentage steps over a stable node order,
//     each step held against tightened budgets and a no-regression
//     comparison against the untouched remainder.
//
// # Rollback Semantics
//
// Rollback reverts the recorded updated set newest first, best-effort:
// a node that cannot be reverted is marked unhealthy and listed as
// affected rather than stopping the sweep. Blue-green overrides this
// with pool retirement, flipping traffic back first if it had flipped.
// Callers that cancel an execution still owe the strategy a live
// context for rollback; pass a context detached from the cancelled
// one.
package strategy
