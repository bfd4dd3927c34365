// Package tracker owns the record of every deployment execution, from
// submission to eviction.
//
// # Record Lifecycle
//
//	Start ---> Update ... Update ---> Complete ---> (retention) ---> swept
//	  |                                  |
//	  seeds stages, stamps            attaches the DeploymentResult and
//	  startedAt, status pending       moves to a terminal status
//
// Status changes ride the one-way lifecycle graph defined on
// types.PipelineStatus. A terminal record is immutable: Update and
// Complete both refuse it, and only the retention sweeper may remove it.
//
// # Serialized Mutation
//
// Update takes a closure over a private copy of the record, the same
// shape as a bolt transaction: mutate the copy, return nil to commit or
// an error to discard. Validation happens at commit time, so a closure
// can never publish an illegal status edge, a rewound timestamp, or a
// changed identity. One lock serializes all commits, which gives each
// execution ID the per-record ordering the rest of the system assumes.
//
// # Retention
//
// Terminal records stay readable for the configured retention window,
// counted from the moment the record turned terminal. The Sweeper scans
// on an interval and evicts what has expired. Non-terminal records are
// never swept; a stuck execution is the orchestrator's problem to
// resolve, not the sweeper's to hide.
//
// # Durability
//
// With a store configured, every commit is written through and
// evictions are deleted. The in-memory map stays authoritative: store
// errors are logged and serving continues. After a restart,
// LoadFromStore rebuilds the map and hands back the executions that
// were still in flight so the orchestrator can fail or resume them.
package tracker
