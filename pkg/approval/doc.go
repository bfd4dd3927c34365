// Package approval implements the human gate protected environments
// pass through before a rollout touches their nodes.
//
// # Lifecycle
//
//	RequestApproval ──▶ pending ──▶ Resolve(approve|reject)  ──▶ Handle fires
//	                        │  └──▶ deadline elapses (24h)    ──▶ auto-reject
//	                        └─────▶ Withdraw (execution cancelled, no decision)
//
// A suspended pipeline blocks on Handle.Done, which delivers exactly
// one Resolution. Separation of duties is enforced at resolve time:
// the approver must not be the requester.
//
// # Audit Before Release
//
// Every decision is written to the audit sink synchronously before the
// waiting pipeline resumes; if the sink errors, the gate stays pending
// and the decision must be retried. Timeouts are the one exception: an
// expired gate closes even when the audit write fails, because nobody
// is coming back to retry it.
//
// # Restart
//
// With a durable store configured, pending gates survive restarts:
// Rebuild re-arms each persisted gate with a fresh handle and timer,
// resolving any whose deadline passed while the process was down.
// Without a store the gate is soft: nothing is rebuilt, and the
// orchestrator treats orphaned awaiting executions as rejected.
package approval
