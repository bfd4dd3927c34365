// Package pipeline drives one deployment execution through the fixed
// stage sequence, from request validation to post-rollout convergence.
//
// # Stage Sequence
//
// Every execution traverses the same stages in order; a stage that
// fails short-circuits the rest:
//
//	validate -> signature-check -> prepare -> smoke-test
//	      -> approval-gate -> deploy -> post-validate
//
// The first four stages mutate nothing, so their failures terminate
// the execution as failed with zero nodes touched. The approval gate
// is skipped outright in environments that do not require approval.
// From deploy onward the cluster is being mutated, and failures revert
// through the strategy's rollback before the execution completes.
//
// # Timeouts and Cancellation
//
// Each stage runs under the configured stage timeout except the
// approval gate, which answers only to its own approval window. A
// stage that trips the timeout fails as internal: the semantic waits
// inside stages carry their own tighter deadlines, so the stage
// timeout firing means something wedged.
//
// Cancelling the run context takes effect at the next stage boundary
// and inside any blocking wait. A cancelled execution terminates as
// cancelled even when mutations were reverted on the way out;
// cancellation outranks rolled-back.
//
// # Rollback Recording
//
// Rollback is not a stage. When deploy or post-validate fails, the
// strategy instance that applied the mutations reverts them under a
// context detached from the failed stage's, and the outcome is
// appended to the failing stage's message. The terminal status is
// rolled-back only if at least one node was actually reverted.
//
// # Suspension
//
// While the approval gate waits, the execution is visible as
// awaiting-approval and the pipeline goroutine is parked on the gate's
// resolution channel. Approval resumes the run; rejection and window
// expiry terminate it with the decision recorded on the stage.
package pipeline
