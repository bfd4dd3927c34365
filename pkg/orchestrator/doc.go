// Package orchestrator is the public entry point of the deployment
// core: submission, inspection, approval routing, cancellation, and
// restart recovery.
//
// # Submission
//
// Submit validates the request, mints a ULID execution ID, seeds the
// tracker record, and starts the pipeline on its own goroutine. The
// call returns as soon as the record exists; progress is observed
// through Get and List, never by waiting on Submit.
//
// An idempotency key maps to the live execution it first created:
// resubmitting the same key while that execution is in flight returns
// the same ID and starts nothing. The mapping lapses on completion.
//
// # Serialization
//
// At most one pipeline runs per (environment, module name). The key is
// taken before the pipeline leaves pending; a submission that cannot
// get it within queueWait fails as a conflict carrying the holder's
// execution ID. Waiters queue on the holder's release, so a fast
// completion lets the next submission through without polling.
//
// # Recovery
//
// With a durable store, Recover reloads tracker records, re-arms
// pending approval gates, and resumes executions that had not yet
// mutated nodes. Executions interrupted mid-deploy are failed: their
// half-applied work needs an operator. Without a store nothing is
// recovered and the approval gate runs soft.
package orchestrator
