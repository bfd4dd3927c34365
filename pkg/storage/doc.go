/*
Package storage provides BoltDB-backed persistence for deployment state.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for the three record kinds
the core persists: execution records, pending approval handles, and
serialization-key holders. All data is serialized as JSON and stored in
separate buckets.

# Architecture

Switchyard uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: configured store path              │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ executions  (execution ID) │             │          │
	│  │  │ approvals   (execution ID) │             │          │
	│  │  │ locks       (env/module)   │             │          │
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store using BoltDB
  - Single database file per process
  - Automatic bucket creation on open
  - Thread-safe via BoltDB's transaction model

Buckets:
  - executions: Execution records written through by the tracker
  - approvals: Unresolved approval gates (rebuilt on restart)
  - locks: Current serialization-key holders

# What Is Deliberately Not Stored

Cluster topology, node health, and verification verdicts are runtime
state owned by the registry, probe, and verifier; they are rebuilt from
heartbeats and re-verification after a restart. Persisting them would
only create staleness to reconcile.

The store itself is optional. A host that passes no Store runs fully
in-memory: execution history does not survive restart and the approval
gate degrades to a soft gate (pending approvals are rejected on
restart). See pkg/approval for that contract.

# Usage

	store, err := storage.NewBoltStore("/var/lib/switchyard/state.db")
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.PutExecution(execution)
	executions, err := store.ListExecutions()

# Write Patterns

Upsert semantics: Put replaces any existing record under the same key.
The tracker owns monotonicity checks; the store is a dumb byte box.
Deletes of missing keys are no-ops, which keeps eviction sweeps and
lock releases idempotent.

# See Also

  - pkg/tracker for the write-through and restart-load path
  - pkg/approval for pending-set reconstruction
  - pkg/orchestrator for lock-holder bookkeeping
*/
package storage
