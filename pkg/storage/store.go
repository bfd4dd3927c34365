package storage

import (
	"time"

	"github.com/modkernel/switchyard/pkg/types"
)

// PendingApproval is the durable form of an unresolved approval gate.
// Rebuilt into the gate's pending set on restart.
type PendingApproval struct {
	ExecutionID string
	Environment types.Environment
	RequesterID string
	RequestedAt time.Time
	Deadline    time.Time
}

// LockHolder records which execution holds a serialization key, so a
// restarted orchestrator can observe (and release) stale holders.
type LockHolder struct {
	Key         string // "environment/moduleName"
	ExecutionID string
	AcquiredAt  time.Time
}

// Store defines the interface for durable deployment state.
// Exactly three record kinds are persisted: tracker execution records,
// pending approval handles, and serialization-key holders.
type Store interface {
	// Executions
	PutExecution(execution *types.Execution) error
	GetExecution(id string) (*types.Execution, error)
	ListExecutions() ([]*types.Execution, error)
	DeleteExecution(id string) error

	// Pending approvals
	PutApproval(approval *PendingApproval) error
	ListApprovals() ([]*PendingApproval, error)
	DeleteApproval(executionID string) error

	// Serialization-key holders
	PutLockHolder(holder *LockHolder) error
	ListLockHolders() ([]*LockHolder, error)
	DeleteLockHolder(key string) error

	// Utility
	Close() error
}
