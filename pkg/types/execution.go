package types

import "time"

// PipelineStatus represents the lifecycle state of a deployment execution
type PipelineStatus string

const (
	StatusPending          PipelineStatus = "pending"
	StatusRunning          PipelineStatus = "running"
	StatusAwaitingApproval PipelineStatus = "awaiting-approval"
	StatusSucceeded        PipelineStatus = "succeeded"
	StatusFailed           PipelineStatus = "failed"
	StatusRolledBack       PipelineStatus = "rolled-back"
	StatusCancelled        PipelineStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions
func (s PipelineStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRolledBack, StatusCancelled:
		return true
	}
	return false
}

// statusTransitions is the one-way lifecycle graph. Awaiting-approval is
// the only state an execution can leave back toward running. Pending can
// fail directly: an execution that times out queueing for its
// serialization key never starts running.
var statusTransitions = map[PipelineStatus][]PipelineStatus{
	StatusPending: {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning: {
		StatusAwaitingApproval, StatusSucceeded, StatusFailed,
		StatusRolledBack, StatusCancelled,
	},
	StatusAwaitingApproval: {StatusRunning, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from s to next is legal
func (s PipelineStatus) CanTransition(next PipelineStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StageName identifies one pipeline stage
type StageName string

const (
	StageValidate       StageName = "validate"
	StageSignatureCheck StageName = "signature-check"
	StagePrepare        StageName = "prepare"
	StageSmokeTest      StageName = "smoke-test"
	StageApprovalGate   StageName = "approval-gate"
	StageDeploy         StageName = "deploy"
	StagePostValidate   StageName = "post-validate"
)

// StageOrder is the fixed execution order of pipeline stages
var StageOrder = []StageName{
	StageValidate,
	StageSignatureCheck,
	StagePrepare,
	StageSmokeTest,
	StageApprovalGate,
	StageDeploy,
	StagePostValidate,
}

// StageStatus represents the outcome of a single stage
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageResult records the execution of one pipeline stage
type StageResult struct {
	Name       StageName
	Status     StageStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Message    string // failure detail or human-readable note
}

// FailureKind is a stable, machine-readable classification of why an
// execution failed. Values are part of the external contract and never
// change meaning.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureValidation        FailureKind = "validation"
	FailureSignatureRejected FailureKind = "signature-rejected"
	FailurePreparation       FailureKind = "preparation"
	FailureApprovalDenied    FailureKind = "approval-denied"
	FailureApprovalTimeout   FailureKind = "approval-timeout"
	FailureHealthDegradation FailureKind = "health-degradation"
	FailureNodeDriver        FailureKind = "node-driver"
	FailureCancelled         FailureKind = "cancelled"
	FailureConflict          FailureKind = "conflict"
	FailureInternal          FailureKind = "internal"
)

// DeploymentResult summarizes a finished execution
type DeploymentResult struct {
	Status          PipelineStatus
	FailureKind     FailureKind
	Message         string
	NodesUpdated    int
	NodesRolledBack int
	AffectedNodes   []string // nodes left in a non-healthy state
	DurationMs      int64
}

// Execution is the authoritative record of one deployment pipeline run.
// The tracker owns mutation; everything else reads copies.
type Execution struct {
	ID             string // ULID, time-ordered
	IdempotencyKey string
	Request        *DeploymentRequest
	Status         PipelineStatus
	Stages         []StageResult
	StartedAt      time.Time
	LastUpdatedAt  time.Time
	Result         *DeploymentResult
}

// NewStages returns the stage slice for a fresh execution, all pending
func NewStages() []StageResult {
	stages := make([]StageResult, len(StageOrder))
	for i, name := range StageOrder {
		stages[i] = StageResult{Name: name, Status: StagePending}
	}
	return stages
}

// Stage returns a pointer to the named stage result, or nil
func (e *Execution) Stage(name StageName) *StageResult {
	for i := range e.Stages {
		if e.Stages[i].Name == name {
			return &e.Stages[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to callers and subscribers
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	out.Stages = make([]StageResult, len(e.Stages))
	copy(out.Stages, e.Stages)
	if e.Request != nil {
		req := *e.Request
		if e.Request.Module != nil {
			mod := *e.Request.Module
			if e.Request.Module.Metadata != nil {
				mod.Metadata = make(map[string]string, len(e.Request.Module.Metadata))
				for k, v := range e.Request.Module.Metadata {
					mod.Metadata[k] = v
				}
			}
			req.Module = &mod
		}
		out.Request = &req
	}
	if e.Result != nil {
		res := *e.Result
		res.AffectedNodes = append([]string(nil), e.Result.AffectedNodes...)
		out.Result = &res
	}
	return &out
}
