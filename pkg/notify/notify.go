package notify

import (
	"time"

	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/types"
)

// Notifier receives deployment progress callbacks. Implementations
// must return quickly; the pipeline invokes them through Multi, which
// swallows panics and never blocks stage progression on a slow sink.
type Notifier interface {
	OnStateChange(execution *types.Execution)
	OnStageComplete(executionID string, stage types.StageResult)
	OnProgress(executionID string, fraction float64, message string)
}

// AuditSink is an append-only record of security-relevant actions.
// Approval decisions are recorded synchronously before the pipeline
// resumes; everything else stays off the hot path.
type AuditSink interface {
	Record(event string, actor string, timestamp time.Time, payload map[string]string) error
}

// Audit event names
const (
	AuditDeploymentSubmitted = "deployment.submitted"
	AuditDeploymentCancelled = "deployment.cancelled"
	AuditApprovalRequested   = "approval.requested"
	AuditApprovalGranted     = "approval.granted"
	AuditApprovalRejected    = "approval.rejected"
	AuditApprovalTimedOut    = "approval.timed-out"
)

// Nop is a Notifier that discards everything
type Nop struct{}

func (Nop) OnStateChange(*types.Execution)            {}
func (Nop) OnStageComplete(string, types.StageResult) {}
func (Nop) OnProgress(string, float64, string)        {}

// Multi fans out to several notifiers, isolating each: a panicking or
// misbehaving sink is logged and skipped, never felt by the caller.
type Multi struct {
	sinks []Notifier
}

// NewMulti builds a fan-out notifier
func NewMulti(sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) OnStateChange(execution *types.Execution) {
	for _, s := range m.sinks {
		func() {
			defer recoverNotify("OnStateChange")
			s.OnStateChange(execution)
		}()
	}
}

func (m *Multi) OnStageComplete(executionID string, stage types.StageResult) {
	for _, s := range m.sinks {
		func() {
			defer recoverNotify("OnStageComplete")
			s.OnStageComplete(executionID, stage)
		}()
	}
}

func (m *Multi) OnProgress(executionID string, fraction float64, message string) {
	for _, s := range m.sinks {
		func() {
			defer recoverNotify("OnProgress")
			s.OnProgress(executionID, fraction, message)
		}()
	}
}

func recoverNotify(callback string) {
	if r := recover(); r != nil {
		logger := log.WithComponent("notify")
		logger.Warn().
			Str("callback", callback).
			Interface("panic", r).
			Msg("Notifier panicked, skipping")
	}
}
