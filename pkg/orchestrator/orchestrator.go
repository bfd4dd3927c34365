package orchestrator

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/approval"
	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/config"
	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/metrics"
	"github.com/modkernel/switchyard/pkg/notify"
	"github.com/modkernel/switchyard/pkg/pipeline"
	"github.com/modkernel/switchyard/pkg/storage"
	"github.com/modkernel/switchyard/pkg/tracker"
	"github.com/modkernel/switchyard/pkg/types"
)

// Deps are the orchestrator's collaborators. Pipeline, Tracker, and
// Gate are required; Store enables restart recovery and Audit records
// submissions and cancellations.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Tracker  *tracker.Tracker
	Gate     *approval.Gate
	Audit    notify.AuditSink
	Store    storage.Store // may be nil; disables holder persistence and recovery
	Clock    clock.Clock
}

// Orchestrator is the public entry point of the deployment core. It
// mints execution IDs, enforces idempotency and the one-Running-per-
// (environment, module) rule, and drives each accepted request through
// the pipeline on its own goroutine.
type Orchestrator struct {
	deps   Deps
	cfg    config.Config
	locks  *lockTable
	logger zerolog.Logger

	mu         sync.Mutex
	entropy    *ulid.MonotonicEntropy
	idempotent map[string]string // idempotency key -> live execution ID
	cancels    map[string]context.CancelFunc
	closed     bool

	wg sync.WaitGroup
}

// New builds an orchestrator over its collaborators
func New(deps Deps, cfg config.Config) (*Orchestrator, error) {
	if deps.Pipeline == nil || deps.Tracker == nil || deps.Gate == nil {
		return nil, fmt.Errorf("%w: orchestrator is missing a collaborator", types.ErrValidation)
	}
	if deps.Audit == nil {
		deps.Audit = notify.NewLogAuditSink()
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}

	logger := log.WithComponent("orchestrator")
	return &Orchestrator{
		deps:       deps,
		cfg:        cfg,
		locks:      newLockTable(deps.Store, deps.Clock, logger),
		logger:     logger,
		entropy:    ulid.Monotonic(rand.Reader, 0),
		idempotent: make(map[string]string),
		cancels:    make(map[string]context.CancelFunc),
	}, nil
}

// Submit accepts a deployment request, records it with the tracker,
// and starts the pipeline in the background. The returned execution ID
// is immediately visible through Get.
//
// When idempotencyKey is non-empty and maps to a live execution, that
// execution's ID is returned and nothing new starts. The mapping
// lapses when the execution reaches a terminal state: a resubmit after
// completion is a new deployment.
func (o *Orchestrator) Submit(request *types.DeploymentRequest, idempotencyKey string) (string, error) {
	if request == nil {
		return "", fmt.Errorf("%w: nil request", types.ErrValidation)
	}
	if err := request.Validate(); err != nil {
		return "", err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", types.ErrClosed
	}
	if idempotencyKey != "" {
		if id, ok := o.idempotent[idempotencyKey]; ok {
			o.mu.Unlock()
			o.logger.Info().
				Str("execution_id", id).
				Str("idempotency_key", idempotencyKey).
				Msg("Duplicate submission mapped to live execution")
			return id, nil
		}
	}
	// The idempotency mapping is published under the same critical
	// section that starts the execution in the tracker. A duplicate
	// that lands on this ID can then always Get it; a reservation for
	// an execution the tracker does not know yet must never be seen.
	id := ulid.MustNew(ulid.Timestamp(o.deps.Clock.Now()), o.entropy).String()
	exec := &types.Execution{
		ID:             id,
		IdempotencyKey: idempotencyKey,
		Request:        request,
	}
	if err := o.deps.Tracker.Start(exec); err != nil {
		o.mu.Unlock()
		return "", err
	}
	if idempotencyKey != "" {
		o.idempotent[idempotencyKey] = id
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancels[id] = cancel
	o.mu.Unlock()

	o.auditSubmission(exec)
	metrics.DeploymentsInProgress.Inc()

	o.wg.Add(1)
	go o.run(runCtx, id, request)

	o.logger.Info().
		Str("execution_id", id).
		Str("module", request.Module.Ref()).
		Str("environment", string(request.TargetEnvironment)).
		Str("requester", request.RequesterID).
		Msg("Deployment submitted")

	return id, nil
}

// run owns one execution from queue to terminal state
func (o *Orchestrator) run(ctx context.Context, id string, request *types.DeploymentRequest) {
	defer o.wg.Done()
	defer o.forget(id)
	defer metrics.DeploymentsInProgress.Dec()

	key := SerializationKey(request.TargetEnvironment, request.Module.Name)
	if !o.acquire(ctx, id, key) {
		return
	}
	defer o.locks.Release(key, id)

	if _, err := o.deps.Pipeline.Run(ctx, id); err != nil {
		// The pipeline records its own terminal states; an error here
		// means it could not even do that.
		o.logger.Error().Err(err).Str("execution_id", id).Msg("Pipeline run failed to record its outcome")
		o.completeQuietly(id, &types.DeploymentResult{
			Status:      types.StatusFailed,
			FailureKind: types.FailureInternal,
			Message:     fmt.Sprintf("internal error (trace %s)", id),
		})
	}
}

// acquire waits for the serialization key up to queueWait. On timeout
// the execution fails as a conflict; on cancellation it finishes
// cancelled. Reports whether the key was obtained.
func (o *Orchestrator) acquire(ctx context.Context, id, key string) bool {
	queueCtx, cancel := context.WithTimeout(ctx, o.cfg.Orchestrator.QueueWait.D())
	defer cancel()

	timer := metrics.NewTimer()
	err := o.locks.Acquire(queueCtx, key, id)
	timer.ObserveDuration(metrics.QueueWaitDuration)
	if err == nil {
		return true
	}

	if ctx.Err() != nil {
		o.completeQuietly(id, &types.DeploymentResult{
			Status:      types.StatusCancelled,
			FailureKind: types.FailureCancelled,
			Message:     "cancelled while queued",
		})
		return false
	}

	metrics.SubmitConflictsTotal.Inc()
	holder, _ := o.locks.Holder(key)
	o.logger.Warn().
		Str("execution_id", id).
		Str("key", key).
		Str("holder", holder).
		Msg("Serialization key busy past queue wait")

	o.completeQuietly(id, &types.DeploymentResult{
		Status:      types.StatusFailed,
		FailureKind: types.FailureConflict,
		Message: fmt.Sprintf("%v: %s held by execution %s",
			types.ErrAlreadyInProgress, key, holder),
	})
	return false
}

// Get returns a snapshot of the execution record
func (o *Orchestrator) Get(executionID string) (*types.Execution, error) {
	return o.deps.Tracker.Get(executionID)
}

// List returns execution snapshots matching the filter, newest first
func (o *Orchestrator) List(filter tracker.Filter, offset, limit int) []*types.Execution {
	return o.deps.Tracker.List(filter, offset, limit)
}

// Pending lists deployments currently held at the approval gate
func (o *Orchestrator) Pending() []approval.Pending {
	return o.deps.Gate.Pending()
}

// Approve releases an awaiting deployment. The approver must differ
// from the requester; the decision is audited before the pipeline
// resumes.
func (o *Orchestrator) Approve(executionID, approverID string) error {
	_, err := o.deps.Gate.Resolve(executionID, approval.DecisionApproved, approverID, "")
	return err
}

// Reject denies an awaiting deployment with a reason
func (o *Orchestrator) Reject(executionID, approverID, reason string) error {
	_, err := o.deps.Gate.Resolve(executionID, approval.DecisionRejected, approverID, reason)
	return err
}

// Cancel requests cooperative cancellation. A queued execution stops
// before touching anything; a running one stops at the next stage
// boundary, rolling back applied mutations best-effort. Cancelling a
// finished or unknown execution is an error.
func (o *Orchestrator) Cancel(executionID, actorID string) error {
	o.mu.Lock()
	cancel, ok := o.cancels[executionID]
	o.mu.Unlock()

	if !ok {
		exec, err := o.deps.Tracker.Get(executionID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: execution %s is %s", types.ErrTerminal, executionID, exec.Status)
	}

	cancel()

	if err := o.deps.Audit.Record(notify.AuditDeploymentCancelled, actorID, o.deps.Clock.Now(), map[string]string{
		"execution_id": executionID,
	}); err != nil {
		o.logger.Warn().Err(err).Str("execution_id", executionID).Msg("Failed to audit cancellation")
	}

	o.logger.Info().
		Str("execution_id", executionID).
		Str("actor", actorID).
		Msg("Cancellation requested")
	return nil
}

// Recover replays durable state after a restart: execution records are
// reloaded, pending approval gates are re-armed, and interrupted
// executions are resumed or failed. Returns how many executions were
// resumed.
//
// An execution that was awaiting approval resumes its wait on the
// rebuilt gate; one still pending re-runs from the top. An execution
// caught mid-deploy is failed instead: the process that was mutating
// nodes is gone, and its half-applied work needs an operator, not a
// blind re-run. Without a durable store Recover is a no-op and any
// previously pending approvals are lost, which the gate documents as
// its soft mode.
func (o *Orchestrator) Recover() (int, error) {
	if o.deps.Store == nil {
		return 0, nil
	}

	inFlight, err := o.deps.Tracker.LoadFromStore()
	if err != nil {
		return 0, err
	}
	if _, err := o.deps.Gate.Rebuild(); err != nil {
		return 0, err
	}
	o.releaseStaleHolders()

	resumed := 0
	for _, exec := range inFlight {
		switch exec.Status {
		case types.StatusPending, types.StatusAwaitingApproval:
			runCtx, cancel := context.WithCancel(context.Background())
			o.mu.Lock()
			if exec.IdempotencyKey != "" {
				o.idempotent[exec.IdempotencyKey] = exec.ID
			}
			o.cancels[exec.ID] = cancel
			o.mu.Unlock()

			metrics.DeploymentsInProgress.Inc()
			o.wg.Add(1)
			go o.run(runCtx, exec.ID, exec.Request)
			resumed++

			o.logger.Info().
				Str("execution_id", exec.ID).
				Str("status", string(exec.Status)).
				Msg("Execution resumed after restart")

		default:
			o.completeQuietly(exec.ID, &types.DeploymentResult{
				Status:      types.StatusFailed,
				FailureKind: types.FailureInternal,
				Message:     "orchestrator restarted while the deployment was mutating nodes",
			})
			o.logger.Warn().
				Str("execution_id", exec.ID).
				Str("status", string(exec.Status)).
				Msg("Interrupted execution failed on recovery")
		}
	}
	return resumed, nil
}

// releaseStaleHolders clears serialization keys the dead process held.
// The executions holding them are failed by Recover, so nothing
// legitimate still owns these keys.
func (o *Orchestrator) releaseStaleHolders() {
	holders, err := o.deps.Store.ListLockHolders()
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to list persisted lock holders")
		return
	}
	for _, h := range holders {
		if err := o.deps.Store.DeleteLockHolder(h.Key); err != nil {
			o.logger.Warn().Err(err).Str("key", h.Key).Msg("Failed to release stale lock holder")
		}
	}
}

// Shutdown cancels every in-flight execution and waits for their
// goroutines to finish or ctx to expire. Further Submits are refused.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	cancels := make([]context.CancelFunc, 0, len(o.cancels))
	for _, cancel := range o.cancels {
		cancels = append(cancels, cancel)
	}
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown incomplete: %w", ctx.Err())
	}
}

// forget drops the execution's cancel func and lapsed idempotency
// mapping once it reaches a terminal state
func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.cancels, id)
	for key, mapped := range o.idempotent {
		if mapped == id {
			delete(o.idempotent, key)
		}
	}
}

// completeQuietly writes a terminal result for executions that never
// reached the pipeline's own completion path. These paths run before
// the pipeline takes over, so the write must land; a refused
// transition here would strand the execution in a non-terminal state.
func (o *Orchestrator) completeQuietly(id string, result *types.DeploymentResult) {
	if _, err := o.deps.Tracker.Complete(id, result); err != nil {
		o.logger.Error().Err(err).Str("execution_id", id).Msg("Failed to record terminal result")
	}
}

func (o *Orchestrator) auditSubmission(exec *types.Execution) {
	err := o.deps.Audit.Record(notify.AuditDeploymentSubmitted, exec.Request.RequesterID, o.deps.Clock.Now(), map[string]string{
		"execution_id": exec.ID,
		"module":       exec.Request.Module.Ref(),
		"environment":  string(exec.Request.TargetEnvironment),
		"strategy":     string(exec.Request.EffectiveStrategy()),
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("execution_id", exec.ID).Msg("Failed to audit submission")
	}
}

// SerializationKey names the mutual-exclusion key for a deployment
// target: one running pipeline per (environment, module name).
func SerializationKey(env types.Environment, moduleName string) string {
	return string(env) + "/" + moduleName
}
