package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/approval"
	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/config"
	"github.com/modkernel/switchyard/pkg/driver"
	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/metrics"
	"github.com/modkernel/switchyard/pkg/notify"
	"github.com/modkernel/switchyard/pkg/probe"
	"github.com/modkernel/switchyard/pkg/registry"
	"github.com/modkernel/switchyard/pkg/strategy"
	"github.com/modkernel/switchyard/pkg/tracker"
	"github.com/modkernel/switchyard/pkg/types"
	"github.com/modkernel/switchyard/pkg/verify"
)

// Deps are the collaborators a pipeline run drives. Registry, Verifier,
// Probe, Gate, and Tracker are the in-process authorities; Stager,
// Driver, and Provisioner are the host seams.
type Deps struct {
	Registry    *registry.Registry
	Verifier    *verify.Verifier
	Probe       *probe.Probe
	Stager      driver.ArtifactStager
	Driver      driver.NodeDriver
	Provisioner driver.NodeProvisioner // blue-green only; may be nil
	Gate        *approval.Gate
	Tracker     *tracker.Tracker
	Notifier    notify.Notifier
	Clock       clock.Clock
}

// Pipeline executes deployment requests through the fixed stage
// sequence. It is stateless across runs; everything per-execution lives
// on the tracker record and the run's single-use strategy instance.
type Pipeline struct {
	deps   Deps
	cfg    config.Config
	logger zerolog.Logger
}

// New builds a pipeline over its collaborators
func New(deps Deps, cfg config.Config) (*Pipeline, error) {
	if deps.Registry == nil || deps.Verifier == nil || deps.Probe == nil ||
		deps.Stager == nil || deps.Driver == nil || deps.Gate == nil || deps.Tracker == nil {
		return nil, fmt.Errorf("%w: pipeline is missing a collaborator", types.ErrValidation)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if cfg.Pipeline.StageTimeout.D() <= 0 {
		cfg.Pipeline.StageTimeout = config.Duration(time.Hour)
	}
	if cfg.PostValidateWindow.D() <= 0 {
		cfg.PostValidateWindow = config.Duration(5 * time.Minute)
	}
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		logger: log.WithComponent("pipeline"),
	}, nil
}

// Run drives the execution to a terminal status, which is written to
// the tracker and returned. The caller owns serialization: at most one
// live Run per (environment, module name). Cancelling ctx stops the
// pipeline at the next stage boundary, rolling back applied mutations
// best-effort.
func (p *Pipeline) Run(ctx context.Context, executionID string) (*types.DeploymentResult, error) {
	exec, err := p.deps.Tracker.Get(executionID)
	if err != nil {
		return nil, err
	}

	r := &run{
		p:       p,
		id:      executionID,
		request: exec.Request,
		env:     exec.Request.TargetEnvironment,
		kind:    exec.Request.EffectiveStrategy(),
		done:    finishedStages(exec),
		logger:  p.logger.With().Str("execution_id", executionID).Logger(),
	}

	if err := r.setStatus(types.StatusRunning); err != nil {
		// Finished before the first stage ran (cancelled while queued).
		return nil, err
	}

	r.logger.Info().
		Str("module", r.request.Module.Ref()).
		Str("environment", string(r.env)).
		Str("strategy", string(r.kind)).
		Msg("Pipeline started")

	return r.runStages(ctx)
}

// run is the per-execution state of one pipeline traversal
type run struct {
	p       *Pipeline
	id      string
	request *types.DeploymentRequest
	env     types.Environment
	kind    types.StrategyKind
	done    map[types.StageName]bool
	logger  zerolog.Logger

	// strat is built by the deploy stage and kept so post-validate
	// failures and boundary cancellations can revert its work
	strat strategy.Strategy
}

func (r *run) runStages(ctx context.Context) (*types.DeploymentResult, error) {
	for _, name := range types.StageOrder {
		if ctx.Err() != nil {
			return r.finishCancelled(ctx, fmt.Sprintf("cancelled before %s", name))
		}

		// A resumed execution picks up at its first unfinished stage;
		// stages never re-run within one execution.
		if r.done[name] {
			continue
		}

		if name == types.StageApprovalGate && !r.env.RequiresApproval() {
			if err := r.skipStage(name, fmt.Sprintf("%s deployments do not require approval", r.env)); err != nil {
				return r.finishInternal(err)
			}
			continue
		}

		if stageErr := r.runStage(ctx, name); stageErr != nil {
			return r.finishFailed(ctx, name, stageErr)
		}
	}
	return r.finishSucceeded()
}

// runStage marks the stage running, executes it under the stage
// timeout, and records success. Failures are recorded by finishFailed,
// which may append a rollback summary first. The approval gate is
// exempt from the stage timeout; its own deadline governs.
func (r *run) runStage(ctx context.Context, name types.StageName) error {
	if err := r.markStageRunning(name); err != nil {
		return types.Failure(types.FailureInternal, err)
	}

	stageCtx := ctx
	cancel := context.CancelFunc(func() {})
	if name != types.StageApprovalGate {
		stageCtx, cancel = context.WithTimeout(ctx, r.p.cfg.Pipeline.StageTimeout.D())
	}
	defer cancel()

	timer := metrics.NewTimer()
	note, err := r.invoke(stageCtx, name)
	timer.ObserveDurationVec(metrics.StageDuration, string(name))

	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = types.Failure(types.FailureCancelled, err)
		case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
			// The stage timeout is a backstop; semantic waits inside the
			// stage carry their own deadlines and should trip first.
			err = types.Failure(types.FailureInternal,
				fmt.Errorf("stage timed out after %s: %w", r.p.cfg.Pipeline.StageTimeout.D(), err))
		}
		metrics.StageFailuresTotal.WithLabelValues(string(name), string(types.KindOf(err))).Inc()
		return err
	}

	sr, mErr := r.markStageDone(name, types.StageSucceeded, note)
	if mErr != nil {
		return types.Failure(types.FailureInternal, mErr)
	}
	r.p.deps.Notifier.OnStageComplete(r.id, *sr)
	return nil
}

// invoke dispatches to the stage implementation, converting panics into
// internal failures so one broken collaborator cannot take the process
// down mid-rollout.
func (r *run) invoke(ctx context.Context, name types.StageName) (note string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("stage", string(name)).
				Interface("panic", rec).
				Msg("Stage panicked")
			err = types.Failuref(types.FailureInternal, "stage %s panicked: %v", name, rec)
		}
	}()

	switch name {
	case types.StageValidate:
		return r.stageValidate(ctx)
	case types.StageSignatureCheck:
		return r.stageSignatureCheck(ctx)
	case types.StagePrepare:
		return r.stagePrepare(ctx)
	case types.StageSmokeTest:
		return r.stageSmokeTest(ctx)
	case types.StageApprovalGate:
		return r.stageApprovalGate(ctx)
	case types.StageDeploy:
		return r.stageDeploy(ctx)
	case types.StagePostValidate:
		return r.stagePostValidate(ctx)
	}
	return "", types.Failuref(types.FailureInternal, "unknown stage %s", name)
}

// finishFailed records the failing stage and completes the execution.
// Deploy and post-validate failures always attempt the strategy's
// rollback first, and its outcome lands on the failing stage's message
// rather than as a separate stage.
func (r *run) finishFailed(ctx context.Context, name types.StageName, stageErr error) (*types.DeploymentResult, error) {
	failKind := types.KindOf(stageErr)

	message := stageErr.Error()
	if (name == types.StageDeploy || name == types.StagePostValidate) && r.strat != nil {
		message += "; " + r.rollback(ctx)
	}

	sr, mErr := r.markStageDone(name, types.StageFailed, message)
	if mErr != nil {
		r.logger.Error().Err(mErr).Str("stage", string(name)).Msg("Failed to record stage failure")
	} else {
		r.p.deps.Notifier.OnStageComplete(r.id, *sr)
	}

	report := r.report()
	status := types.StatusFailed
	switch {
	case failKind == types.FailureCancelled:
		status = types.StatusCancelled
	case len(report.RolledBack) > 0:
		status = types.StatusRolledBack
	}

	return r.complete(&types.DeploymentResult{
		Status:          status,
		FailureKind:     failKind,
		Message:         message,
		NodesUpdated:    len(report.Updated),
		NodesRolledBack: len(report.RolledBack),
		AffectedNodes:   report.Affected,
	})
}

// finishCancelled handles a stage-boundary cancellation: applied
// mutations are reverted best-effort, but the terminal status stays
// cancelled, not rolled-back.
func (r *run) finishCancelled(ctx context.Context, message string) (*types.DeploymentResult, error) {
	if r.strat != nil && len(r.strat.Report().Updated) > 0 {
		message += "; " + r.rollback(ctx)
	}

	report := r.report()
	return r.complete(&types.DeploymentResult{
		Status:          types.StatusCancelled,
		FailureKind:     types.FailureCancelled,
		Message:         message,
		NodesUpdated:    len(report.Updated),
		NodesRolledBack: len(report.RolledBack),
		AffectedNodes:   report.Affected,
	})
}

func (r *run) finishSucceeded() (*types.DeploymentResult, error) {
	report := r.report()
	return r.complete(&types.DeploymentResult{
		Status:        types.StatusSucceeded,
		Message:       fmt.Sprintf("%s deployed to %s via %s", r.request.Module.Ref(), r.env, r.kind),
		NodesUpdated:  len(report.Updated),
		AffectedNodes: report.Affected,
	})
}

func (r *run) finishInternal(err error) (*types.DeploymentResult, error) {
	return r.complete(&types.DeploymentResult{
		Status:      types.StatusFailed,
		FailureKind: types.FailureInternal,
		Message:     err.Error(),
	})
}

// rollback reverts applied mutations under a context detached from the
// possibly-dead stage context, and summarizes the outcome for the
// failing stage's trailing message.
func (r *run) rollback(ctx context.Context) string {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.p.cfg.Pipeline.StageTimeout.D())
	defer cancel()

	err := r.strat.Rollback(rbCtx, r.sink())
	report := r.strat.Report()
	switch {
	case err != nil:
		return fmt.Sprintf("rollback incomplete: %v (%d reverted, %d left unhealthy)",
			err, len(report.RolledBack), len(report.Affected))
	case len(report.RolledBack) == 0:
		return "rollback unnecessary: no nodes had been updated"
	default:
		return fmt.Sprintf("rollback reverted %d node(s)", len(report.RolledBack))
	}
}

func (r *run) complete(result *types.DeploymentResult) (*types.DeploymentResult, error) {
	snapshot, err := r.p.deps.Tracker.Complete(r.id, result)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to record terminal result")
		return nil, err
	}

	metrics.DeploymentsTotal.WithLabelValues(string(r.env), string(r.kind), string(result.Status)).Inc()
	metrics.DeploymentDuration.WithLabelValues(string(r.env), string(r.kind)).
		Observe(float64(snapshot.Result.DurationMs) / 1000)

	r.p.deps.Notifier.OnStateChange(snapshot)

	r.logger.Info().
		Str("status", string(snapshot.Status)).
		Str("failure_kind", string(snapshot.Result.FailureKind)).
		Int("nodes_updated", snapshot.Result.NodesUpdated).
		Int("nodes_rolled_back", snapshot.Result.NodesRolledBack).
		Msg("Pipeline finished")

	return snapshot.Result, nil
}

func (r *run) setStatus(status types.PipelineStatus) error {
	snapshot, err := r.p.deps.Tracker.Update(r.id, func(e *types.Execution) error {
		e.Status = status
		return nil
	})
	if err != nil {
		return err
	}
	r.p.deps.Notifier.OnStateChange(snapshot)
	return nil
}

func (r *run) markStageRunning(name types.StageName) error {
	now := r.p.deps.Clock.Now()
	_, err := r.p.deps.Tracker.Update(r.id, func(e *types.Execution) error {
		sr := e.Stage(name)
		if sr == nil {
			return fmt.Errorf("%w: execution has no %s stage", types.ErrValidation, name)
		}
		sr.Status = types.StageRunning
		sr.StartedAt = now
		return nil
	})
	return err
}

func (r *run) markStageDone(name types.StageName, status types.StageStatus, message string) (*types.StageResult, error) {
	now := r.p.deps.Clock.Now()
	snapshot, err := r.p.deps.Tracker.Update(r.id, func(e *types.Execution) error {
		sr := e.Stage(name)
		if sr == nil {
			return fmt.Errorf("%w: execution has no %s stage", types.ErrValidation, name)
		}
		sr.Status = status
		sr.FinishedAt = now
		sr.Message = message
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot.Stage(name), nil
}

func (r *run) skipStage(name types.StageName, note string) error {
	now := r.p.deps.Clock.Now()
	snapshot, err := r.p.deps.Tracker.Update(r.id, func(e *types.Execution) error {
		sr := e.Stage(name)
		if sr == nil {
			return fmt.Errorf("%w: execution has no %s stage", types.ErrValidation, name)
		}
		sr.Status = types.StageSkipped
		sr.StartedAt = now
		sr.FinishedAt = now
		sr.Message = note
		return nil
	})
	if err != nil {
		return err
	}
	r.p.deps.Notifier.OnStageComplete(r.id, *snapshot.Stage(name))
	return nil
}

func (r *run) report() strategy.Report {
	if r.strat == nil {
		return strategy.Report{}
	}
	return r.strat.Report()
}

// finishedStages maps the stages a tracker record already closed out
func finishedStages(exec *types.Execution) map[types.StageName]bool {
	done := make(map[types.StageName]bool, len(exec.Stages))
	for _, sr := range exec.Stages {
		if sr.Status == types.StageSucceeded || sr.Status == types.StageSkipped {
			done[sr.Name] = true
		}
	}
	return done
}

// sink forwards strategy progress to the notifier
func (r *run) sink() strategy.Sink {
	return strategy.SinkFunc(func(fraction float64, message string) {
		r.p.deps.Notifier.OnProgress(r.id, fraction, message)
	})
}
