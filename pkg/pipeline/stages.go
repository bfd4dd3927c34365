package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/modkernel/switchyard/pkg/approval"
	"github.com/modkernel/switchyard/pkg/probe"
	"github.com/modkernel/switchyard/pkg/strategy"
	"github.com/modkernel/switchyard/pkg/types"
)

// stageValidate checks the request shape and that the target
// environment has a cluster to deploy to. Nothing is mutated.
func (r *run) stageValidate(ctx context.Context) (string, error) {
	if err := r.request.Validate(); err != nil {
		return "", err
	}
	cluster, err := r.p.deps.Registry.GetCluster(r.env)
	if err != nil {
		return "", types.Failuref(types.FailureValidation, "no cluster registered for environment %s", r.env)
	}
	return fmt.Sprintf("%s accepted for %s (%d node(s))", r.request.Module.Ref(), r.env, len(cluster.Nodes)), nil
}

// stageSignatureCheck verifies the artifact signature chain against
// the environment's trust policy.
func (r *run) stageSignatureCheck(ctx context.Context) (string, error) {
	res := r.p.deps.Verifier.Verify(r.request.Module, r.env)
	if !res.OK() {
		return "", types.Failuref(types.FailureSignatureRejected, "%s: %s", res.Verdict, res.Detail)
	}
	return "signer chain verified", nil
}

// stagePrepare distributes the artifact to every available node ahead
// of the rollout. Staging is retried once; transport blips should not
// fail a deployment that has not touched any node yet.
func (r *run) stagePrepare(ctx context.Context) (string, error) {
	cluster, err := r.p.deps.Registry.GetCluster(r.env)
	if err != nil {
		return "", types.Failure(types.FailurePreparation, err)
	}
	nodes, err := r.p.deps.Registry.Available(cluster.ID)
	if err != nil {
		return "", types.Failure(types.FailurePreparation, err)
	}

	if err := r.p.deps.Stager.Stage(ctx, r.request.Module, nodes); err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		r.logger.Warn().Err(err).Msg("Artifact staging failed, retrying")
		if err := r.p.deps.Stager.Stage(ctx, r.request.Module, nodes); err != nil {
			return "", types.Failure(types.FailurePreparation, err)
		}
	}
	return fmt.Sprintf("artifact staged for %d node(s)", len(nodes)), nil
}

// stageSmokeTest samples the whole cluster once and applies the
// serving predicate: a cluster that cannot hold its budgets before the
// rollout will not get healthier by swapping modules mid-flight.
func (r *run) stageSmokeTest(ctx context.Context) (string, error) {
	cluster, err := r.p.deps.Registry.GetCluster(r.env)
	if err != nil {
		return "", types.Failure(types.FailureHealthDegradation, err)
	}
	samples, err := r.p.deps.Probe.SampleCluster(ctx, cluster.ID)
	if err != nil {
		return "", types.Failure(types.FailureHealthDegradation, err)
	}

	pred := r.p.deps.Probe.ServingPredicate(cluster.ID, r.servingBudgets())
	if ok, reason := pred(samples); !ok {
		return "", types.Failuref(types.FailureHealthDegradation, "cluster not fit to deploy: %s", reason)
	}
	return fmt.Sprintf("sampled %d node(s); cluster serving", len(samples)), nil
}

// stageApprovalGate suspends the pipeline until a human decides or the
// approval window lapses. The execution is visible as awaiting-approval
// for the whole wait; cancellation withdraws the gate.
func (r *run) stageApprovalGate(ctx context.Context) (string, error) {
	// For a resumed execution this adopts the gate Rebuild re-armed,
	// buffered decision included, rather than opening a new one.
	handle, err := r.p.deps.Gate.RequestApproval(r.id, r.env, r.request.RequesterID)
	if err != nil {
		return "", types.Failure(types.FailureInternal, err)
	}
	if err := r.setStatus(types.StatusAwaitingApproval); err != nil {
		_ = r.p.deps.Gate.Withdraw(r.id)
		return "", types.Failure(types.FailureInternal, err)
	}

	r.logger.Info().
		Time("deadline", handle.Deadline).
		Msg("Awaiting approval")

	select {
	case <-ctx.Done():
		_ = r.p.deps.Gate.Withdraw(r.id)
		return "", ctx.Err()
	case res := <-handle.Done():
		switch {
		case res.Approved():
			if err := r.setStatus(types.StatusRunning); err != nil {
				return "", types.Failure(types.FailureInternal, err)
			}
			note := fmt.Sprintf("approved by %s at %s", res.ApproverID, res.DecidedAt.Format(time.RFC3339))
			if res.Reason != "" {
				note += ": " + res.Reason
			}
			return note, nil
		case res.Decision == approval.DecisionTimedOut:
			return "", types.Failuref(types.FailureApprovalTimeout,
				"no decision within the approval window (deadline %s)", handle.Deadline.Format(time.RFC3339))
		default:
			msg := "rejected by " + res.ApproverID
			if res.Reason != "" {
				msg += ": " + res.Reason
			}
			return "", types.Failuref(types.FailureApprovalDenied, "%s", msg)
		}
	}
}

// stageDeploy builds the single-use strategy instance and applies it.
// The instance is retained on the run so later failures can revert
// exactly the nodes it touched.
func (r *run) stageDeploy(ctx context.Context) (string, error) {
	cluster, err := r.p.deps.Registry.GetCluster(r.env)
	if err != nil {
		return "", types.Failure(types.FailureInternal, err)
	}

	strat, err := strategy.New(r.kind, strategy.Deps{
		Registry:    r.p.deps.Registry,
		Probe:       r.p.deps.Probe,
		Driver:      r.p.deps.Driver,
		Provisioner: r.p.deps.Provisioner,
		Clock:       r.p.deps.Clock,
	}, r.strategyParams())
	if err != nil {
		return "", err
	}
	r.strat = strat

	if err := strat.Apply(ctx, cluster, r.request.Module, r.sink()); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s rollout updated %d node(s)", r.kind, len(strat.Report().Updated)), nil
}

// stagePostValidate holds the execution open until the freshly updated
// cluster serves within budget. Nodes are allowed to wobble while
// modules settle in; only a cluster that never reaches budget inside
// the window fails the stage.
func (r *run) stagePostValidate(ctx context.Context) (string, error) {
	cluster, err := r.p.deps.Registry.GetCluster(r.env)
	if err != nil {
		return "", types.Failure(types.FailureInternal, err)
	}

	window := r.p.cfg.PostValidateWindow.D()
	pred := r.p.deps.Probe.ServingPredicate(cluster.ID, r.servingBudgets())
	if err := r.p.deps.Probe.WaitForConvergence(ctx, probe.Scope{ClusterID: cluster.ID}, window, pred); err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", types.Failure(types.FailureHealthDegradation, err)
	}
	return fmt.Sprintf("cluster serving within %s", window), nil
}

// servingBudgets are the aggregate ceilings for this environment
func (r *run) servingBudgets() probe.Budgets {
	return probe.Budgets{
		ErrorRate:    r.p.cfg.Probe.ErrorRateBudget,
		P95LatencyMs: r.p.cfg.Environment(r.env).P95LatencyBudgetMs,
	}
}

// strategyParams maps the configured tunables for the run's strategy
// kind onto rollout parameters.
func (r *run) strategyParams() strategy.Params {
	cfg := r.p.cfg
	params := strategy.Params{Budgets: r.servingBudgets()}

	switch r.kind {
	case types.StrategyDirect:
		params.Parallelism = cfg.Direct.Parallelism
		params.SettleTimeout = cfg.Direct.SettleTimeout.D()
	case types.StrategyRolling:
		params.BatchSize = cfg.Rolling.BatchSize
		params.MaxUnavailable = cfg.Rolling.MaxUnavailable
		params.BatchSettleWindow = cfg.Rolling.BatchSettleWindow.D()
	case types.StrategyBlueGreen:
		params.ReadinessFraction = cfg.BlueGreen.ReadinessFraction
		params.BlueHoldWindow = cfg.BlueGreen.BlueHoldWindow.D()
	case types.StrategyCanary:
		params.CanarySteps = cfg.Canary.Steps
		params.StepHoldWindow = cfg.Canary.StepHoldWindow.D()
		params.CanaryBudgets = probe.Budgets{
			ErrorRate:    cfg.Canary.ErrorRateBudget,
			P95LatencyMs: cfg.Canary.P95LatencyBudgetMs,
		}
		params.ErrorRateRegressionBudget = cfg.Canary.ErrorRateRegressionBudget
		params.LatencyRegressionBudgetMs = cfg.Canary.LatencyRegressionBudgetMs
	}
	return params
}
