package strategy

import (
	"context"
	"fmt"

	"github.com/modkernel/switchyard/pkg/probe"
	"github.com/modkernel/switchyard/pkg/types"
)

// rollingStrategy walks the cluster in fixed-size batches, updating
// each batch in parallel and holding it against the health gates
// before the next batch starts. A batch failure stops the walk; the
// caller's rollback then reverts this batch and every prior one.
type rollingStrategy struct {
	base
}

func (s *rollingStrategy) Apply(ctx context.Context, cluster *types.Cluster, module *types.Module, sink Sink) error {
	avail, err := s.deps.Registry.Available(cluster.ID)
	if err != nil {
		return types.Failure(types.FailureInternal, err)
	}
	if len(avail) == 0 {
		return types.Failuref(types.FailureHealthDegradation, "cluster %s has no available nodes", cluster.Environment)
	}

	size := s.params.BatchSize
	if size <= 0 {
		size = (len(avail) + 2) / 3 // thirds, rounded up
	}
	maxUnavailable := s.params.MaxUnavailable
	if maxUnavailable <= 0 {
		maxUnavailable = size
	}
	if size > maxUnavailable {
		size = maxUnavailable
	}

	groups := batches(avail, size)
	for i, group := range groups {
		if err := ctx.Err(); err != nil {
			return types.Failure(types.FailureCancelled, err)
		}
		if err := s.checkUnavailabilityCeiling(cluster.ID, len(group), maxUnavailable, i+1); err != nil {
			return err
		}

		sink.Progress(float64(i)/float64(len(groups)),
			fmt.Sprintf("updating batch %d/%d (%s)", i+1, len(groups), joinIDs(group)))
		if err := s.applyNodes(ctx, group, module, len(group)); err != nil {
			return err
		}

		scope := probe.Scope{ClusterID: cluster.ID, NodeIDs: nodeIDs(group)}
		pred := s.deps.Probe.StablePredicate(scope, s.params.Budgets)
		if err := s.deps.Probe.WaitForStable(ctx, scope, s.params.BatchSettleWindow, pred); err != nil {
			if ctx.Err() != nil {
				return types.Failure(types.FailureCancelled, ctx.Err())
			}
			return types.Failuref(types.FailureHealthDegradation,
				"batch %d/%d did not hold through its settle window: %v", i+1, len(groups), err)
		}
	}

	// Whole-cluster acceptance after the last batch, same shape as
	// post-validation.
	pred := s.deps.Probe.ServingPredicate(cluster.ID, s.params.Budgets)
	if err := s.deps.Probe.WaitForConvergence(ctx, probe.Scope{ClusterID: cluster.ID}, s.params.BatchSettleWindow, pred); err != nil {
		return cancelFailure(ctx, err)
	}

	sink.Progress(1, fmt.Sprintf("updated %d node(s) in %d batch(es)", len(avail), len(groups)))
	return nil
}

// checkUnavailabilityCeiling refuses a batch that would push the
// number of out-of-service nodes past the ceiling. Nodes already down
// for other reasons count against it.
func (s *rollingStrategy) checkUnavailabilityCeiling(clusterID string, batchLen, maxUnavailable, batchNum int) error {
	cluster, err := s.deps.Registry.GetClusterByID(clusterID)
	if err != nil {
		return types.Failure(types.FailureInternal, err)
	}
	avail, err := s.deps.Registry.Available(clusterID)
	if err != nil {
		return types.Failure(types.FailureInternal, err)
	}
	if down := len(cluster.Nodes) - len(avail); down+batchLen > maxUnavailable {
		return types.Failuref(types.FailureHealthDegradation,
			"batch %d would take %d node(s) offline with %d already unavailable, exceeding the ceiling of %d",
			batchNum, batchLen, down, maxUnavailable)
	}
	return nil
}
