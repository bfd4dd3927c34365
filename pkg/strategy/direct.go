package strategy

import (
	"context"
	"fmt"

	"github.com/modkernel/switchyard/pkg/probe"
	"github.com/modkernel/switchyard/pkg/types"
)

// directStrategy updates every available node in one parallel wave and
// waits for the wave to settle. It is the development default: fast,
// no staged health gates, full blast radius.
type directStrategy struct {
	base
}

func (s *directStrategy) Apply(ctx context.Context, cluster *types.Cluster, module *types.Module, sink Sink) error {
	avail, err := s.deps.Registry.Available(cluster.ID)
	if err != nil {
		return types.Failure(types.FailureInternal, err)
	}
	if len(avail) == 0 {
		return types.Failuref(types.FailureHealthDegradation, "cluster %s has no available nodes", cluster.Environment)
	}

	sink.Progress(0, fmt.Sprintf("updating %d node(s) to %s", len(avail), module.Ref()))
	if err := s.applyNodes(ctx, avail, module, s.params.Parallelism); err != nil {
		return err
	}

	sink.Progress(0.8, "waiting for nodes to settle")
	scope := probe.Scope{ClusterID: cluster.ID, NodeIDs: nodeIDs(avail)}
	pred := s.deps.Probe.StablePredicate(scope, s.params.Budgets)
	if err := s.deps.Probe.WaitForConvergence(ctx, scope, s.params.SettleTimeout, pred); err != nil {
		return cancelFailure(ctx, err)
	}

	sink.Progress(1, fmt.Sprintf("updated %d node(s)", len(avail)))
	return nil
}
