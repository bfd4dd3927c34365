package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/modkernel/switchyard/pkg/probe"
	"github.com/modkernel/switchyard/pkg/types"
)

// blueGreenStrategy stands up a full second pool at the target
// version, flips traffic to it atomically, and keeps the old pool
// warm for a hold window so a rollback is a flip back rather than a
// node-by-node revert. The old pool retires after the hold.
type blueGreenStrategy struct {
	base

	mu          sync.Mutex
	clusterID   string
	blueColor   types.Color
	greenColor  types.Color
	blueNodes   []*types.Node
	greenNodes  []*types.Node
	flipped     bool
	blueRetired bool
	abandoned   bool

	abandonOnce sync.Once
	abandonCh   chan struct{}
}

func newBlueGreen(deps Deps, params Params) *blueGreenStrategy {
	return &blueGreenStrategy{
		base:      newBase(types.StrategyBlueGreen, deps, params),
		abandonCh: make(chan struct{}),
	}
}

func (s *blueGreenStrategy) Apply(ctx context.Context, cluster *types.Cluster, module *types.Module, sink Sink) error {
	cur, err := s.deps.Registry.GetClusterByID(cluster.ID)
	if err != nil {
		return types.Failure(types.FailureInternal, err)
	}

	s.mu.Lock()
	s.clusterID = cur.ID
	s.blueColor = cur.ActiveColor
	s.greenColor = cur.ActiveColor.Other()
	for _, n := range cur.Nodes {
		if n.Color == s.blueColor {
			s.blueNodes = append(s.blueNodes, n)
		}
	}
	blueCount := len(s.blueNodes)
	s.mu.Unlock()

	if blueCount == 0 {
		return types.Failuref(types.FailureHealthDegradation, "cluster %s has no nodes on its active color", cluster.Environment)
	}

	sink.Progress(0.1, fmt.Sprintf("provisioning %d %s node(s)", blueCount, s.greenColor))
	green, err := s.deps.Provisioner.Provision(ctx, cur, blueCount, s.greenColor)
	if err != nil {
		if ctx.Err() != nil {
			return types.Failure(types.FailureCancelled, ctx.Err())
		}
		return types.Failuref(types.FailureNodeDriver, "provisioning %s pool: %v", s.greenColor, err)
	}
	if err := s.deps.Registry.AttachNodes(cur.ID, green); err != nil {
		return types.Failure(types.FailureInternal, err)
	}
	s.mu.Lock()
	s.greenNodes = green
	s.mu.Unlock()

	sink.Progress(0.3, fmt.Sprintf("deploying %s to the %s pool", module.Ref(), s.greenColor))
	if err := s.applyNodes(ctx, green, module, s.params.Parallelism); err != nil {
		return err
	}

	sink.Progress(0.6, fmt.Sprintf("waiting for the %s pool to become ready", s.greenColor))
	scope := probe.Scope{ClusterID: cur.ID, NodeIDs: nodeIDs(green)}
	if err := s.deps.Probe.WaitForConvergence(ctx, scope, s.params.SettleTimeout, s.greenReady()); err != nil {
		return cancelFailure(ctx, err)
	}

	sink.Progress(0.8, fmt.Sprintf("switching traffic from %s to %s", s.blueColor, s.greenColor))
	if err := s.deps.Registry.SwitchColor(cur.ID, s.blueColor, s.greenColor); err != nil {
		return types.Failure(types.FailureConflict, err)
	}
	s.mu.Lock()
	s.flipped = true
	s.mu.Unlock()

	s.scheduleBlueRetirement()
	sink.Progress(1, fmt.Sprintf("traffic on %s; %s pool held warm for %s", s.greenColor, s.blueColor, s.params.BlueHoldWindow))
	return nil
}

// greenReady gates the flip: enough of the green pool healthy, and the
// pool's aggregates within budget. Green nodes are off the active
// color so the standard availability predicate cannot be used here.
func (s *blueGreenStrategy) greenReady() probe.Predicate {
	return func(samples map[string]types.HealthSnapshot) (bool, string) {
		s.mu.Lock()
		ids := nodeIDs(s.greenNodes)
		s.mu.Unlock()

		if len(ids) == 0 {
			return false, fmt.Sprintf("no %s nodes provisioned", s.greenColor)
		}

		healthy := 0
		for _, id := range ids {
			node, err := s.deps.Registry.GetNode(id)
			if err != nil {
				continue
			}
			if node.State == types.NodeStateHealthy {
				healthy++
			}
		}
		frac := float64(healthy) / float64(len(ids))
		if frac < s.params.ReadinessFraction {
			return false, fmt.Sprintf("%s pool readiness %.2f is below the required %.2f", s.greenColor, frac, s.params.ReadinessFraction)
		}

		agg, ok := probe.Aggregate(samples, ids)
		if !ok {
			return false, fmt.Sprintf("one or more %s nodes did not report a sample", s.greenColor)
		}
		if agg.MeanErrorRate > s.params.Budgets.ErrorRate {
			return false, fmt.Sprintf("%s pool error rate %.4f exceeds budget %.4f", s.greenColor, agg.MeanErrorRate, s.params.Budgets.ErrorRate)
		}
		if agg.MaxP95LatencyMs > s.params.Budgets.P95LatencyMs {
			return false, fmt.Sprintf("%s pool p95 latency %.1fms exceeds budget %.1fms", s.greenColor, agg.MaxP95LatencyMs, s.params.Budgets.P95LatencyMs)
		}
		return true, ""
	}
}

// scheduleBlueRetirement retires the old pool after the hold window,
// unless a rollback abandons the flip first. Retirement is best-effort
// cleanup; a process restart during the hold leaves the pool for the
// operator.
func (s *blueGreenStrategy) scheduleBlueRetirement() {
	go func() {
		select {
		case <-s.deps.Clock.After(s.params.BlueHoldWindow):
			s.retireBlue()
		case <-s.abandonCh:
		}
	}()
}

func (s *blueGreenStrategy) retireBlue() {
	s.mu.Lock()
	if s.abandoned {
		s.mu.Unlock()
		return
	}
	s.blueRetired = true
	blue := s.blueNodes
	clusterID := s.clusterID
	s.mu.Unlock()

	if err := s.deps.Provisioner.Retire(context.Background(), blue); err != nil {
		s.logger.Error().Str("color", string(s.blueColor)).Err(err).Msg("Failed to retire held pool")
		return
	}
	if err := s.deps.Registry.RetireNodes(clusterID, nodeIDs(blue)); err != nil {
		s.logger.Error().Str("color", string(s.blueColor)).Err(err).Msg("Failed to deregister held pool")
		return
	}
	s.logger.Info().Str("color", string(s.blueColor)).Int("nodes", len(blue)).Msg("Held pool retired")
}

// Rollback abandons the green pool. If traffic already flipped it
// flips back first; either way the green nodes are retired, so the
// cluster ends exactly as it started.
func (s *blueGreenStrategy) Rollback(ctx context.Context, sink Sink) error {
	s.abandonOnce.Do(func() { close(s.abandonCh) })

	s.mu.Lock()
	s.abandoned = true
	flipped := s.flipped
	blueRetired := s.blueRetired
	green := s.greenNodes
	clusterID := s.clusterID
	s.mu.Unlock()

	if blueRetired {
		return types.Failuref(types.FailureInternal, "%s pool already retired; traffic cannot be reverted", s.blueColor)
	}
	if len(green) == 0 {
		return nil
	}

	if flipped {
		sink.Progress(0.2, fmt.Sprintf("switching traffic back from %s to %s", s.greenColor, s.blueColor))
		if err := s.deps.Registry.SwitchColor(clusterID, s.greenColor, s.blueColor); err != nil {
			return types.Failure(types.FailureConflict, err)
		}
	}

	sink.Progress(0.6, fmt.Sprintf("retiring the %s pool", s.greenColor))
	greenIDs := nodeIDs(green)
	if err := s.deps.Provisioner.Retire(ctx, green); err != nil {
		for _, id := range greenIDs {
			s.rep.addAffected(id)
		}
		return types.Failuref(types.FailureNodeDriver, "retiring %s pool: %v", s.greenColor, err)
	}
	if err := s.deps.Registry.RetireNodes(clusterID, greenIDs); err != nil {
		return types.Failure(types.FailureInternal, err)
	}

	// Updated green nodes are gone with the pool: reverted, and no
	// longer anyone's problem.
	for _, id := range s.rep.updatedSnapshot() {
		s.rep.addRolledBack(id)
	}
	s.rep.dropAffected(greenIDs)

	sink.Progress(1, fmt.Sprintf("%s pool retired; traffic on %s", s.greenColor, s.blueColor))
	return nil
}
