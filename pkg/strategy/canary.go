package strategy

import (
	"context"
	"fmt"

	"github.com/modkernel/switchyard/pkg/probe"
	"github.com/modkernel/switchyard/pkg/types"
)

// canaryStrategy expands through cumulative coverage steps, holding
// each step against tightened budgets and a no-regression comparison
// with the untouched remainder. Node order is the registry's stable
// availability order, so reruns pick the same canaries.
type canaryStrategy struct {
	base
}

func (s *canaryStrategy) Apply(ctx context.Context, cluster *types.Cluster, module *types.Module, sink Sink) error {
	avail, err := s.deps.Registry.Available(cluster.ID)
	if err != nil {
		return types.Failure(types.FailureInternal, err)
	}
	if len(avail) == 0 {
		return types.Failuref(types.FailureHealthDegradation, "cluster %s has no available nodes", cluster.Environment)
	}

	total := len(avail)
	updated := 0
	for i, pct := range s.params.CanarySteps {
		if err := ctx.Err(); err != nil {
			return types.Failure(types.FailureCancelled, err)
		}

		count := trancheSize(pct, total)
		if count > total {
			count = total
		}
		if count <= updated {
			// The step adds no nodes on a cluster this small; its
			// hold window is skipped too.
			sink.Progress(float64(i+1)/float64(len(s.params.CanarySteps)),
				fmt.Sprintf("step %d%% adds no nodes, skipping", pct))
			continue
		}

		tranche := avail[updated:count]
		sink.Progress(float64(i)/float64(len(s.params.CanarySteps)),
			fmt.Sprintf("canary step %d%%: updating %s", pct, joinIDs(tranche)))
		if err := s.applyNodes(ctx, tranche, module, len(tranche)); err != nil {
			return err
		}
		updated = count

		canaryIDs := nodeIDs(avail[:updated])
		baselineIDs := nodeIDs(avail[updated:])
		pred := s.holdPredicate(canaryIDs, baselineIDs)
		scope := probe.Scope{ClusterID: cluster.ID} // both sets sampled
		if err := s.deps.Probe.WaitForStable(ctx, scope, s.params.StepHoldWindow, pred); err != nil {
			if ctx.Err() != nil {
				return types.Failure(types.FailureCancelled, ctx.Err())
			}
			return types.Failuref(types.FailureHealthDegradation, "canary step %d%% failed its hold: %v", pct, err)
		}
	}

	sink.Progress(1, fmt.Sprintf("canary complete: %d node(s) updated", updated))
	return nil
}

// holdPredicate gates one canary step. The canary set must report
// every sample and hold the tightened budgets; it must also not
// regress past the baseline by more than the allowances. The baseline
// side is lenient about missing samples, so a flaky old node cannot
// veto the new version.
func (s *canaryStrategy) holdPredicate(canary, baseline []string) probe.Predicate {
	return func(samples map[string]types.HealthSnapshot) (bool, string) {
		cagg, ok := probe.Aggregate(samples, canary)
		if !ok {
			return false, "one or more canary nodes did not report a sample"
		}
		if cagg.MeanErrorRate > s.params.CanaryBudgets.ErrorRate {
			return false, fmt.Sprintf("canary error rate %.4f exceeds budget %.4f", cagg.MeanErrorRate, s.params.CanaryBudgets.ErrorRate)
		}
		if cagg.MaxP95LatencyMs > s.params.CanaryBudgets.P95LatencyMs {
			return false, fmt.Sprintf("canary p95 latency %.1fms exceeds budget %.1fms", cagg.MaxP95LatencyMs, s.params.CanaryBudgets.P95LatencyMs)
		}

		present := make([]string, 0, len(baseline))
		for _, id := range baseline {
			if _, ok := samples[id]; ok {
				present = append(present, id)
			}
		}
		if len(present) == 0 {
			return true, "" // final step, or no baseline data to compare
		}
		bagg, _ := probe.Aggregate(samples, present)
		if delta := cagg.MeanErrorRate - bagg.MeanErrorRate; delta > s.params.ErrorRateRegressionBudget {
			return false, fmt.Sprintf("canary error rate is %.4f above the baseline, over the %.4f allowance", delta, s.params.ErrorRateRegressionBudget)
		}
		if delta := cagg.MaxP95LatencyMs - bagg.MaxP95LatencyMs; delta > s.params.LatencyRegressionBudgetMs {
			return false, fmt.Sprintf("canary p95 latency is %.1fms above the baseline, over the %.1fms allowance", delta, s.params.LatencyRegressionBudgetMs)
		}
		return true, ""
	}
}
