package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/metrics"
	"github.com/modkernel/switchyard/pkg/types"
)

// Sampling failure modes. A transient failure is worth one retry; an
// unreachable node is not, and rollouts treat it as unhealthy.
var (
	ErrTransient   = errors.New("switchyard: transient probe failure")
	ErrUnreachable = errors.New("switchyard: node unreachable")
)

// Source produces health samples for nodes. Hosts implement this
// against their real telemetry; SimSource is the in-process stand-in.
type Source interface {
	Sample(ctx context.Context, node *types.Node) (types.HealthSnapshot, error)
}

// Directory is the registry surface the probe needs: membership
// lookups, availability, and the heartbeat write path for samples.
type Directory interface {
	GetNode(nodeID string) (*types.Node, error)
	GetClusterByID(clusterID string) (*types.Cluster, error)
	Available(clusterID string) ([]*types.Node, error)
	Serving(clusterID string) (bool, error)
	Heartbeat(nodeID string, snap types.HealthSnapshot) error
}

// Config holds probe tunables
type Config struct {
	// SampleInterval is the cadence inside WaitForStable and the
	// periodic Sampler
	SampleInterval time.Duration

	// MaxConcurrent bounds parallel node sampling in SampleCluster
	MaxConcurrent int
}

// Probe samples node health, publishes the samples as heartbeats, and
// provides the stability waits rollout strategies gate on.
type Probe struct {
	source Source
	dir    Directory
	cfg    Config
	clk    clock.Clock
	logger zerolog.Logger
}

// New creates a probe over a sample source and a registry directory
func New(source Source, dir Directory, cfg Config, clk clock.Clock) *Probe {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Probe{
		source: source,
		dir:    dir,
		cfg:    cfg,
		clk:    clk,
		logger: log.WithComponent("probe"),
	}
}

// SampleNode samples one node and publishes the result as a
// heartbeat. A transient failure is retried once before giving up.
func (p *Probe) SampleNode(ctx context.Context, nodeID string) (types.HealthSnapshot, error) {
	node, err := p.dir.GetNode(nodeID)
	if err != nil {
		return types.HealthSnapshot{}, err
	}
	return p.sample(ctx, node)
}

func (p *Probe) sample(ctx context.Context, node *types.Node) (types.HealthSnapshot, error) {
	snap, err := p.source.Sample(ctx, node)
	if errors.Is(err, ErrTransient) {
		metrics.ProbeSamplesTotal.WithLabelValues("transient").Inc()
		snap, err = p.source.Sample(ctx, node)
	}
	if err != nil {
		result := "error"
		if errors.Is(err, ErrUnreachable) {
			result = "unreachable"
		} else if errors.Is(err, ErrTransient) {
			result = "transient"
		}
		metrics.ProbeSamplesTotal.WithLabelValues(result).Inc()
		return types.HealthSnapshot{}, fmt.Errorf("sampling node %s: %w", node.ID, err)
	}

	if snap.SampledAt.IsZero() {
		snap.SampledAt = p.clk.Now()
	}
	metrics.ProbeSamplesTotal.WithLabelValues("ok").Inc()

	if hbErr := p.dir.Heartbeat(node.ID, snap); hbErr != nil {
		// Node may have been retired between sample and publish.
		p.logger.Debug().Str("node_id", node.ID).Err(hbErr).Msg("Heartbeat publish skipped")
	}
	return snap, nil
}

// SampleCluster samples every node of a cluster in parallel, bounded
// by MaxConcurrent. Nodes that fail to sample are simply absent from
// the result; stability predicates treat absence as a violation.
func (p *Probe) SampleCluster(ctx context.Context, clusterID string) (map[string]types.HealthSnapshot, error) {
	cluster, err := p.dir.GetClusterByID(clusterID)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	samples := make(map[string]types.HealthSnapshot, len(cluster.Nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrent)
	for _, node := range cluster.Nodes {
		g.Go(func() error {
			snap, err := p.sample(gctx, node)
			if err != nil {
				return nil // per-node failure, not a group failure
			}
			mu.Lock()
			samples[node.ID] = snap
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return samples, nil
}

// Scope names the node set a stability wait covers: a whole cluster,
// or an explicit subset of it
type Scope struct {
	ClusterID string
	NodeIDs   []string // empty means every node in the cluster
}

// Predicate evaluates one round of samples. Returning ok=false ends
// the wait immediately with the given reason.
type Predicate func(samples map[string]types.HealthSnapshot) (ok bool, reason string)

// WaitForStable succeeds when the predicate holds at every sample
// through the window, starting with an immediate first sample. The
// first violation fails the wait; context cancellation aborts it.
func (p *Probe) WaitForStable(ctx context.Context, scope Scope, window time.Duration, pred Predicate) error {
	deadline := p.clk.Now().Add(window)
	for {
		samples, err := p.SampleCluster(ctx, scope.ClusterID)
		if err != nil {
			return err
		}
		if len(scope.NodeIDs) > 0 {
			samples = filterSamples(samples, scope.NodeIDs)
		}
		if ok, reason := pred(samples); !ok {
			return fmt.Errorf("stability violated: %s", reason)
		}
		if !p.clk.Now().Before(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clk.After(p.cfg.SampleInterval):
		}
	}
}

// WaitForConvergence succeeds as soon as the predicate first holds,
// sampling until it does or the timeout elapses. Unlike WaitForStable
// an initial violation is expected, not fatal; nodes are given the
// whole timeout to settle.
func (p *Probe) WaitForConvergence(ctx context.Context, scope Scope, timeout time.Duration, pred Predicate) error {
	deadline := p.clk.Now().Add(timeout)
	reason := "no samples taken"
	for {
		samples, err := p.SampleCluster(ctx, scope.ClusterID)
		if err != nil {
			return err
		}
		if len(scope.NodeIDs) > 0 {
			samples = filterSamples(samples, scope.NodeIDs)
		}
		var ok bool
		if ok, reason = pred(samples); ok {
			return nil
		}
		if !p.clk.Now().Before(deadline) {
			return fmt.Errorf("did not converge within %s: %s", timeout, reason)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clk.After(p.cfg.SampleInterval):
		}
	}
}

// Budgets are the aggregate ceilings a stable node set must hold
type Budgets struct {
	ErrorRate    float64
	P95LatencyMs float64
}

// StablePredicate builds the standard rollout predicate for a scope:
// aggregate error rate within budget, aggregate p95 within budget,
// every scoped node available. Budget violations are checked first so
// a node that degrades itself over budget is reported as the budget
// breach it is, not as a generic availability miss.
func (p *Probe) StablePredicate(scope Scope, budgets Budgets) Predicate {
	return func(samples map[string]types.HealthSnapshot) (bool, string) {
		ids := scope.NodeIDs
		if len(ids) == 0 {
			cluster, err := p.dir.GetClusterByID(scope.ClusterID)
			if err != nil {
				return false, err.Error()
			}
			for _, n := range cluster.Nodes {
				ids = append(ids, n.ID)
			}
		}

		agg, ok := Aggregate(samples, ids)
		if !ok {
			return false, "one or more nodes did not report a sample"
		}
		if agg.MeanErrorRate > budgets.ErrorRate {
			return false, fmt.Sprintf("error rate %.4f exceeds budget %.4f", agg.MeanErrorRate, budgets.ErrorRate)
		}
		if agg.MaxP95LatencyMs > budgets.P95LatencyMs {
			return false, fmt.Sprintf("p95 latency %.1fms exceeds budget %.1fms", agg.MaxP95LatencyMs, budgets.P95LatencyMs)
		}

		avail, err := p.dir.Available(scope.ClusterID)
		if err != nil {
			return false, err.Error()
		}
		availSet := make(map[string]bool, len(avail))
		for _, n := range avail {
			availSet[n.ID] = true
		}
		for _, id := range ids {
			if !availSet[id] {
				return false, fmt.Sprintf("node %s is not available", id)
			}
		}
		return true, ""
	}
}

// ServingPredicate builds the whole-cluster acceptance predicate:
// the cluster is serving (healthy fraction at or above its floor) and
// the nodes still taking traffic hold the aggregate budgets. Nodes
// outside the active color do not count against it, which matters
// right after a blue/green flip.
func (p *Probe) ServingPredicate(clusterID string, budgets Budgets) Predicate {
	return func(samples map[string]types.HealthSnapshot) (bool, string) {
		serving, err := p.dir.Serving(clusterID)
		if err != nil {
			return false, err.Error()
		}
		if !serving {
			return false, "cluster healthy fraction is below its serving floor"
		}

		avail, err := p.dir.Available(clusterID)
		if err != nil {
			return false, err.Error()
		}
		ids := make([]string, 0, len(avail))
		for _, n := range avail {
			ids = append(ids, n.ID)
		}

		agg, ok := Aggregate(samples, ids)
		if !ok {
			return false, "one or more available nodes did not report a sample"
		}
		if agg.MeanErrorRate > budgets.ErrorRate {
			return false, fmt.Sprintf("error rate %.4f exceeds budget %.4f", agg.MeanErrorRate, budgets.ErrorRate)
		}
		if agg.MaxP95LatencyMs > budgets.P95LatencyMs {
			return false, fmt.Sprintf("p95 latency %.1fms exceeds budget %.1fms", agg.MaxP95LatencyMs, budgets.P95LatencyMs)
		}
		return true, ""
	}
}

// AggregateResult summarizes a node set's samples. Error rates
// average across the set; latency takes the worst node's p95, which
// keeps the check conservative.
type AggregateResult struct {
	MeanErrorRate   float64
	MaxP95LatencyMs float64
}

// Aggregate folds the samples for the given node IDs. ok is false if
// any of them has no sample.
func Aggregate(samples map[string]types.HealthSnapshot, ids []string) (AggregateResult, bool) {
	if len(ids) == 0 {
		return AggregateResult{}, true
	}
	var agg AggregateResult
	for _, id := range ids {
		snap, ok := samples[id]
		if !ok {
			return AggregateResult{}, false
		}
		agg.MeanErrorRate += snap.ErrorRate
		if snap.P95LatencyMs > agg.MaxP95LatencyMs {
			agg.MaxP95LatencyMs = snap.P95LatencyMs
		}
	}
	agg.MeanErrorRate /= float64(len(ids))
	return agg, true
}

func filterSamples(samples map[string]types.HealthSnapshot, ids []string) map[string]types.HealthSnapshot {
	out := make(map[string]types.HealthSnapshot, len(ids))
	for _, id := range ids {
		if snap, ok := samples[id]; ok {
			out[id] = snap
		}
	}
	return out
}
