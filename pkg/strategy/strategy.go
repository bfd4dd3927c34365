package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/driver"
	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/probe"
	"github.com/modkernel/switchyard/pkg/registry"
	"github.com/modkernel/switchyard/pkg/types"
)

// Rollout tunable defaults. Callers normally override these from
// configuration; the zero Params is still safe to run.
const (
	DefaultSettleTimeout     = 60 * time.Second
	DefaultBatchSettleWindow = 2 * time.Minute
	DefaultStepHoldWindow    = 5 * time.Minute
	DefaultBlueHoldWindow    = 15 * time.Minute
	DefaultReadinessFraction = 0.95

	DefaultErrorRateBudget           = 0.01
	DefaultCanaryErrorRateBudget     = 0.005
	DefaultErrorRateRegressionBudget = 0.005
	DefaultLatencyRegressionBudgetMs = 50.0
	DefaultP95LatencyBudgetMs        = 500.0
)

// DefaultCanarySteps are the cumulative coverage percentages a canary
// rollout walks through when none are configured.
var DefaultCanarySteps = []int{10, 30, 50, 100}

// Strategy executes one rollout against one cluster. Instances are
// single-use: Apply records every node it moved so that Rollback can
// revert exactly those, and Report exposes the bookkeeping afterward.
type Strategy interface {
	Kind() types.StrategyKind

	// Apply moves the cluster to the module's version. A nil return
	// means every targeted node runs the new version and the cluster
	// held its health gates. On error the caller decides whether to
	// invoke Rollback; Apply itself never reverts.
	Apply(ctx context.Context, cluster *types.Cluster, module *types.Module, sink Sink) error

	// Rollback reverts the nodes Apply updated, newest first. It is
	// best-effort: nodes that cannot be reverted are marked unhealthy
	// and reported as affected rather than aborting the sweep.
	Rollback(ctx context.Context, sink Sink) error

	// Report returns the rollout bookkeeping accumulated so far.
	Report() Report
}

// Sink receives rollout progress. Implementations must not block;
// strategies call it inline between node operations.
type Sink interface {
	Progress(fraction float64, message string)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(fraction float64, message string)

func (f SinkFunc) Progress(fraction float64, message string) { f(fraction, message) }

// NopSink discards progress
var NopSink Sink = SinkFunc(func(float64, string) {})

// Deps are the collaborators a strategy drives. Registry and Probe are
// the in-process authorities; Driver and Provisioner are the host
// seams doing the actual module swaps and machine lifecycle.
type Deps struct {
	Registry    *registry.Registry
	Probe       *probe.Probe
	Driver      driver.NodeDriver
	Provisioner driver.NodeProvisioner // required for blue-green only
	Clock       clock.Clock
}

// Params carry the rollout tunables. Zero values fall back to the
// package defaults above, except Parallelism and BatchSize where zero
// means "derive from cluster size".
type Params struct {
	// Parallelism bounds concurrent node applies in a single wave.
	// Zero means every node of the wave at once.
	Parallelism int

	// SettleTimeout bounds how long direct rollouts and blue-green
	// green pools may take to become healthy after an apply.
	SettleTimeout time.Duration

	// BatchSize is the rolling batch width. Zero means a third of the
	// cluster, rounded up.
	BatchSize int

	// MaxUnavailable caps how many nodes may be out of service at any
	// instant during a rolling update. Zero means BatchSize.
	MaxUnavailable int

	// BatchSettleWindow is how long each rolling batch must hold its
	// health gates before the next batch starts.
	BatchSettleWindow time.Duration

	// ReadinessFraction is the share of the green pool that must be
	// healthy before traffic flips to it.
	ReadinessFraction float64

	// BlueHoldWindow is how long the old pool stays warm after a flip
	// before it is retired.
	BlueHoldWindow time.Duration

	// CanarySteps are cumulative coverage percentages, ending at 100.
	CanarySteps []int

	// StepHoldWindow is how long each canary step must hold.
	StepHoldWindow time.Duration

	// Budgets are the standard aggregate ceilings for settle checks.
	Budgets probe.Budgets

	// CanaryBudgets are the tightened ceilings canary nodes must hold
	// during their step windows.
	CanaryBudgets probe.Budgets

	// ErrorRateRegressionBudget is the largest error-rate excess the
	// canary set may show over the untouched remainder.
	ErrorRateRegressionBudget float64

	// LatencyRegressionBudgetMs is the largest p95 excess, in
	// milliseconds, the canary set may show over the remainder.
	LatencyRegressionBudgetMs float64
}

func (p Params) withDefaults() Params {
	if p.SettleTimeout <= 0 {
		p.SettleTimeout = DefaultSettleTimeout
	}
	if p.BatchSettleWindow <= 0 {
		p.BatchSettleWindow = DefaultBatchSettleWindow
	}
	if p.ReadinessFraction <= 0 {
		p.ReadinessFraction = DefaultReadinessFraction
	}
	if p.BlueHoldWindow <= 0 {
		p.BlueHoldWindow = DefaultBlueHoldWindow
	}
	if len(p.CanarySteps) == 0 {
		p.CanarySteps = DefaultCanarySteps
	}
	if p.StepHoldWindow <= 0 {
		p.StepHoldWindow = DefaultStepHoldWindow
	}
	if p.Budgets.ErrorRate <= 0 {
		p.Budgets.ErrorRate = DefaultErrorRateBudget
	}
	if p.Budgets.P95LatencyMs <= 0 {
		p.Budgets.P95LatencyMs = DefaultP95LatencyBudgetMs
	}
	if p.CanaryBudgets.ErrorRate <= 0 {
		p.CanaryBudgets.ErrorRate = DefaultCanaryErrorRateBudget
	}
	if p.CanaryBudgets.P95LatencyMs <= 0 {
		p.CanaryBudgets.P95LatencyMs = p.Budgets.P95LatencyMs
	}
	if p.ErrorRateRegressionBudget <= 0 {
		p.ErrorRateRegressionBudget = DefaultErrorRateRegressionBudget
	}
	if p.LatencyRegressionBudgetMs <= 0 {
		p.LatencyRegressionBudgetMs = DefaultLatencyRegressionBudgetMs
	}
	return p
}

// New constructs a single-use strategy instance for one rollout
func New(kind types.StrategyKind, deps Deps, params Params) (Strategy, error) {
	if deps.Registry == nil || deps.Probe == nil || deps.Driver == nil {
		return nil, fmt.Errorf("%w: strategy requires a registry, a probe, and a node driver", types.ErrValidation)
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}

	switch kind {
	case types.StrategyDirect:
		return &directStrategy{base: newBase(kind, deps, params)}, nil
	case types.StrategyRolling:
		return &rollingStrategy{base: newBase(kind, deps, params)}, nil
	case types.StrategyBlueGreen:
		if deps.Provisioner == nil {
			return nil, fmt.Errorf("%w: blue-green requires a node provisioner", types.ErrValidation)
		}
		return newBlueGreen(deps, params), nil
	case types.StrategyCanary:
		return &canaryStrategy{base: newBase(kind, deps, params)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", types.ErrValidation, kind)
	}
}

// Report is the rollout bookkeeping a strategy accumulates. Updated
// keeps every node that reached the target version, including ones
// later reverted; RolledBack is the subset that was reverted; Affected
// lists nodes a failed apply or failed rollback left unhealthy.
type Report struct {
	Updated    []string
	RolledBack []string
	Affected   []string
}

// report is the mutable, mutex-guarded form shared across the apply
// goroutines of a wave.
type report struct {
	mu         sync.Mutex
	updated    []string
	rolledBack []string
	affected   []string
}

func (r *report) addUpdated(id string) {
	r.mu.Lock()
	r.updated = append(r.updated, id)
	r.mu.Unlock()
}

func (r *report) addRolledBack(id string) {
	r.mu.Lock()
	r.rolledBack = append(r.rolledBack, id)
	r.mu.Unlock()
}

func (r *report) addAffected(id string) {
	r.mu.Lock()
	r.affected = append(r.affected, id)
	r.mu.Unlock()
}

// dropAffected removes ids that no longer exist in the cluster, such
// as a retired green pool.
func (r *report) dropAffected(ids []string) {
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	r.mu.Lock()
	kept := r.affected[:0]
	for _, id := range r.affected {
		if !gone[id] {
			kept = append(kept, id)
		}
	}
	r.affected = kept
	r.mu.Unlock()
}

func (r *report) updatedSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.updated...)
}

func (r *report) snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Report{
		Updated:    append([]string(nil), r.updated...),
		RolledBack: append([]string(nil), r.rolledBack...),
		Affected:   append([]string(nil), r.affected...),
	}
}

// base carries the state and node-level mechanics shared by every
// strategy kind.
type base struct {
	kind   types.StrategyKind
	deps   Deps
	params Params
	logger zerolog.Logger
	rep    report
}

func newBase(kind types.StrategyKind, deps Deps, params Params) base {
	return base{
		kind:   kind,
		deps:   deps,
		params: params.withDefaults(),
		logger: log.WithComponent("strategy").With().Str("strategy", string(kind)).Logger(),
	}
}

func (b *base) Kind() types.StrategyKind { return b.kind }

func (b *base) Report() Report { return b.rep.snapshot() }

// Rollback reverts every node Apply updated, newest first. Blue-green
// overrides this with pool retirement.
func (b *base) Rollback(ctx context.Context, sink Sink) error {
	return b.rollbackUpdated(ctx, sink)
}

// applyNodes claims, updates, and releases each node of a wave in
// parallel, bounded by parallelism. The first error cancels the
// remaining applies through the group context; a node whose apply dies
// on that cancellation is handed back untouched rather than failed.
func (b *base) applyNodes(ctx context.Context, nodes []*types.Node, module *types.Module, parallelism int) error {
	if parallelism <= 0 || parallelism > len(nodes) {
		parallelism = len(nodes)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, node := range nodes {
		g.Go(func() error {
			return b.applyOne(gctx, node, module)
		})
	}
	return g.Wait()
}

func (b *base) applyOne(ctx context.Context, node *types.Node, module *types.Module) error {
	if err := ctx.Err(); err != nil {
		return types.Failure(types.FailureCancelled, err)
	}
	if err := b.deps.Registry.MarkUpdating(node.ID); err != nil {
		return types.Failure(types.FailureInternal, err)
	}

	if err := b.deps.Driver.ApplyModule(ctx, node, module); err != nil {
		if ctx.Err() != nil {
			// Aborted before the node was mutated. The drivers
			// guarantee a cancelled apply leaves the prior version
			// loaded, so the claim is released as-is.
			if relErr := b.deps.Registry.ReleaseUpdate(node.ID); relErr != nil {
				b.logger.Warn().Str("node_id", node.ID).Err(relErr).Msg("Failed to release abandoned claim")
			}
			return types.Failure(types.FailureCancelled, ctx.Err())
		}
		if failErr := b.deps.Registry.FailUpdate(node.ID, err.Error()); failErr != nil {
			b.logger.Warn().Str("node_id", node.ID).Err(failErr).Msg("Failed to record apply failure")
		}
		b.rep.addAffected(node.ID)
		return types.Failuref(types.FailureNodeDriver, "applying %s to node %s: %v", module.Ref(), node.ID, err)
	}

	if err := b.deps.Registry.CompleteUpdate(node.ID, module.Version); err != nil {
		return types.Failure(types.FailureInternal, err)
	}
	b.rep.addUpdated(node.ID)
	b.logger.Info().Str("node_id", node.ID).Str("version", module.Version).Msg("Node updated")
	return nil
}

// rollbackUpdated walks the updated list newest first and reverts each
// node to its prior version. Nodes that cannot be reverted are marked
// unhealthy, listed as affected, and the sweep continues.
func (b *base) rollbackUpdated(ctx context.Context, sink Sink) error {
	updated := b.rep.updatedSnapshot()
	if len(updated) == 0 {
		return nil
	}

	failed := 0
	for i := len(updated) - 1; i >= 0; i-- {
		id := updated[i]
		sink.Progress(float64(len(updated)-1-i)/float64(len(updated)), "reverting node "+id)
		if !b.rollbackOne(ctx, id) {
			failed++
		}
	}
	if failed > 0 {
		return types.Failuref(types.FailureNodeDriver, "%d of %d node(s) could not be reverted", failed, len(updated))
	}
	sink.Progress(1, fmt.Sprintf("reverted %d node(s)", len(updated)))
	return nil
}

func (b *base) rollbackOne(ctx context.Context, nodeID string) bool {
	node, err := b.deps.Registry.GetNode(nodeID)
	if err != nil {
		b.logger.Warn().Str("node_id", nodeID).Err(err).Msg("Node vanished before rollback")
		return false
	}
	if err := b.deps.Registry.MarkUpdating(nodeID); err != nil {
		b.rep.addAffected(nodeID)
		b.logger.Error().Str("node_id", nodeID).Err(err).Msg("Cannot claim node for rollback")
		return false
	}

	if err := b.deps.Driver.RollbackModule(ctx, node, node.PriorVersion); err != nil {
		if failErr := b.deps.Registry.FailUpdate(nodeID, "rollback failed: "+err.Error()); failErr != nil {
			b.logger.Warn().Str("node_id", nodeID).Err(failErr).Msg("Failed to record rollback failure")
		}
		b.rep.addAffected(nodeID)
		b.logger.Error().Str("node_id", nodeID).Err(err).Msg("Node rollback failed")
		return false
	}

	if err := b.deps.Registry.RollbackUpdate(nodeID); err != nil {
		b.logger.Warn().Str("node_id", nodeID).Err(err).Msg("Failed to record rollback")
		return false
	}
	b.rep.addRolledBack(nodeID)
	b.logger.Info().Str("node_id", nodeID).Str("version", node.PriorVersion).Msg("Node reverted")
	return true
}

// cancelFailure classifies a settle error: context death maps to a
// cancellation, anything else to a health gate violation.
func cancelFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return types.Failure(types.FailureCancelled, ctx.Err())
	}
	return types.Failure(types.FailureHealthDegradation, err)
}

// batches splits nodes into fixed-size groups, preserving order. The
// last group holds the remainder.
func batches(nodes []*types.Node, size int) [][]*types.Node {
	var out [][]*types.Node
	for i := 0; i < len(nodes); i += size {
		end := i + size
		if end > len(nodes) {
			end = len(nodes)
		}
		out = append(out, nodes[i:end])
	}
	return out
}

// trancheSize converts a cumulative coverage percentage into a node
// count, rounding up so a 10% step on a 5-node cluster still covers a
// node.
func trancheSize(percent, total int) int {
	return (percent*total + 99) / 100
}

func nodeIDs(nodes []*types.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func joinIDs(nodes []*types.Node) string {
	return strings.Join(nodeIDs(nodes), ", ")
}
