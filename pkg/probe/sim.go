package probe

import (
	"context"
	"sync"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/types"
)

// SimSource is a scripted health source for tests and the simulator.
// Every node reports the default snapshot until a per-node override
// or failure is installed.
type SimSource struct {
	mu        sync.Mutex
	clk       clock.Clock
	defaults  types.HealthSnapshot
	perNode   map[string]types.HealthSnapshot
	failures  map[string]error
	transient map[string]int
}

// NewSimSource creates a source whose nodes all report comfortable
// vitals
func NewSimSource(clk clock.Clock) *SimSource {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &SimSource{
		clk: clk,
		defaults: types.HealthSnapshot{
			CPUPercent:    25,
			MemoryPercent: 40,
			P95LatencyMs:  45,
			ErrorRate:     0.001,
		},
		perNode:   make(map[string]types.HealthSnapshot),
		failures:  make(map[string]error),
		transient: make(map[string]int),
	}
}

// SetDefault replaces the snapshot reported by unscripted nodes
func (s *SimSource) SetDefault(snap types.HealthSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = snap
}

// SetNode scripts a specific node's snapshot
func (s *SimSource) SetNode(nodeID string, snap types.HealthSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perNode[nodeID] = snap
	delete(s.failures, nodeID)
}

// FailNode makes a node fail every sample with the given error
// (typically ErrUnreachable)
func (s *SimSource) FailNode(nodeID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[nodeID] = err
}

// Recover clears any scripted failure for the node
func (s *SimSource) Recover(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, nodeID)
	delete(s.transient, nodeID)
}

// TransientFailures makes the next n samples of a node fail with
// ErrTransient before it recovers
func (s *SimSource) TransientFailures(nodeID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transient[nodeID] = n
}

// Sample implements Source
func (s *SimSource) Sample(ctx context.Context, node *types.Node) (types.HealthSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.HealthSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.transient[node.ID]; n > 0 {
		s.transient[node.ID] = n - 1
		return types.HealthSnapshot{}, ErrTransient
	}
	if err, ok := s.failures[node.ID]; ok {
		return types.HealthSnapshot{}, err
	}

	snap, ok := s.perNode[node.ID]
	if !ok {
		snap = s.defaults
	}
	snap.SampledAt = s.clk.Now()
	return snap, nil
}
