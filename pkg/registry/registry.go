package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/metrics"
	"github.com/modkernel/switchyard/pkg/types"
)

// Degradation thresholds. A node whose latest snapshot crosses any of
// these is Degraded: in cluster membership but not available for new
// traffic. The latency ceiling is per-environment configuration.
const (
	DegradedCPUPercent    = 85.0
	DegradedMemoryPercent = 85.0
	DegradedErrorRate     = 0.02
)

// Config holds the registry's health evaluation tunables
type Config struct {
	// HeartbeatGrace is how stale a node's last heartbeat may be
	// before the node is marked unhealthy
	HeartbeatGrace time.Duration

	// LatencyBudgetMs is the per-environment p95 ceiling used by the
	// degraded-state evaluation
	LatencyBudgetMs map[types.Environment]float64

	// MinHealthyFraction is the per-environment serving threshold
	MinHealthyFraction map[types.Environment]float64
}

// Registry is the authority over cluster membership and node state.
// One cluster exists per environment. All node state transitions flow
// through registry methods; strategies claim a node by flipping it to
// updating, and the heartbeat path leaves updating nodes alone.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	clk      clock.Clock
	logger   zerolog.Logger
	clusters map[types.Environment]*types.Cluster
	byID     map[string]*types.Cluster
	nodes    map[string]*types.Node
}

// New creates an empty registry
func New(cfg Config, clk clock.Clock) *Registry {
	if cfg.HeartbeatGrace <= 0 {
		cfg.HeartbeatGrace = 30 * time.Second
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Registry{
		cfg:      cfg,
		clk:      clk,
		logger:   log.WithComponent("registry"),
		clusters: make(map[types.Environment]*types.Cluster),
		byID:     make(map[string]*types.Cluster),
		nodes:    make(map[string]*types.Node),
	}
}

// EnsureCluster returns the cluster serving the environment, creating
// it if none exists. New clusters start with the blue pool active.
func (r *Registry) EnsureCluster(env types.Environment) (*types.Cluster, error) {
	if !env.Valid() {
		return nil, fmt.Errorf("%w: unknown environment %q", types.ErrValidation, env)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clusters[env]; ok {
		return copyCluster(c), nil
	}

	c := &types.Cluster{
		ID:          uuid.New().String(),
		Environment: env,
		ActiveColor: types.ColorBlue,
		CreatedAt:   r.clk.Now(),
	}
	r.clusters[env] = c
	r.byID[c.ID] = c

	r.logger.Info().
		Str("cluster_id", c.ID).
		Str("environment", string(env)).
		Msg("Cluster created")

	return copyCluster(c), nil
}

// GetCluster returns a snapshot of the environment's cluster
func (r *Registry) GetCluster(env types.Environment) (*types.Cluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clusters[env]
	if !ok {
		return nil, fmt.Errorf("%w: no cluster for environment %q", types.ErrNotFound, env)
	}
	return copyCluster(c), nil
}

// GetClusterByID returns a snapshot of the cluster with the given ID
func (r *Registry) GetClusterByID(clusterID string) (*types.Cluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[clusterID]
	if !ok {
		return nil, fmt.Errorf("%w: cluster %s", types.ErrNotFound, clusterID)
	}
	return copyCluster(c), nil
}

// ListClusters returns snapshots of every cluster. Implements the
// metrics collector's cluster source.
func (r *Registry) ListClusters() []*types.Cluster {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Cluster, 0, len(r.clusters))
	for _, c := range r.clusters {
		out = append(out, copyCluster(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Environment < out[j].Environment })
	return out
}

// Register adds a node to the cluster named by its ClusterID. The node
// reports the module version it currently runs. Re-registering an
// existing node ID refreshes the address and reported version, resets
// the state to unknown, and stamps a fresh heartbeat.
func (r *Registry) Register(node *types.Node) error {
	if node == nil || node.ID == "" {
		return fmt.Errorf("%w: node ID is required", types.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cluster, ok := r.byID[node.ClusterID]
	if !ok {
		return fmt.Errorf("%w: cluster %s", types.ErrNotFound, node.ClusterID)
	}

	now := r.clk.Now()
	if existing, ok := r.nodes[node.ID]; ok {
		existing.Address = node.Address
		existing.State = types.NodeStateUnknown
		existing.CurrentVersion = node.CurrentVersion
		existing.LastHeartbeat = now
		r.logger.Debug().Str("node_id", node.ID).Msg("Node re-registered")
		return nil
	}

	n := &types.Node{
		ID:             node.ID,
		ClusterID:      cluster.ID,
		Address:        node.Address,
		State:          types.NodeStateUnknown,
		Color:          node.Color,
		CurrentVersion: node.CurrentVersion,
		LastHeartbeat:  now,
		CreatedAt:      now,
	}
	if n.Color == "" {
		n.Color = cluster.ActiveColor
	}
	r.nodes[n.ID] = n
	cluster.Nodes = append(cluster.Nodes, n)

	r.logger.Info().
		Str("node_id", n.ID).
		Str("cluster_id", cluster.ID).
		Str("address", n.Address).
		Msg("Node registered")

	return nil
}

// Deregister removes a node. Removing an unknown node is a no-op.
func (r *Registry) Deregister(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return nil
	}
	delete(r.nodes, nodeID)
	if cluster, ok := r.byID[node.ClusterID]; ok {
		cluster.Nodes = removeNode(cluster.Nodes, nodeID)
	}

	r.logger.Info().Str("node_id", nodeID).Msg("Node deregistered")
	return nil
}

// GetNode returns a snapshot of one node
func (r *Registry) GetNode(nodeID string) (*types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", types.ErrNotFound, nodeID)
	}
	return copyNode(node), nil
}

// Available returns the nodes currently eligible for traffic, in
// stable order: registration order, ties broken by ID. A node is
// available iff it is healthy, its heartbeat is within grace, and it
// belongs to the cluster's active color pool.
func (r *Registry) Available(clusterID string) ([]*types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cluster, ok := r.byID[clusterID]
	if !ok {
		return nil, fmt.Errorf("%w: cluster %s", types.ErrNotFound, clusterID)
	}

	now := r.clk.Now()
	var out []*types.Node
	for _, n := range cluster.Nodes {
		if r.availableLocked(n, cluster, now) {
			out = append(out, copyNode(n))
		}
	}
	return out, nil
}

func (r *Registry) availableLocked(n *types.Node, c *types.Cluster, now time.Time) bool {
	if n.State != types.NodeStateHealthy {
		return false
	}
	if now.Sub(n.LastHeartbeat) > r.cfg.HeartbeatGrace {
		return false
	}
	return n.Color == c.ActiveColor
}

// Heartbeat records a health sample for a node. The sample always
// lands in the node's health fields; the node state is re-evaluated
// against the degradation thresholds unless a strategy holds the node
// (updating) or an operator does (draining).
func (r *Registry) Heartbeat(nodeID string, snap types.HealthSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %s", types.ErrNotFound, nodeID)
	}

	now := r.clk.Now()
	if snap.SampledAt.IsZero() {
		snap.SampledAt = now
	}
	node.LastHeartbeat = now
	node.Health = &snap

	if node.State == types.NodeStateUpdating || node.State == types.NodeStateDraining {
		return nil
	}

	cluster := r.byID[node.ClusterID]
	r.setStateLocked(node, r.stateForSnapshot(cluster.Environment, &snap))
	return nil
}

// stateForSnapshot maps a health sample to healthy or degraded
func (r *Registry) stateForSnapshot(env types.Environment, snap *types.HealthSnapshot) types.NodeState {
	budget, ok := r.cfg.LatencyBudgetMs[env]
	if !ok {
		budget = 500
	}
	if snap.CPUPercent > DegradedCPUPercent ||
		snap.MemoryPercent > DegradedMemoryPercent ||
		snap.ErrorRate > DegradedErrorRate ||
		snap.P95LatencyMs > budget {
		return types.NodeStateDegraded
	}
	return types.NodeStateHealthy
}

// EvaluateHealth sweeps every node once: heartbeats older than grace
// force unhealthy, otherwise the last sample is re-checked against the
// thresholds. Nodes held by a strategy or an operator are skipped.
// Called by the Monitor on its interval; exported for tests and hosts
// that drive their own cadence.
func (r *Registry) EvaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	for _, cluster := range r.clusters {
		for _, node := range cluster.Nodes {
			if node.State == types.NodeStateUpdating || node.State == types.NodeStateDraining {
				continue
			}
			if now.Sub(node.LastHeartbeat) > r.cfg.HeartbeatGrace {
				if node.State != types.NodeStateUnhealthy {
					r.logger.Warn().
						Str("node_id", node.ID).
						Dur("stale", now.Sub(node.LastHeartbeat)).
						Msg("Node missed heartbeat grace, marking unhealthy")
				}
				r.setStateLocked(node, types.NodeStateUnhealthy)
				continue
			}
			if node.Health == nil {
				continue
			}
			r.setStateLocked(node, r.stateForSnapshot(cluster.Environment, node.Health))
		}
	}
}

// setStateLocked applies a state change and counts the transition.
// Caller holds r.mu.
func (r *Registry) setStateLocked(node *types.Node, next types.NodeState) {
	if node.State == next {
		return
	}
	node.State = next
	metrics.HeartbeatTransitionsTotal.WithLabelValues(string(next)).Inc()
}

// MarkUpdating claims a node for a deployment step. Fails with a
// conflict if another step already holds the node, and refuses
// draining nodes. Unhealthy nodes may be claimed so rollback can
// repair them.
func (r *Registry) MarkUpdating(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %s", types.ErrNotFound, nodeID)
	}
	switch node.State {
	case types.NodeStateUpdating:
		return fmt.Errorf("%w: node %s is already updating", types.ErrConflict, nodeID)
	case types.NodeStateDraining:
		return fmt.Errorf("%w: node %s is draining", types.ErrConflict, nodeID)
	}
	r.setStateLocked(node, types.NodeStateUpdating)
	return nil
}

// CompleteUpdate records a successful module swap on a claimed node.
// The running version advances, the displaced version is retained for
// rollback, and the node returns to healthy pending its next sample.
func (r *Registry) CompleteUpdate(nodeID, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %s", types.ErrNotFound, nodeID)
	}
	if node.State != types.NodeStateUpdating {
		return fmt.Errorf("%w: node %s is not updating", types.ErrInvalidTransition, nodeID)
	}
	node.PriorVersion = node.CurrentVersion
	node.CurrentVersion = version
	r.setStateLocked(node, types.NodeStateHealthy)
	metrics.NodesUpdatedTotal.Inc()

	r.logger.Info().
		Str("node_id", nodeID).
		Str("version", version).
		Str("prior_version", node.PriorVersion).
		Msg("Node updated")
	return nil
}

// FailUpdate records a failed swap on a claimed node, leaving it
// unhealthy with the failure reason logged
func (r *Registry) FailUpdate(nodeID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %s", types.ErrNotFound, nodeID)
	}
	if node.State != types.NodeStateUpdating {
		return fmt.Errorf("%w: node %s is not updating", types.ErrInvalidTransition, nodeID)
	}
	r.setStateLocked(node, types.NodeStateUnhealthy)

	r.logger.Error().
		Str("node_id", nodeID).
		Str("reason", reason).
		Msg("Node update failed")
	return nil
}

// ReleaseUpdate returns a claimed node to service without a version
// change. Used when an apply is abandoned before the node was
// mutated, such as a cancellation racing a parallel batch.
func (r *Registry) ReleaseUpdate(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %s", types.ErrNotFound, nodeID)
	}
	if node.State != types.NodeStateUpdating {
		return fmt.Errorf("%w: node %s is not updating", types.ErrInvalidTransition, nodeID)
	}
	r.setStateLocked(node, types.NodeStateHealthy)
	return nil
}

// RollbackUpdate reverts a claimed node to its prior version. The
// prior version is kept so a later inspection can see what was rolled
// back from; a rollback is never rolled forward within one execution.
func (r *Registry) RollbackUpdate(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %s", types.ErrNotFound, nodeID)
	}
	if node.State != types.NodeStateUpdating {
		return fmt.Errorf("%w: node %s is not updating", types.ErrInvalidTransition, nodeID)
	}
	rolledFrom := node.CurrentVersion
	node.CurrentVersion = node.PriorVersion
	r.setStateLocked(node, types.NodeStateHealthy)
	metrics.NodesRolledBackTotal.Inc()

	r.logger.Warn().
		Str("node_id", nodeID).
		Str("version", node.CurrentVersion).
		Str("rolled_back_from", rolledFrom).
		Msg("Node rolled back")
	return nil
}

// SwitchColor atomically flips the cluster's active pool. The flip is
// a compare-and-set: it fails with a conflict unless the cluster's
// active color still equals from. Callers never observe a
// partially-switched cluster.
func (r *Registry) SwitchColor(clusterID string, from, to types.Color) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cluster, ok := r.byID[clusterID]
	if !ok {
		return fmt.Errorf("%w: cluster %s", types.ErrNotFound, clusterID)
	}
	if cluster.ActiveColor != from {
		return fmt.Errorf("%w: active color is %s, not %s", types.ErrConflict, cluster.ActiveColor, from)
	}
	cluster.ActiveColor = to
	metrics.ColorFlipsTotal.WithLabelValues(string(cluster.Environment)).Inc()

	r.logger.Info().
		Str("cluster_id", clusterID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Active color switched")
	return nil
}

// Drain takes a node out of traffic for maintenance. Draining an
// already-draining node is a no-op; a node held by a deployment step
// cannot be drained.
func (r *Registry) Drain(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %s", types.ErrNotFound, nodeID)
	}
	if node.State == types.NodeStateDraining {
		return nil
	}
	if node.State == types.NodeStateUpdating {
		return fmt.Errorf("%w: node %s is updating", types.ErrConflict, nodeID)
	}
	r.setStateLocked(node, types.NodeStateDraining)

	r.logger.Info().Str("node_id", nodeID).Msg("Node draining")
	return nil
}

// Resume returns a drained node to service. Its state becomes unknown
// until the next heartbeat or sweep re-evaluates it.
func (r *Registry) Resume(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %s", types.ErrNotFound, nodeID)
	}
	if node.State != types.NodeStateDraining {
		return fmt.Errorf("%w: node %s is not draining", types.ErrInvalidTransition, nodeID)
	}
	r.setStateLocked(node, types.NodeStateUnknown)

	r.logger.Info().Str("node_id", nodeID).Msg("Node resumed")
	return nil
}

// AttachNodes adds a provisioned batch to a cluster in one step,
// sorted by ID for a deterministic order. Used by blue-green to attach
// a green pool. Nodes arrive with the state and color the provisioner
// reports.
func (r *Registry) AttachNodes(clusterID string, nodes []*types.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cluster, ok := r.byID[clusterID]
	if !ok {
		return fmt.Errorf("%w: cluster %s", types.ErrNotFound, clusterID)
	}

	batch := make([]*types.Node, len(nodes))
	copy(batch, nodes)
	sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })

	now := r.clk.Now()
	for _, node := range batch {
		if node.ID == "" {
			return fmt.Errorf("%w: node ID is required", types.ErrValidation)
		}
		if _, exists := r.nodes[node.ID]; exists {
			return fmt.Errorf("%w: node %s already registered", types.ErrConflict, node.ID)
		}
		n := copyNode(node)
		n.ClusterID = cluster.ID
		n.LastHeartbeat = now
		n.CreatedAt = now
		if n.State == "" {
			n.State = types.NodeStateUnknown
		}
		r.nodes[n.ID] = n
		cluster.Nodes = append(cluster.Nodes, n)
	}

	r.logger.Info().
		Str("cluster_id", clusterID).
		Int("count", len(batch)).
		Msg("Nodes attached")
	return nil
}

// RetireNodes removes a batch of nodes from a cluster. Missing IDs are
// skipped so retirement can be retried.
func (r *Registry) RetireNodes(clusterID string, nodeIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cluster, ok := r.byID[clusterID]
	if !ok {
		return fmt.Errorf("%w: cluster %s", types.ErrNotFound, clusterID)
	}

	retired := 0
	for _, id := range nodeIDs {
		node, ok := r.nodes[id]
		if !ok || node.ClusterID != cluster.ID {
			continue
		}
		delete(r.nodes, id)
		cluster.Nodes = removeNode(cluster.Nodes, id)
		retired++
	}

	r.logger.Info().
		Str("cluster_id", clusterID).
		Int("count", retired).
		Msg("Nodes retired")
	return nil
}

// Serving reports whether the cluster's healthy fraction meets its
// environment's serving threshold
func (r *Registry) Serving(clusterID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cluster, ok := r.byID[clusterID]
	if !ok {
		return false, fmt.Errorf("%w: cluster %s", types.ErrNotFound, clusterID)
	}
	return cluster.HealthyFraction() >= r.minHealthyFraction(cluster.Environment), nil
}

func (r *Registry) minHealthyFraction(env types.Environment) float64 {
	if f, ok := r.cfg.MinHealthyFraction[env]; ok {
		return f
	}
	return 0.5
}

func removeNode(nodes []*types.Node, nodeID string) []*types.Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.ID != nodeID {
			out = append(out, n)
		}
	}
	return out
}

func copyNode(n *types.Node) *types.Node {
	c := *n
	if n.Health != nil {
		h := *n.Health
		c.Health = &h
	}
	return &c
}

func copyCluster(c *types.Cluster) *types.Cluster {
	out := *c
	out.Nodes = make([]*types.Node, len(c.Nodes))
	for i, n := range c.Nodes {
		out.Nodes[i] = copyNode(n)
	}
	return &out
}
