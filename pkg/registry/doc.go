/*
Package registry tracks clusters, their nodes, and node health state.

The registry is the single authority over cluster membership and node
state. One cluster serves each environment. Strategies, the heartbeat
monitor, and operators all mutate nodes exclusively through registry
methods, which is how the single-writer-per-node discipline is kept:
a deployment step claims a node by flipping it to updating, and the
heartbeat path never touches a claimed node.

# Architecture

	┌───────────────────── REGISTRY ─────────────────────────┐
	│                                                          │
	│  environment ──► Cluster ──► [Node, Node, Node, ...]    │
	│                    │           (registration order)      │
	│                    │                                     │
	│                    └── ActiveColor (blue | green)        │
	│                        flipped only by compare-and-set   │
	│                                                          │
	│  writers:                                                │
	│    Heartbeat(node, snapshot)   health + threshold state  │
	│    Monitor sweep               grace expiry → unhealthy  │
	│    MarkUpdating/Complete/      deployment step handshake │
	│      Fail/RollbackUpdate                                 │
	│    Drain / Resume              operator hold             │
	│                                                          │
	│  readers get copies: GetCluster, GetNode, Available,     │
	│  ListClusters — never live pointers                      │
	└──────────────────────────────────────────────────────────┘

# Node State Machine

	             register
	                │
	                ▼
	            ┌───────┐   heartbeat within thresholds   ┌─────────┐
	            │unknown│ ───────────────────────────────► │ healthy │
	            └───────┘                                  └────┬────┘
	                │  grace expired                            │
	                ▼                                           ▼
	          ┌──────────┐    threshold breach           ┌──────────┐
	          │unhealthy │ ◄───────────────────────────── │ degraded │
	          └──────────┘      (and back on recovery)    └──────────┘

	Two hold states sit outside the heartbeat path: updating (claimed
	by a deployment step) and draining (claimed by an operator). The
	sweep and heartbeat evaluation skip both.

# Availability

A node is available for traffic iff all of:
  - state is healthy
  - its last heartbeat is within the configured grace
  - its color matches the cluster's active color

Available returns nodes in stable order: registration order with ties
broken by ID. Strategies depend on this order for batch and tranche
selection, so it never changes between calls.

# Degradation Thresholds

A heartbeat sample flips a node to degraded when any of these hold:

	cpu > 85%  |  memory > 85%  |  error rate > 2%  |  p95 > latency budget

The latency budget is per-environment configuration; the other three
are fixed. Degraded nodes stay in cluster membership and count toward
the healthy-fraction denominator, but receive no new traffic.

# Usage

	reg := registry.New(registry.Config{
		HeartbeatGrace:  30 * time.Second,
		LatencyBudgetMs: budgets,
	}, clock.NewSystem())

	cluster, _ := reg.EnsureCluster(types.EnvProduction)
	_ = reg.Register(&types.Node{ID: "node-1", ClusterID: cluster.ID, Address: "10.0.0.1:9000"})

	mon := registry.NewMonitor(reg, 5*time.Second, clock.NewSystem())
	mon.Start()
	defer mon.Stop()

# See Also

  - pkg/strategy for the MarkUpdating/CompleteUpdate handshake
  - pkg/probe for where heartbeat samples come from
  - pkg/driver for provisioning the node sets AttachNodes ingests
*/
package registry
