package metrics

import (
	"time"

	"github.com/modkernel/switchyard/pkg/types"
)

// ClusterSource supplies cluster topology for gauge collection
type ClusterSource interface {
	ListClusters() []*types.Cluster
}

// ExecutionSource supplies execution record counts for gauge collection
type ExecutionSource interface {
	StatusCounts() map[types.PipelineStatus]int
}

// Collector periodically refreshes topology and tracker gauges
type Collector struct {
	clusters   ClusterSource
	executions ExecutionSource
	interval   time.Duration
	stopCh     chan struct{}
}

// NewCollector creates a metrics collector
func NewCollector(clusters ClusterSource, executions ExecutionSource) *Collector {
	return &Collector{
		clusters:   clusters,
		executions: executions,
		interval:   15 * time.Second,
		stopCh:     make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectExecutionMetrics()
}

func (c *Collector) collectNodeMetrics() {
	if c.clusters == nil {
		return
	}

	// Reset so states with no remaining nodes drop to zero
	NodesTotal.Reset()

	for _, cluster := range c.clusters.ListClusters() {
		counts := make(map[types.NodeState]int)
		for _, node := range cluster.Nodes {
			counts[node.State]++
		}
		for state, count := range counts {
			NodesTotal.WithLabelValues(string(cluster.Environment), string(state)).Set(float64(count))
		}
	}
}

func (c *Collector) collectExecutionMetrics() {
	if c.executions == nil {
		return
	}

	TrackedExecutions.Reset()

	inProgress := 0
	for status, count := range c.executions.StatusCounts() {
		TrackedExecutions.WithLabelValues(string(status)).Set(float64(count))
		if !status.Terminal() {
			inProgress += count
		}
	}
	DeploymentsInProgress.Set(float64(inProgress))
}
