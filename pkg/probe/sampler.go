package probe

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/log"
	"github.com/modkernel/switchyard/pkg/types"
)

// ClusterLister enumerates the clusters the sampler feeds
type ClusterLister interface {
	ListClusters() []*types.Cluster
}

// Sampler is the periodic heartbeat feed: every interval it samples
// every cluster, which publishes fresh heartbeats into the registry.
// It runs decoupled from deployments; a pipeline's own stability
// waits sample independently of this loop.
type Sampler struct {
	probe    *Probe
	lister   ClusterLister
	interval time.Duration
	clk      clock.Clock
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewSampler creates a sampler over every cluster the lister knows
func NewSampler(p *Probe, lister ClusterLister, interval time.Duration, clk clock.Clock) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Sampler{
		probe:    p,
		lister:   lister,
		interval: interval,
		clk:      clk,
		logger:   log.WithComponent("sampler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sampling loop
func (s *Sampler) Start() {
	go s.run()
}

// Stop stops the sampling loop
func (s *Sampler) Stop() {
	close(s.stopCh)
}

func (s *Sampler) run() {
	s.logger.Info().Dur("interval", s.interval).Msg("Health sampler started")

	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			s.sweep()
		case <-s.stopCh:
			s.logger.Info().Msg("Health sampler stopped")
			return
		}
	}
}

func (s *Sampler) sweep() {
	// Each sweep is bounded so a stuck source cannot pile up sweeps.
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	for _, cluster := range s.lister.ListClusters() {
		if _, err := s.probe.SampleCluster(ctx, cluster.ID); err != nil {
			s.logger.Warn().
				Str("cluster_id", cluster.ID).
				Err(err).
				Msg("Cluster sample sweep failed")
		}
	}
}
