package registry

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/log"
)

// Monitor drives the registry's periodic health sweep. It runs
// decoupled from any deployment: heartbeat grace and threshold
// evaluation continue whether or not a pipeline is active.
type Monitor struct {
	registry *Registry
	interval time.Duration
	clk      clock.Clock
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewMonitor creates a monitor sweeping at the given interval
func NewMonitor(reg *Registry, interval time.Duration, clk clock.Clock) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Monitor{
		registry: reg,
		interval: interval,
		clk:      clk,
		logger:   log.WithComponent("heartbeat-monitor"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the sweep loop
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	m.logger.Info().Dur("interval", m.interval).Msg("Heartbeat monitor started")

	ticker := m.clk.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			m.registry.EvaluateHealth()
		case <-m.stopCh:
			m.logger.Info().Msg("Heartbeat monitor stopped")
			return
		}
	}
}
