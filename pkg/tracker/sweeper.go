package tracker

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/clock"
	"github.com/modkernel/switchyard/pkg/log"
)

// Sweeper periodically evicts expired terminal execution records. It
// runs alongside the registry's heartbeat monitor as the other standing
// background loop.
type Sweeper struct {
	tracker  *Tracker
	interval time.Duration
	clk      clock.Clock
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewSweeper creates a sweeper scanning at the given interval
func NewSweeper(tr *Tracker, interval time.Duration, clk clock.Clock) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Sweeper{
		tracker:  tr,
		interval: interval,
		clk:      clk,
		logger:   log.WithComponent("retention-sweeper"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop
func (s *Sweeper) Start() {
	go s.run()
}

// Stop stops the sweep loop
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	s.logger.Info().Dur("interval", s.interval).Msg("Retention sweeper started")

	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			s.tracker.SweepExpired()
		case <-s.stopCh:
			s.logger.Info().Msg("Retention sweeper stopped")
			return
		}
	}
}
