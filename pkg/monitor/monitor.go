package monitor

import (
	"time"

	"github.com/cuemby/ember/pkg/accountant"
	"github.com/cuemby/ember/pkg/log"
	"github.com/cuemby/ember/pkg/types"
	"github.com/rs/zerolog"
)

// Monitor periodically samples the Accountant's per-mode occupancy and logs
// it. It never triggers eviction: admission, not a background sweep, is
// what drives eviction, so this loop is purely observational.
type Monitor struct {
	acct     *accountant.Accountant
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// New builds a Monitor over acct, sampling every interval. A non-positive
// interval falls back to 10 seconds.
func New(acct *accountant.Accountant, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		acct:     acct,
		interval: interval,
		logger:   log.WithComponent("monitor"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sampling loop in its own goroutine.
func (m *Monitor) Start() {
	go m.run()
}

// Stop ends the sampling loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info().Msg("pressure monitor started")

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.stopCh:
			m.logger.Info().Msg("pressure monitor stopped")
			return
		}
	}
}

// sample logs a single snapshot of both pools' occupancy. Gauges for the
// same numbers are already kept current by the Accountant on every
// acquire/release; this is for operators watching logs, not a second
// source of truth.
func (m *Monitor) sample() {
	for _, mode := range [2]types.MemoryMode{types.OnHeap, types.OffHeap} {
		stats := m.acct.Stats(mode)
		m.logger.Debug().
			Str("mode", mode.String()).
			Int64("storage_used", stats.StorageUsed).
			Int64("unroll_used", stats.UnrollUsed).
			Int64("execution_used", stats.ExecutionUsed).
			Int64("free", stats.Free).
			Int64("max_total", stats.MaxTotal).
			Msg("memory pool occupancy")
	}
}
