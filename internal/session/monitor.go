// ABOUTME: Background monitor that periodically sweeps idle sessions
// ABOUTME: Ticker loop with a done channel, stopped on gateway shutdown

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Monitor runs the registry's idle sweep on a fixed interval.
type Monitor struct {
	registry    *Registry
	idleTimeout time.Duration
	interval    time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// MonitorConfig carries Monitor dependencies and sweep policy.
type MonitorConfig struct {
	Registry    *Registry
	IdleTimeout time.Duration
	Interval    time.Duration
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry:    cfg.Registry,
		idleTimeout: cfg.IdleTimeout,
		interval:    cfg.Interval,
		clock:       clock,
		logger:      logger.With("component", "session-monitor"),
		done:        make(chan struct{}),
	}
}

// Start launches the sweep loop in a background goroutine.
func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) run() {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.registry.Sweep(m.idleTimeout)
		case <-m.done:
			return
		}
	}
}

// Stop terminates the sweep loop. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.done)
		m.closed = true
	}
}
