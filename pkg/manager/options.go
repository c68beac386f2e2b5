package manager

import (
	"time"

	"github.com/fako1024/scalelink/pkg/scale"
	"golang.org/x/time/rate"
)

// WithClock sets the time source all intervals are measured against
func WithClock(clock Clock) func(*Manager) {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithRescanInterval sets the duration without a supported scale after which scanning
// is restarted
func WithRescanInterval(interval time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.rescanInterval = interval
	}
}

// WithReportInterval sets the interval of the periodic weight readout
func WithReportInterval(interval time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.reportInterval = interval
	}
}

// WithTickBudget sets the tick duration above which Run() logs a warning (0 = off)
func WithTickBudget(budget time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.tickBudget = budget
	}
}

// WithDiscoveryLogInterval sets the minimum interval between discovery log lines
func WithDiscoveryLogInterval(interval time.Duration) func(*Manager) {
	return func(m *Manager) {
		m.discoveryLog = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// WithQueueSize sets the capacity of the command queue
func WithQueueSize(size int) func(*Manager) {
	return func(m *Manager) {
		m.commands = make(chan request, size)
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Manager) {
	return func(m *Manager) {
		m.logger = logger
	}
}
