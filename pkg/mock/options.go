package mock

import "time"

// WithConnectErr sets the error returned by connection attempts
func WithConnectErr(err error) func(*Mock) {
	return func(m *Mock) {
		m.connectErr = err
	}
}

// WithDrift enables simulated measurements, changing the weight by the given amount
// upon every Update()
func WithDrift(drift float64) func(*Mock) {
	return func(m *Mock) {
		m.drift = drift
	}
}

// WithClock sets the time source used for measurement timestamps
func WithClock(now func() time.Time) func(*Mock) {
	return func(m *Mock) {
		m.now = now
	}
}

// WithSettleDelay sets the simulated buzzer settle delay
func WithSettleDelay(delay time.Duration) func(*Mock) {
	return func(m *Mock) {
		m.settleDelay = delay
	}
}
