package acaia

import (
	"time"

	"github.com/fako1024/scalelink/pkg/scale"
)

// WithConnectTimeout sets the maximum duration of a connection attempt
func WithConnectTimeout(timeout time.Duration) func(*Acaia) {
	return func(a *Acaia) {
		a.connectTimeout = timeout
	}
}

// WithHeartbeatInterval sets the interval between heartbeats sent to the scale
func WithHeartbeatInterval(interval time.Duration) func(*Acaia) {
	return func(a *Acaia) {
		a.heartbeatInterval = interval
	}
}

// WithDataTimeout sets the duration without notifications after which the connection
// is considered lost
func WithDataTimeout(timeout time.Duration) func(*Acaia) {
	return func(a *Acaia) {
		a.dataTimeout = timeout
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) func(*Acaia) {
	return func(a *Acaia) {
		a.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Acaia) {
	return func(a *Acaia) {
		a.logger = logger
	}
}
