package factory

import (
	"time"

	"github.com/fako1024/scalelink/pkg/scale"
)

// WithConnectTimeout sets the connection timeout of the built-in drivers
func WithConnectTimeout(timeout time.Duration) func(*Factory) {
	return func(f *Factory) {
		f.connectTimeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Factory) {
	return func(f *Factory) {
		f.logger = logger
	}
}
