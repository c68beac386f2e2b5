package api

import (
	"time"

	"github.com/fako1024/scalelink/pkg/scale"
)

// WithCommandTimeout sets the maximum duration to wait for a command result
func WithCommandTimeout(timeout time.Duration) func(*API) {
	return func(api *API) {
		api.commandTimeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*API) {
	return func(api *API) {
		api.logger = logger
	}
}
