package gattradio

import (
	"time"

	"github.com/fako1024/gatt"
	"github.com/fako1024/scalelink/pkg/scale"
)

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Adapter) {
	return func(a *Adapter) {
		a.btDevice = btDevice
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Adapter) {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithTTL sets the duration a device stays discovered after its last advertisement
func WithTTL(ttl time.Duration) func(*Adapter) {
	return func(a *Adapter) {
		a.ttl = ttl
	}
}
