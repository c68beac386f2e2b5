package bluez

import (
	"time"

	"github.com/fako1024/scalelink/pkg/scale"
	"tinygo.org/x/bluetooth"
)

// WithAdapter sets the Bluetooth adapter (default: the host's default adapter)
func WithAdapter(btAdapter *bluetooth.Adapter) func(*Adapter) {
	return func(a *Adapter) {
		a.btAdapter = btAdapter
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
