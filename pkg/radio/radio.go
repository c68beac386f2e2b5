// Package radio defines the capability-typed view of the BLE stack consumed by the
// connection manager and the scale drivers: discovery snapshots, GATT profiles and
// notification links. Concrete stacks live in the gattradio and bluez subpackages.
package radio

import (
	"context"
	"errors"
)

var (
	// ErrUnknownDevice is returned when dialing a device the adapter has not discovered
	ErrUnknownDevice = errors.New("device not discovered")

	// ErrProfileNotFound is returned when a device exposes none of the requested services
	ErrProfileNotFound = errors.New("no matching GATT profile")

	// ErrNotPoweredOn is returned when the radio is not (yet) available
	ErrNotPoweredOn = errors.New("radio not powered on")
)

// Device denotes an immutable snapshot of a discovered peripheral
type Device struct {
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	RSSI             int      `json:"rssi"`
	Services         []string `json:"services,omitempty"`
	ManufacturerData []byte   `json:"manufacturer_data,omitempty"`
	Connectable      bool     `json:"connectable"`
}

// Clone returns a deep copy of the device snapshot
func (d Device) Clone() Device {
	c := d
	if d.Services != nil {
		c.Services = append([]string(nil), d.Services...)
	}
	if d.ManufacturerData != nil {
		c.ManufacturerData = append([]byte(nil), d.ManufacturerData...)
	}
	return c
}

// String returns a short human-readable representation of the device
func (d Device) String() string {
	return d.Name + "/" + d.Address
}

// Scanner denotes a continuously refreshed view of nearby peripherals
type Scanner interface {

	// Start initiates discovery
	Start() error

	// Restart restarts discovery, dropping the current snapshot
	Restart() error

	// Discovered returns a point-in-time snapshot of the discovered devices in
	// discovery order
	Discovered() []Device
}

// Profile denotes the GATT layout a driver talks to
type Profile struct {
	Service string
	Command string
	Notify  string
}

// Link denotes an established GATT session with notifications enabled
type Link interface {

	// Write writes a command to the command characteristic
	Write(b []byte, withResponse bool) error

	// Connected returns if the underlying connection is still alive
	Connected() bool

	// Close terminates the connection, it is safe to call it more than once
	Close() error
}

// Dialer denotes a radio capable of connecting to discovered devices
type Dialer interface {

	// Dial connects to the device using the first profile it exposes and subscribes
	// notify to the notification characteristic of that profile
	Dial(ctx context.Context, dev Device, profiles []Profile, notify func([]byte)) (Link, error)
}

// Adapter denotes a complete radio backend
type Adapter interface {
	Scanner
	Dialer

	// Close stops the radio
	Close() error
}
