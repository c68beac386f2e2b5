package manager

import (
	"time"

	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/scale"
)

// State denotes the state of the connection manager
type State int

const (

	// StateIdle denotes a manager that has not been started (or has been closed)
	StateIdle State = iota

	// StateScanning denotes a manager looking for a supported scale
	StateScanning

	// StateAttemptingConnect denotes a manager connecting to a candidate
	StateAttemptingConnect

	// StateConnected denotes a manager monitoring an established connection
	StateConnected

	// StateReconnecting denotes a manager tearing down a lost connection
	StateReconnecting
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StateScanning:          "scanning",
	StateAttemptingConnect: "attempting connect",
	StateConnected:         "connected",
	StateReconnecting:      "reconnecting",
}

// String returns a human-readable representation of the state
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}

// MarshalText renders the state as text (e.g. for JSON encoding)
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Discovery denotes a discovered device along with its classification
type Discovery struct {
	Device radio.Device `json:"device"`
	Family string       `json:"family"`
}

// Status denotes a point-in-time snapshot of the manager
type Status struct {
	State      State            `json:"state"`
	Since      time.Time        `json:"since"`
	Device     *radio.Device    `json:"device,omitempty"`
	Family     string           `json:"family,omitempty"`
	LastSample *scale.DataPoint `json:"last_sample,omitempty"`
	Discovered int              `json:"discovered"`

	// Only set while connected to a scale providing the respective capability
	BatteryLevel *float64 `json:"battery_level,omitempty"`
	TimerSeconds *float64 `json:"timer_seconds,omitempty"`
}

func (s Status) clone() Status {
	c := s
	if s.Device != nil {
		dev := s.Device.Clone()
		c.Device = &dev
	}
	if s.LastSample != nil {
		sample := *s.LastSample
		c.LastSample = &sample
	}
	if s.BatteryLevel != nil {
		level := *s.BatteryLevel
		c.BatteryLevel = &level
	}
	if s.TimerSeconds != nil {
		seconds := *s.TimerSeconds
		c.TimerSeconds = &seconds
	}
	return c
}
