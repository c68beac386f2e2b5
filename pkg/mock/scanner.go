package mock

import (
	"sync"

	"github.com/fako1024/scalelink/pkg/radio"
)

// Scanner denotes a scripted scanner, reporting a fixed set of devices
type Scanner struct {
	mu       sync.Mutex
	devices  []radio.Device
	starts   int
	restarts int

	// StartErr is returned by Start, if set
	StartErr error
}

// NewScanner instantiates a new scanner reporting the provided devices
func NewScanner(devices ...radio.Device) *Scanner {
	s := &Scanner{}
	s.SetDevices(devices...)
	return s
}

// SetDevices replaces the current discovered set
func (s *Scanner) SetDevices(devices ...radio.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices = make([]radio.Device, 0, len(devices))
	for _, dev := range devices {
		s.devices = append(s.devices, dev.Clone())
	}
}

// Start counts the call
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.StartErr != nil {
		return s.StartErr
	}
	s.starts++
	return nil
}

// Restart counts the call
func (s *Scanner) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restarts++
	return nil
}

// Discovered returns copies of the current devices
func (s *Scanner) Discovered() []radio.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := make([]radio.Device, 0, len(s.devices))
	for _, dev := range s.devices {
		devices = append(devices, dev.Clone())
	}
	return devices
}

// Starts returns how often Start succeeded
func (s *Scanner) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.starts
}

// Restarts returns how often Restart was called
func (s *Scanner) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.restarts
}
