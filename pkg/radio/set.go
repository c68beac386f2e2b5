package radio

import (
	"sync"
	"time"
)

// DefaultTTL denotes the default duration a device stays in the discovered set after
// its last advertisement
const DefaultTTL = 10 * time.Second

type entry struct {
	device   Device
	lastSeen time.Time
}

// Set denotes a thread-safe set of discovered devices keyed by address, keeping the
// order in which devices were first seen
type Set struct {
	ttl time.Duration

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
}

// NewSet instantiates a new, empty discovered set
func NewSet(ttl time.Duration) *Set {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Set{
		ttl:     ttl,
		entries: make(map[string]*entry),
	}
}

// Observe records an advertisement of a device
func (s *Set) Observe(dev Device, now time.Time) {
	if dev.Address == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[dev.Address]
	if !exists {
		e = &entry{}
		s.entries[dev.Address] = e
		s.order = append(s.order, dev.Address)
	}

	// Keep a previously advertised name if the current packet carries none
	name := e.device.Name
	e.device = dev.Clone()
	if e.device.Name == "" {
		e.device.Name = name
	}
	e.lastSeen = now
}

// Snapshot drops expired devices and returns copies of the remaining ones
func (s *Set) Snapshot(now time.Time) []Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := make([]Device, 0, len(s.order))
	order := s.order[:0]
	for _, addr := range s.order {
		e := s.entries[addr]
		if now.Sub(e.lastSeen) > s.ttl {
			delete(s.entries, addr)
			continue
		}
		order = append(order, addr)
		devices = append(devices, e.device.Clone())
	}
	s.order = order

	return devices
}

// Reset drops all devices
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.entries = make(map[string]*entry)
}
