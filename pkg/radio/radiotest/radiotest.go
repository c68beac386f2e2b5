// Package radiotest provides in-memory radio fakes for driver and manager tests
package radiotest

import (
	"context"
	"sync"

	"github.com/fako1024/scalelink/pkg/radio"
)

// Link denotes a fake GATT link recording all writes
type Link struct {
	mu        sync.Mutex
	writes    [][]byte
	connected bool
	closed    int
	notify    func([]byte)

	// WriteErr is returned by Write, if set
	WriteErr error
}

// Notify simulates an incoming notification
func (l *Link) Notify(b []byte) {
	l.mu.Lock()
	fn := l.notify
	l.mu.Unlock()

	if fn != nil {
		fn(b)
	}
}

// Write records the written command
func (l *Link) Write(b []byte, _ bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.WriteErr != nil {
		return l.WriteErr
	}
	l.writes = append(l.writes, append([]byte(nil), b...))
	return nil
}

// Writes returns all commands written so far
func (l *Link) Writes() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([][]byte(nil), l.writes...)
}

// Connected returns if the fake connection is alive
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.connected
}

// Drop simulates a loss of the connection
func (l *Link) Drop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connected = false
}

// Close closes the fake link
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connected = false
	l.closed++
	return nil
}

// Closed returns how often Close was called
func (l *Link) Closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closed
}

// Dialer denotes a fake dialer handing out Links
type Dialer struct {
	mu       sync.Mutex
	links    []*Link
	profiles [][]radio.Profile

	// Err is returned by Dial, if set
	Err error
}

// Dial returns a new connected Link, or Err
func (d *Dialer) Dial(_ context.Context, _ radio.Device, profiles []radio.Profile, notify func([]byte)) (radio.Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.profiles = append(d.profiles, profiles)
	if d.Err != nil {
		return nil, d.Err
	}

	l := &Link{connected: true, notify: notify}
	d.links = append(d.links, l)
	return l, nil
}

// Last returns the most recently dialed Link, if any
func (d *Dialer) Last() *Link {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.links) == 0 {
		return nil
	}
	return d.links[len(d.links)-1]
}

// Dials returns the number of Dial calls and the profiles requested in the last one
func (d *Dialer) Dials() (int, []radio.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.profiles) == 0 {
		return 0, nil
	}
	return len(d.profiles), d.profiles[len(d.profiles)-1]
}
