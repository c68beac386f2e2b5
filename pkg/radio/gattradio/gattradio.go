// Package gattradio implements the radio backend on top of the raw HCI GATT stack
package gattradio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fako1024/gatt"
	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/scale"
)

const defaultMTU = 500

// Adapter denotes a GATT based radio, providing discovery and connections
type Adapter struct {
	btDevice gatt.Device
	found    *radio.Set
	ttl      time.Duration

	mu          sync.Mutex
	initialized bool
	poweredOn   bool
	peripherals map[string]gatt.Peripheral
	sessions    map[string]*session

	logger scale.Logger
}

// New instantiates a new GATT adapter, executing functional options, if any
func New(options ...func(*Adapter)) (*Adapter, error) {

	a := &Adapter{
		ttl:         radio.DefaultTTL,
		peripherals: make(map[string]gatt.Peripheral),
		sessions:    make(map[string]*session),
		logger:      &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(a)
	}
	a.found = radio.NewSet(a.ttl)

	// Initialize a new GATT device (if not provided as option)
	if a.btDevice == nil {
		btDevice, err := gatt.NewDevice(defaultBTClientOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GATT device: %w", err)
		}
		a.btDevice = btDevice
	}

	// Register handlers
	a.btDevice.Handle(
		gatt.AddPeripheralDiscovered(a.onPeriphDiscovered),
		gatt.AddPeripheralConnected(a.onPeriphConnected),
		gatt.AddPeripheralDisconnected(a.onPeriphDisconnected),
	)

	return a, nil
}

// Start initializes the device, scanning begins as soon as it is powered on
func (a *Adapter) Start() error {
	a.mu.Lock()
	if a.initialized {
		a.mu.Unlock()
		return a.Restart()
	}
	a.mu.Unlock()

	if err := a.btDevice.Init(a.onStateChanged); err != nil {
		return fmt.Errorf("failed to initialize GATT device: %w", err)
	}

	a.mu.Lock()
	a.initialized = true
	a.mu.Unlock()

	return nil
}

// Restart restarts scanning, dropping all previously discovered devices
func (a *Adapter) Restart() error {
	if !a.isPoweredOn() {
		return radio.ErrNotPoweredOn
	}

	if err := a.btDevice.StopScanning(); err != nil {
		a.logger.Debugf("failed to stop scanning before restart: %s", err)
	}
	a.found.Reset()
	a.prune(nil)

	return a.scan()
}

// Discovered returns a snapshot of the currently discovered devices
func (a *Adapter) Discovered() []radio.Device {
	devices := a.found.Snapshot(time.Now())
	a.prune(devices)

	return devices
}

// Dial connects to a discovered device
func (a *Adapter) Dial(ctx context.Context, dev radio.Device, profiles []radio.Profile, notify func([]byte)) (radio.Link, error) {

	a.mu.Lock()
	p, exists := a.peripherals[dev.Address]
	if !exists {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", radio.ErrUnknownDevice, dev)
	}
	s := newSession(p, profiles, notify, a.logger)
	a.sessions[p.ID()] = s
	a.mu.Unlock()

	// Stop scanning while establishing the connection
	if err := a.btDevice.StopScanning(); err != nil {
		a.logger.Warnf("failed to stop scanning: %s", err)
	}

	a.logger.Debugf("connecting device `%s/%s`", p.Name(), p.ID())
	if err := a.btDevice.Connect(p); err != nil {
		a.abandon(s)
		return nil, fmt.Errorf("failed to connect device `%s`: %w", dev, err)
	}

	select {
	case err := <-s.ready:
		if err != nil {
			a.abandon(s)
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		a.abandon(s)
		return nil, fmt.Errorf("failed to establish connection to `%s`: %w", dev, ctx.Err())
	}
}

// Close stops scanning and releases the device
func (a *Adapter) Close() error {
	a.mu.Lock()
	sessions := make([]*session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}

	_ = a.btDevice.StopScanning()
	return a.btDevice.RemoveAllServices()
}

////////////////////////////////////////////////////////////////////////////////

func (a *Adapter) isPoweredOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.poweredOn
}

func (a *Adapter) scan() error {

	// Duplicates are required to keep the discovered set refreshed
	if err := a.btDevice.Scan([]gatt.UUID{}, true); err != nil {
		return fmt.Errorf("failed to enable scanning: %w", err)
	}
	return nil
}

func (a *Adapter) session(id string) *session {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.sessions[id]
}

// forget removes the session, returning false if the peripheral has since been
// handed to another session
func (a *Adapter) forget(s *session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sessions[s.id] != s {
		return false
	}
	delete(a.sessions, s.id)

	return true
}

// release drops the session and cancels its connection, unless a newer session owns
// the peripheral by now
func (a *Adapter) release(s *session) {
	s.connected.Store(false)
	if a.forget(s) {
		_ = a.btDevice.CancelConnection(s.p)
	}
}

// prune drops peripherals that are neither in the discovered set nor attached to
// a session
func (a *Adapter) prune(devices []radio.Device) {
	keep := make(map[string]struct{}, len(devices))
	for _, dev := range devices {
		keep[dev.Address] = struct{}{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for id := range a.peripherals {
		if _, exists := keep[id]; exists {
			continue
		}
		if _, exists := a.sessions[id]; exists {
			continue
		}
		delete(a.peripherals, id)
	}
}

// abandon tears down a session that never became usable and resumes scanning
func (a *Adapter) abandon(s *session) {
	_ = s.Close()
	a.release(s)

	if !a.isPoweredOn() {
		return
	}
	if err := a.scan(); err != nil {
		a.logger.Warnf("failed to re-enable scanning after failed connection: %s", err)
	}
}

func (a *Adapter) onStateChanged(d gatt.Device, s gatt.State) {
	switch s {
	case gatt.StatePoweredOn:
		a.mu.Lock()
		a.poweredOn = true
		a.mu.Unlock()
		if err := a.scan(); err != nil {
			a.logger.Warnf("failed to enable initial scanning: %s", err)
		}
		return
	case gatt.StatePoweredOff:
		a.mu.Lock()
		a.poweredOn = false
		a.mu.Unlock()
		a.found.Reset()
		return
	default:
		if err := d.StopScanning(); err != nil {
			a.logger.Warnf("failed to stop initial scanning: %s", err)
		}
	}
}

func (a *Adapter) onPeriphDiscovered(p gatt.Peripheral, adv *gatt.Advertisement, rssi int) {

	dev := radio.Device{
		Name:    p.Name(),
		Address: p.ID(),
		RSSI:    rssi,
	}
	if adv != nil {
		if adv.LocalName != "" {
			dev.Name = adv.LocalName
		}
		dev.ManufacturerData = adv.ManufacturerData
		dev.Connectable = adv.Connectable
		for _, u := range adv.Services {
			dev.Services = append(dev.Services, radio.ShortUUID(u.String()))
		}
	}

	a.mu.Lock()
	a.peripherals[p.ID()] = p
	a.mu.Unlock()

	a.found.Observe(dev, time.Now())
}

func (a *Adapter) onPeriphConnected(p gatt.Peripheral, connErr error) {

	s := a.session(p.ID())
	if s == nil {

		// Late connection of an attempt that was already given up on
		_ = a.btDevice.CancelConnection(p)
		return
	}

	if connErr != nil {
		s.fail(fmt.Errorf("failed to connect peripheral `%s/%s`: %w", p.Name(), p.ID(), connErr))
		return
	}

	a.logger.Debugf("connected peripheral `%s/%s`", p.Name(), p.ID())
	defer a.release(s)

	if err := s.setup(); err != nil {
		s.fail(err)
		return
	}
	s.connected.Store(true)
	s.ready <- nil

	// Keep the peripheral until the session is released
	a.logger.Debugf("waiting to release peripheral `%s/%s`", p.Name(), p.ID())
	<-s.done
	a.logger.Debugf("released peripheral `%s/%s`", p.Name(), p.ID())
}

func (a *Adapter) onPeriphDisconnected(p gatt.Peripheral, _ error) {

	s := a.session(p.ID())
	if s == nil {
		return
	}

	s.connected.Store(false)
	s.fail(fmt.Errorf("peripheral `%s/%s` disconnected during setup", p.Name(), p.ID()))
	_ = s.Close()
	a.logger.Debugf("disconnected peripheral `%s/%s`", p.Name(), p.ID())
}

////////////////////////////////////////////////////////////////////////////////

// session denotes a single connection attempt / established link to a peripheral
type session struct {
	id       string
	p        gatt.Peripheral
	profiles []radio.Profile
	notify   func([]byte)

	btCommand *gatt.Characteristic

	connected atomic.Bool
	ready     chan error
	done      chan struct{}
	closeOnce sync.Once

	logger scale.Logger
}

func newSession(p gatt.Peripheral, profiles []radio.Profile, notify func([]byte), logger scale.Logger) *session {
	return &session{
		id:       p.ID(),
		p:        p,
		profiles: profiles,
		notify:   notify,
		ready:    make(chan error, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Write writes a command to the command characteristic
func (s *session) Write(b []byte, withResponse bool) error {
	if !s.connected.Load() || s.btCommand == nil {
		return fmt.Errorf("failed to write to `%s`: %w", s.id, scale.ErrNotConnected)
	}
	return s.p.WriteCharacteristic(s.btCommand, b, !withResponse)
}

// Connected returns if the peripheral is still connected
func (s *session) Connected() bool {
	return s.connected.Load()
}

// Close releases the peripheral
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		close(s.done)
	})
	return nil
}

func (s *session) fail(err error) {
	select {
	case s.ready <- err:
	default:
	}
}

func (s *session) setup() error {

	// Set connection MTU
	if err := s.p.SetMTU(defaultMTU); err != nil {
		s.logger.Debugf("failed to set MTU on `%s`: %s", s.id, err)
	}

	// Discover services
	ss, err := s.p.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("failed to discover services: %w", err)
	}

	for _, profile := range s.profiles {
		for _, svc := range ss {
			if !radio.SameUUID(svc.UUID().String(), profile.Service) {
				continue
			}

			// Discover characteristics
			cs, err := s.p.DiscoverCharacteristics(nil, svc)
			if err != nil {
				return fmt.Errorf("failed to discover characteristics: %w", err)
			}

			var cmdChar, notifyChar *gatt.Characteristic
			for _, c := range cs {
				if radio.SameUUID(c.UUID().String(), profile.Command) {
					cmdChar = c
				}
				if radio.SameUUID(c.UUID().String(), profile.Notify) {
					notifyChar = c
				}
			}
			if cmdChar == nil || notifyChar == nil {
				continue
			}

			// Discover descriptors
			if _, err := s.p.DiscoverDescriptors(nil, notifyChar); err != nil {
				return fmt.Errorf("failed to discover descriptors: %w", err)
			}

			if err := s.p.SetNotifyValue(notifyChar, s.receiveData); err != nil {
				return fmt.Errorf("failed to subscribe characteristic: %w", err)
			}
			s.btCommand = cmdChar

			return nil
		}
	}

	return fmt.Errorf("%w on `%s`", radio.ErrProfileNotFound, s.id)
}

func (s *session) receiveData(_ *gatt.Characteristic, req []byte, err error) {
	if err != nil || s.notify == nil {
		return
	}
	s.notify(req)
}
