// Package bluez implements the radio backend on top of the host Bluetooth stack
// (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows)
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/scale"
	"tinygo.org/x/bluetooth"
)

const scanStopTimeout = 2 * time.Second

// Adapter denotes a host stack based radio, providing discovery and connections
type Adapter struct {
	btAdapter *bluetooth.Adapter
	found     *radio.Set
	ttl       time.Duration

	mu        sync.Mutex
	enabled   bool
	scanDone  chan struct{}
	addresses map[string]bluetooth.Address
	links     map[string]*link

	logger scale.Logger
}

// New instantiates a new host stack adapter, executing functional options, if any
func New(options ...func(*Adapter)) *Adapter {

	a := &Adapter{
		btAdapter: bluetooth.DefaultAdapter,
		ttl:       radio.DefaultTTL,
		addresses: make(map[string]bluetooth.Address),
		links:     make(map[string]*link),
		logger:    &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(a)
	}
	a.found = radio.NewSet(a.ttl)

	return a
}

// Start enables the adapter and starts scanning in the background
func (a *Adapter) Start() error {
	if err := a.enable(); err != nil {
		return err
	}
	return a.startScan()
}

// Restart restarts scanning, dropping all previously discovered devices
func (a *Adapter) Restart() error {
	if err := a.enable(); err != nil {
		return err
	}

	a.stopScan()
	a.found.Reset()
	a.prune(nil)

	return a.startScan()
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
	addr, exists := a.addresses[dev.Address]
	a.mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", radio.ErrUnknownDevice, dev)
	}

	// Stop scanning while establishing the connection
	a.stopScan()

	type result struct {
		btDevice bluetooth.Device
		err      error
	}
	resChan := make(chan result, 1)
	go func() {
		btDevice, err := a.btAdapter.Connect(addr, bluetooth.ConnectionParams{})
		resChan <- result{btDevice, err}
	}()

	var res result
	select {
	case res = <-resChan:
	case <-ctx.Done():

		// Release the connection once the pending attempt completes
		go func() {
			if res := <-resChan; res.err == nil {
				_ = res.btDevice.Disconnect()
			}
		}()
		a.resumeScan()
		return nil, fmt.Errorf("failed to establish connection to `%s`: %w", dev, ctx.Err())
	}
	if res.err != nil {
		a.resumeScan()
		return nil, fmt.Errorf("failed to connect device `%s`: %w", dev, res.err)
	}

	l := &link{
		address:  dev.Address,
		btDevice: res.btDevice,
		adapter:  a,
	}
	l.connected.Store(true)

	if err := l.setup(profiles, notify); err != nil {
		_ = l.Close()
		a.resumeScan()
		return nil, err
	}

	a.mu.Lock()
	a.links[dev.Address] = l
	a.mu.Unlock()

	return l, nil
}

// Close stops scanning and disconnects all links
func (a *Adapter) Close() error {
	a.mu.Lock()
	links := make([]*link, 0, len(a.links))
	for _, l := range a.links {
		links = append(links, l)
	}
	a.mu.Unlock()

	var errs []error
	for _, l := range links {
		errs = append(errs, l.Close())
	}
	a.stopScan()

	return errors.Join(errs...)
}

////////////////////////////////////////////////////////////////////////////////

func (a *Adapter) enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enabled {
		return nil
	}
	if err := a.btAdapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable Bluetooth adapter: %w", err)
	}
	a.btAdapter.SetConnectHandler(a.onConnectionChanged)
	a.enabled = true

	return nil
}

func (a *Adapter) startScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scanDone != nil {
		return nil
	}

	done := make(chan struct{})
	a.scanDone = done

	// Scan() blocks until StopScan() is called
	go func() {
		defer close(done)
		if err := a.btAdapter.Scan(a.onScanResult); err != nil {
			a.logger.Warnf("failed to scan: %s", err)
		}

		a.mu.Lock()
		if a.scanDone == done {
			a.scanDone = nil
		}
		a.mu.Unlock()
	}()

	return nil
}

func (a *Adapter) stopScan() {
	a.mu.Lock()
	done := a.scanDone
	a.mu.Unlock()

	if done == nil {
		return
	}

	if err := a.btAdapter.StopScan(); err != nil {
		a.logger.Debugf("failed to stop scanning: %s", err)
	}

	select {
	case <-done:
	case <-time.After(scanStopTimeout):
		a.logger.Warnf("scan did not terminate within %v", scanStopTimeout)
	}
}

func (a *Adapter) resumeScan() {
	if err := a.startScan(); err != nil {
		a.logger.Warnf("failed to re-enable scanning after failed connection: %s", err)
	}
}

func (a *Adapter) onScanResult(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
	addr := result.Address.String()

	a.mu.Lock()
	a.addresses[addr] = result.Address
	a.mu.Unlock()

	a.found.Observe(radio.Device{
		Name:    result.LocalName(),
		Address: addr,
		RSSI:    int(result.RSSI),
	}, time.Now())
}

func (a *Adapter) onConnectionChanged(btDevice bluetooth.Device, connected bool) {
	if connected {
		return
	}

	addr := btDevice.Address.String()
	a.mu.Lock()
	l, exists := a.links[addr]
	a.mu.Unlock()

	if exists {
		a.logger.Debugf("disconnected peripheral `%s`", addr)
		l.connected.Store(false)
	}
}

// prune drops addresses that are neither in the discovered set nor used by a link
func (a *Adapter) prune(devices []radio.Device) {
	keep := make(map[string]struct{}, len(devices))
	for _, dev := range devices {
		keep[dev.Address] = struct{}{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for addr := range a.addresses {
		if _, exists := keep[addr]; exists {
			continue
		}
		if _, exists := a.links[addr]; exists {
			continue
		}
		delete(a.addresses, addr)
	}
}

func (a *Adapter) forget(l *link) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.links[l.address] == l {
		delete(a.links, l.address)
	}
}

////////////////////////////////////////////////////////////////////////////////

type link struct {
	address  string
	btDevice bluetooth.Device
	command  bluetooth.DeviceCharacteristic
	adapter  *Adapter

	connected atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Write writes a command to the command characteristic
func (l *link) Write(b []byte, withResponse bool) (err error) {
	if !l.connected.Load() {
		return fmt.Errorf("failed to write to `%s`: %w", l.address, scale.ErrNotConnected)
	}

	if withResponse {
		_, err = l.command.Write(b)
	} else {
		_, err = l.command.WriteWithoutResponse(b)
	}
	return
}

// Connected returns if the device is still connected
func (l *link) Connected() bool {
	return l.connected.Load()
}

// Close disconnects the device
func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.connected.Store(false)
		l.closeErr = l.btDevice.Disconnect()
		l.adapter.forget(l)
	})
	return l.closeErr
}

func (l *link) setup(profiles []radio.Profile, notify func([]byte)) error {
	for _, profile := range profiles {
		svcUUID, err := bluetooth.ParseUUID(radio.LongUUID(profile.Service))
		if err != nil {
			return fmt.Errorf("invalid service UUID `%s`: %w", profile.Service, err)
		}
		services, err := l.btDevice.DiscoverServices([]bluetooth.UUID{svcUUID})
		if err != nil || len(services) == 0 {
			continue
		}

		uuids := []bluetooth.UUID{}
		for _, u := range []string{profile.Command, profile.Notify} {
			charUUID, err := bluetooth.ParseUUID(radio.LongUUID(u))
			if err != nil {
				return fmt.Errorf("invalid characteristic UUID `%s`: %w", u, err)
			}
			if len(uuids) == 0 || uuids[0] != charUUID {
				uuids = append(uuids, charUUID)
			}
		}

		chars, err := services[0].DiscoverCharacteristics(uuids)
		if err != nil {
			return fmt.Errorf("failed to discover characteristics: %w", err)
		}

		var cmdChar, notifyChar *bluetooth.DeviceCharacteristic
		for i := range chars {
			if radio.SameUUID(chars[i].UUID().String(), profile.Command) {
				cmdChar = &chars[i]
			}
			if radio.SameUUID(chars[i].UUID().String(), profile.Notify) {
				notifyChar = &chars[i]
			}
		}
		if cmdChar == nil || notifyChar == nil {
			continue
		}

		if err := notifyChar.EnableNotifications(func(buf []byte) {
			if notify != nil {
				notify(buf)
			}
		}); err != nil {
			return fmt.Errorf("failed to enable notifications: %w", err)
		}
		l.command = *cmdChar

		return nil
	}

	return fmt.Errorf("%w on `%s`", radio.ErrProfileNotFound, l.address)
}
