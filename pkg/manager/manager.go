// Package manager implements the discovery / connection / monitoring lifecycle of a
// single remote scale. The Manager is driven by a periodic Tick() and owns at most one
// live driver at any time
package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/scale"
	"golang.org/x/time/rate"
)

const (
	defaultRescanInterval       = 10 * time.Second
	defaultReportInterval       = 5 * time.Second
	defaultTickBudget           = time.Second
	defaultDiscoveryLogInterval = 5 * time.Second
	defaultQueueSize            = 16
)

// Clock denotes a source of monotonic time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Factory denotes a source of drivers for discovered devices
type Factory interface {

	// Create instantiates a (not yet connected) driver for the device
	Create(dev radio.Device) (scale.Driver, error)
}

type connection struct {
	device radio.Device
	family scale.Family
	driver scale.Driver
}

// Manager denotes a connection manager for a single remote scale
type Manager struct {
	scanner radio.Scanner
	factory Factory
	clock   Clock

	rescanInterval time.Duration
	reportInterval time.Duration
	tickBudget     time.Duration
	discoveryLog   *rate.Limiter

	state        State
	conn         *connection
	lastActivity time.Time
	lastReport   time.Time
	commands     chan request

	weightHandler      func(data scale.DataPoint)
	logHandler         func(msg string)
	stateChangeHandler func(state State)
	stateChangeChan    chan State

	mu      sync.RWMutex
	status  Status
	devices []Discovery

	logger scale.Logger
}

// New instantiates a new Manager, executing functional options, if any
func New(scanner radio.Scanner, factory Factory, options ...func(*Manager)) *Manager {

	m := &Manager{
		scanner:        scanner,
		factory:        factory,
		clock:          systemClock{},
		rescanInterval: defaultRescanInterval,
		reportInterval: defaultReportInterval,
		tickBudget:     defaultTickBudget,
		discoveryLog:   rate.NewLimiter(rate.Every(defaultDiscoveryLogInterval), 1),
		commands:       make(chan request, defaultQueueSize),
		logger:         &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(m)
	}
	m.status.Since = m.clock.Now()

	return m
}

// SetWeightHandler defines a handler function that is called upon every measurement
// reported by the connected scale (replacing any previous handler)
func (m *Manager) SetWeightHandler(fn func(data scale.DataPoint)) {
	m.weightHandler = fn
}

// SetLogHandler defines a handler function that is called for log messages of the
// connected scale (replacing any previous handler)
func (m *Manager) SetLogHandler(fn func(msg string)) {
	m.logHandler = fn
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (m *Manager) SetStateChangeHandler(fn func(state State)) {
	m.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that receives state changes (non-blocking)
func (m *Manager) SetStateChangeChannel(ch chan State) {
	m.stateChangeChan = ch
}

// State returns the current state of the manager
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.status.State
}

// Status returns a snapshot of the current status
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.status.clone()
}

// Devices returns the devices seen during the most recent scanning tick
func (m *Manager) Devices() []Discovery {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]Discovery, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, Discovery{
			Device: d.Device.Clone(),
			Family: d.Family,
		})
	}
	return devices
}

// Start initiates scanning (if not yet done)
func (m *Manager) Start() error {
	if m.state != StateIdle {
		return nil
	}

	if err := m.scanner.Start(); err != nil {
		return fmt.Errorf("failed to start scanning: %w", err)
	}
	m.lastActivity = m.clock.Now()
	m.logger.Info("scanning for supported scales")
	m.setState(StateScanning)

	return nil
}

// Tick performs a single step of the connection lifecycle. It must not be called
// concurrently
func (m *Manager) Tick() {
	now := m.clock.Now()

	switch m.state {
	case StateIdle:
		if err := m.Start(); err != nil {
			m.logger.Warnf("%s, retrying", err)
		}
	case StateScanning:
		m.scan(now)
	case StateConnected:
		m.monitor(now)
	}

	if m.state != StateConnected {
		m.rejectCommands()
	}
}

// Run calls Tick() periodically until the context is cancelled, then closes the
// manager. A warning is logged for every tick exceeding the tick budget
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.Close()
		case <-ticker.C:
			start := time.Now()
			m.Tick()
			if elapsed := time.Since(start); m.tickBudget > 0 && elapsed > m.tickBudget {
				m.logger.Warnf("tick in state `%s` took %v (budget: %v)", m.state, elapsed, m.tickBudget)
			}
		}
	}
}

// Close terminates any active connection and returns the manager to its idle state
func (m *Manager) Close() error {
	var err error
	if m.conn != nil {
		m.logger.Infof("disconnecting from `%s`", m.conn.device)
		err = m.conn.driver.Disconnect()
		m.conn = nil
	}
	m.setState(StateIdle)
	m.rejectCommands()

	return err
}

////////////////////////////////////////////////////////////////////////////////

func (m *Manager) scan(now time.Time) {

	devices := m.scanner.Discovered()
	discoveries := make([]Discovery, 0, len(devices))

	var (
		candidate radio.Device
		family    = scale.FamilyUnknown
	)
	for _, dev := range devices {
		f := scale.Classify(dev.Name)
		discoveries = append(discoveries, Discovery{Device: dev, Family: f.String()})
		if family == scale.FamilyUnknown && f != scale.FamilyUnknown {
			candidate, family = dev, f
		}
	}
	m.publishDiscoveries(discoveries)

	if len(devices) > 0 && m.discoveryLog.AllowN(now, 1) {
		m.logDiscoveries(discoveries)
	}

	if family == scale.FamilyUnknown {
		if now.Sub(m.lastActivity) >= m.rescanInterval {
			m.logger.Infof("no supported scale found within %v, restarting scan", m.rescanInterval)
			if err := m.scanner.Restart(); err != nil {
				m.logger.Warnf("failed to restart scanning: %s", err)
			}
			m.lastActivity = now
		}
		return
	}

	m.lastActivity = now
	m.connect(candidate, family, now)
}

func (m *Manager) connect(dev radio.Device, family scale.Family, now time.Time) {
	m.setState(StateAttemptingConnect)
	m.logger.Infof("attempting to connect to %s scale `%s`", family, dev)

	driver, err := m.factory.Create(dev)
	if err != nil {
		m.logger.Warnf("failed to instantiate driver for `%s`: %s", dev, err)
		m.setState(StateScanning)
		return
	}

	// Register routes before connecting, so no early event is lost
	driver.SetDataHandler(m.routeWeight)
	driver.SetLogHandler(m.routeLog)

	if err := driver.Connect(); err != nil {
		m.logger.Warnf("failed to connect to `%s`: %s", dev, err)
		if err := driver.Disconnect(); err != nil {
			m.logger.Debugf("failed to release driver for `%s`: %s", dev, err)
		}
		m.setState(StateScanning)
		return
	}

	m.conn = &connection{
		device: dev,
		family: family,
		driver: driver,
	}
	m.lastReport = now
	m.publishCapabilities(driver)
	m.logger.Infof("connected to %s scale `%s`", family, dev)
	m.setState(StateConnected)
}

func (m *Manager) monitor(now time.Time) {
	driver := m.conn.driver
	driver.Update()

	if !driver.IsConnected() {
		m.setState(StateReconnecting)
		m.logger.Warnf("lost connection to `%s`", m.conn.device)

		if err := driver.Disconnect(); err != nil {
			m.logger.Warnf("failed to disconnect from `%s`: %s", m.conn.device, err)
		}
		m.conn = nil

		if err := m.scanner.Restart(); err != nil {
			m.logger.Warnf("failed to restart scanning: %s", err)
		}
		m.lastActivity = now
		m.setState(StateScanning)
		return
	}

	m.execCommands(driver)
	m.publishCapabilities(driver)

	if now.Sub(m.lastReport) >= m.reportInterval {
		m.lastReport = now
		m.logger.Infof("weight: %.2f", driver.Weight())
	}
}

func (m *Manager) routeWeight(data scale.DataPoint) {
	m.mu.Lock()
	m.status.LastSample = &data
	m.mu.Unlock()

	if m.weightHandler != nil {
		m.weightHandler(data)
	}
}

func (m *Manager) routeLog(msg string) {
	m.logger.Debugf("scale: %s", msg)

	if m.logHandler != nil {
		m.logHandler(msg)
	}
}

func (m *Manager) logDiscoveries(discoveries []Discovery) {
	names := make([]string, 0, len(discoveries))
	for _, d := range discoveries {
		names = append(names, fmt.Sprintf("%s (%s)", d.Device, d.Family))
	}
	m.logger.Infof("discovered %d device(s): %s", len(discoveries), strings.Join(names, ", "))
}

func (m *Manager) publishCapabilities(driver scale.Driver) {
	var battery, timer *float64
	if b, ok := driver.(scale.Battery); ok {
		level := b.BatteryLevel()
		battery = &level
	}
	if t, ok := driver.(scale.Timer); ok {
		seconds := t.ElapsedTime().Seconds()
		timer = &seconds
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.BatteryLevel = battery
	m.status.TimerSeconds = timer
}

func (m *Manager) publishDiscoveries(discoveries []Discovery) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.devices = discoveries
	m.status.Discovered = len(discoveries)
}

func (m *Manager) setState(state State) {
	if state == m.state {
		return
	}
	m.state = state

	m.mu.Lock()
	m.status.State = state
	m.status.Since = m.clock.Now()
	if m.conn != nil {
		dev := m.conn.device.Clone()
		m.status.Device = &dev
		m.status.Family = m.conn.family.String()
	} else {
		m.status.Device = nil
		m.status.Family = ""
		m.status.LastSample = nil
		m.status.BatteryLevel = nil
		m.status.TimerSeconds = nil
	}
	m.mu.Unlock()

	// Call handler function, if any
	if m.stateChangeHandler != nil {
		m.stateChangeHandler(state)
	}

	// Put state change on channel, if any
	if m.stateChangeChan != nil {
		select {
		case m.stateChangeChan <- state:
		default:
		}
	}
}
