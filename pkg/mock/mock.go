// Package mock provides a simulated scale, scanner and driver factory, used for
// testing and for running without Bluetooth hardware
package mock

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/scale"
	"github.com/fatih/stopwatch"
)

const btSettleDelay = 250 * time.Millisecond

// Mock denotes a Mock bluetooth scale
type Mock struct {
	device radio.Device

	mu               sync.Mutex
	connected        bool
	pending          []event
	weight           float64
	batteryLevel     float64
	isBuzzingOnTouch bool
	isHighPrecision  bool
	unit             scale.Unit

	connects    int
	disconnects int
	updates     int
	tares       int

	timer *stopwatch.Stopwatch

	connectErr  error
	drift       float64
	settleDelay time.Duration
	now         func() time.Time

	dataHandler func(data scale.DataPoint)
	logHandler  func(msg string)
}

type event struct {
	data *scale.DataPoint
	msg  string
}

// New instantiates a new Mock struct for a (simulated) device, executing functional
// options, if any
func New(dev radio.Device, options ...func(*Mock)) *Mock {

	// Initialize a new instance of a Mock scale
	m := &Mock{
		device:       dev.Clone(),
		batteryLevel: 1.,
		unit:         scale.UnitGrams,
		settleDelay:  btSettleDelay,
		now:          time.Now,
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(m)
	}

	return m
}

// Device returns the device the mock was created for
func (m *Mock) Device() radio.Device {
	return m.device.Clone()
}

// Connect simulates a connection attempt
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connects++
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	m.pending = []event{{msg: fmt.Sprintf("connected to mock scale `%s`", m.device)}}

	return nil
}

// Disconnect simulates the termination of the connection
func (m *Mock) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disconnects++
	m.connected = false
	m.pending = nil

	return nil
}

// IsConnected returns if the simulated connection is alive
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connected
}

// Update delivers queued events in the order they were emitted. If a drift is
// configured, a new simulated measurement is generated first
func (m *Mock) Update() {
	m.mu.Lock()
	m.updates++
	if !m.connected {
		m.mu.Unlock()
		return
	}
	if m.drift != 0 {
		m.queueWeight(m.roundToPrecision(m.weight + m.drift))
	}
	pending := m.pending
	m.pending = nil
	dataHandler, logHandler := m.dataHandler, m.logHandler
	m.mu.Unlock()

	for _, ev := range pending {
		if ev.data != nil {
			if dataHandler != nil {
				dataHandler(*ev.data)
			}
			continue
		}
		if logHandler != nil {
			logHandler(ev.msg)
		}
	}
}

// Weight returns the most recently emitted weight
func (m *Mock) Weight() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.weight
}

// SetDataHandler defines a handler function that is called upon retrieval of data
func (m *Mock) SetDataHandler(fn func(data scale.DataPoint)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dataHandler = fn
}

// SetLogHandler defines a handler function that is called for driver log messages
func (m *Mock) SetLogHandler(fn func(msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logHandler = fn
}

// Emit queues a weight measurement for delivery upon the next Update()
func (m *Mock) Emit(weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queueWeight(weight)
}

// Log queues a log message for delivery upon the next Update()
func (m *Mock) Log(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = append(m.pending, event{msg: msg})
}

// Drop simulates a loss of the connection
func (m *Mock) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = false
}

// SetConnectErr defines the error returned by subsequent connection attempts
func (m *Mock) SetConnectErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectErr = err
}

// Connects returns the number of connection attempts
func (m *Mock) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connects
}

// Disconnects returns the number of Disconnect() calls
func (m *Mock) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.disconnects
}

// Updates returns the number of Update() calls
func (m *Mock) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.updates
}

// Tares returns the number of Tare() calls
func (m *Mock) Tares() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tares
}

// IsBuzzingOnTouch returns if the scale buzzer is turned on or not (on user interaction)
func (m *Mock) IsBuzzingOnTouch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.isBuzzingOnTouch
}

// IsHighPrecision returns if the scale reports weights with 0.01 precision
func (m *Mock) IsHighPrecision() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.isHighPrecision
}

// BatteryLevel returns the current battery level
func (m *Mock) BatteryLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.batteryLevel
}

// Unit returns the current weight unit
func (m *Mock) Unit() scale.Unit {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.unit
}

// Tare tares the scale
func (m *Mock) Tare() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return scale.ErrNotConnected
	}
	m.tares++
	m.queueWeight(0)

	return nil
}

// Buzz requests the scale to beep / buzz n times
func (m *Mock) Buzz(n int) (err error) {

	if n <= 0 {
		return fmt.Errorf("invalid number of beeps requested: %d", n)
	}

	// If the buzzer is currently turned on, shortly turn it off and ensure it is
	// re-enabled at the end of the function. In this case, n is reduced by one since
	// enabling the buzzer will cause yet another buzz at the end
	if m.IsBuzzingOnTouch() {
		if err = m.ToggleBuzzingOnTouch(); err != nil {
			return
		}
		n--
		time.Sleep(m.settleDelay)
		defer func() {
			if derr := m.ToggleBuzzingOnTouch(); derr != nil {
				err = derr
				return
			}
		}()
	}

	for i := 0; i < n; i++ {

		// Buzz once, then restore former state
		if err = m.ToggleBuzzingOnTouch(); err != nil {
			return
		}
		time.Sleep(m.settleDelay)
		if err = m.ToggleBuzzingOnTouch(); err != nil {
			return
		}
		time.Sleep(m.settleDelay)
	}

	return nil
}

// ToggleBuzzingOnTouch turns the buzzer (on user interaction) on / off
func (m *Mock) ToggleBuzzingOnTouch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return scale.ErrNotConnected
	}
	m.isBuzzingOnTouch = !m.isBuzzingOnTouch

	return nil
}

// SetUnit changes the weight unit from / to g / oz
func (m *Mock) SetUnit(unit scale.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unit = unit
	return nil
}

// TogglePrecision toggles the weight precision between 0.1 and 0.01
func (m *Mock) TogglePrecision() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return scale.ErrNotConnected
	}
	m.isHighPrecision = !m.isHighPrecision

	return nil
}

// StartTimer starts the timer / stopwatch
func (m *Mock) StartTimer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer == nil {
		m.timer = stopwatch.Start(0)
	} else {
		m.timer.Start(0)
	}

	return nil
}

// StopTimer stops the timer / stopwatch
func (m *Mock) StopTimer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}

	return nil
}

// ResetTimer resets the timer / stopwatch
func (m *Mock) ResetTimer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Reset()
	}

	return nil
}

// ElapsedTime returns the current timer value
func (m *Mock) ElapsedTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		return m.timer.ElapsedTime()
	}

	return 0
}

////////////////////////////////////////////////////////////////////////////////

func (m *Mock) roundToPrecision(weight float64) float64 {
	if m.isHighPrecision {
		return math.Round(weight*100.) / 100.
	}
	return math.Round(weight*10.) / 10.
}

func (m *Mock) queueWeight(weight float64) {
	m.weight = weight
	m.pending = append(m.pending, event{data: &scale.DataPoint{
		TimeStamp: m.now(),
		Unit:      m.unit,
		Weight:    weight,
	}})
}
