package felicita

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/scale"
	"github.com/fatih/stopwatch"
)

const (
	dataService        = "ffe0"
	dataCharacteristic = "ffe1"

	frameLen = 18

	minBatteryLevel = 129.
	maxBatteryLevel = 158.

	cmdStartTimer = 0x52
	cmdStopTimer  = 0x53
	cmdResetTimer = 0x43

	cmdToggleBuzzer    = 0x42
	cmdTogglePrecision = 0x44
	cmdTare            = 0x54
	cmdToggleUnit      = 0x55

	defaultConnectTimeout = 10 * time.Second
	defaultDataTimeout    = 10 * time.Second

	btSettleDelay   = 50 * time.Millisecond
	btSettleRetries = 100

	inboxLimit = 256
)

var (

	// Profiles denotes the GATT layout of Felicita scales
	Profiles = []radio.Profile{
		{
			Service: dataService,
			Command: dataCharacteristic,
			Notify:  dataCharacteristic,
		},
	}
)

// Felicita denotes a Felicita bluetooth scale
type Felicita struct {
	device radio.Device
	dialer radio.Dialer
	link   radio.Link
	inbox  *radio.Inbox

	weight           float64
	batteryLevel     byte
	isBuzzingOnTouch bool
	unit             scale.Unit

	timer *stopwatch.Stopwatch

	forceBuzzerSettingOnConnect BuzzerSetting
	hasReceivedData             bool

	connectTimeout time.Duration
	dataTimeout    time.Duration
	settleDelay    time.Duration
	now            func() time.Time

	lastData time.Time
	stale    bool

	dataHandler func(data scale.DataPoint)
	logHandler  func(msg string)

	logger scale.Logger
}

// New instantiates a new Felicita struct for a discovered device, executing functional
// options, if any
func New(dev radio.Device, dialer radio.Dialer, options ...func(*Felicita)) *Felicita {

	// Initialize a new instance of a Felicita scale
	f := &Felicita{
		device:         dev.Clone(),
		dialer:         dialer,
		inbox:          radio.NewInbox(inboxLimit),
		unit:           scale.UnitUnknown,
		connectTimeout: defaultConnectTimeout,
		dataTimeout:    defaultDataTimeout,
		settleDelay:    btSettleDelay,
		now:            time.Now,
		logger:         &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(f)
	}

	return f
}

// Connect establishes the connection to the scale
func (f *Felicita) Connect() error {
	if f.link != nil {
		return fmt.Errorf("already connected to `%s`", f.device)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.connectTimeout)
	defer cancel()

	f.inbox.Reset()
	f.stale = false
	f.hasReceivedData = false

	link, err := f.dialer.Dial(ctx, f.device, Profiles, f.inbox.Push)
	if err != nil {
		return fmt.Errorf("failed to connect to Felicita scale `%s`: %w", f.device, err)
	}
	f.link = link
	f.lastData = f.now()
	f.log(fmt.Sprintf("connected to Felicita scale `%s`", f.device))

	return nil
}

// Disconnect terminates the connection to the device
func (f *Felicita) Disconnect() error {
	if f.link == nil {
		return nil
	}

	err := f.link.Close()
	f.link = nil
	f.inbox.Reset()

	return err
}

// IsConnected returns if the connection to the scale is alive
func (f *Felicita) IsConnected() bool {
	return f.link != nil && f.link.Connected() && !f.stale
}

// Update delivers queued measurements and checks the liveness of the connection
func (f *Felicita) Update() {
	if f.link == nil {
		return
	}

	now := f.now()
	pending, dropped := f.inbox.Drain()
	if dropped > 0 {
		f.log(fmt.Sprintf("dropped %d notifications from `%s`", dropped, f.device))
	}
	for _, req := range pending {
		f.lastData = now
		f.receiveData(req, now)
	}

	if f.link != nil && f.link.Connected() && now.Sub(f.lastData) >= f.dataTimeout {
		f.log(fmt.Sprintf("no data received from `%s` within %v", f.device, f.dataTimeout))
		f.stale = true
	}
}

// Weight returns the most recently reported weight
func (f *Felicita) Weight() float64 {
	return f.weight
}

// IsBuzzingOnTouch returns if the scale buzzer is turned on or not (on user interaction)
func (f *Felicita) IsBuzzingOnTouch() bool {
	return f.isBuzzingOnTouch
}

// BatteryLevel returns the current battery level
func (f *Felicita) BatteryLevel() float64 {
	return parseBatteryLevel(f.batteryLevel)
}

// BatteryLevelRaw returns the current battery level in its raw form
func (f *Felicita) BatteryLevelRaw() int {
	return int(f.batteryLevel)
}

// Unit returns the current weight unit
func (f *Felicita) Unit() scale.Unit {
	return f.unit
}

// SetDataHandler defines a handler function that is called upon retrieval of data
func (f *Felicita) SetDataHandler(fn func(data scale.DataPoint)) {
	f.dataHandler = fn
}

// SetLogHandler defines a handler function that is called for driver log messages
func (f *Felicita) SetLogHandler(fn func(msg string)) {
	f.logHandler = fn
}

// Tare tares the scale
func (f *Felicita) Tare() error {
	return f.write(cmdTare)
}

// Buzz requests the scale to beep / buzz n times
func (f *Felicita) Buzz(n int) (err error) {

	if n <= 0 {
		return fmt.Errorf("invalid number of beeps requested: %d", n)
	}

	// If the buzzer is currently turned on, shortly turn it off and ensure it is
	// re-enabled at the end of the function. In this case, n is reduced by one since
	// enabling the buzzer will cause yet another buzz at the end
	if f.IsBuzzingOnTouch() {
		if err = f.ToggleBuzzingOnTouch(); err != nil {
			return
		}
		n--
		if err = f.waitForBuzzer(false); err != nil {
			return
		}

		defer func() {
			if derr := f.ToggleBuzzingOnTouch(); derr != nil {
				err = derr
				return
			}
			if derr := f.waitForBuzzer(true); derr != nil {
				err = derr
				return
			}
		}()
	}

	for i := 0; i < n; i++ {

		// Buzz once, then restore former state
		if err = f.buzzAndRestore(); err != nil {
			return
		}
	}

	return nil
}

// ToggleBuzzingOnTouch turns the buzzer (on user interaction) on / off
func (f *Felicita) ToggleBuzzingOnTouch() error {
	return f.write(cmdToggleBuzzer)
}

// SetUnit changes the weight unit from / to g / oz
func (f *Felicita) SetUnit(unit scale.Unit) error {

	// Check if the unit is already set to the expected value
	if f.unit != scale.UnitUnknown && f.unit == unit {
		return nil
	}

	// Toggle unit, if not
	return f.write(cmdToggleUnit)
}

// TogglePrecision toggles the weight precision between 0.1 and 0.01
func (f *Felicita) TogglePrecision() error {
	return f.write(cmdTogglePrecision)
}

// StartTimer starts the timer / stopwatch
func (f *Felicita) StartTimer() error {
	if err := f.write(cmdStartTimer); err != nil {
		return err
	}

	if f.timer == nil {
		f.timer = stopwatch.Start(0)
	} else {
		f.timer.Start(0)
	}

	return nil
}

// StopTimer stops the timer / stopwatch
func (f *Felicita) StopTimer() error {
	if err := f.write(cmdStopTimer); err != nil {
		return err
	}

	if f.timer != nil {
		f.timer.Stop()
	}

	return nil
}

// ResetTimer resets the timer / stopwatch
func (f *Felicita) ResetTimer() error {
	if err := f.write(cmdResetTimer); err != nil {
		return err
	}

	if f.timer != nil {
		f.timer.Reset()
	}

	return nil
}

// ElapsedTime returns the current timer value
func (f *Felicita) ElapsedTime() time.Duration {
	if f.timer != nil {
		return f.timer.ElapsedTime()
	}

	return 0
}

////////////////////////////////////////////////////////////////////////////////

func (f *Felicita) write(cmd byte) error {
	if f.link == nil {
		return scale.ErrNotConnected
	}

	return f.link.Write([]byte{cmd}, false)
}

func (f *Felicita) log(msg string) {
	f.logger.Debug(msg)
	if f.logHandler != nil {
		f.logHandler(msg)
	}
}

func (f *Felicita) receiveData(req []byte, now time.Time) {

	if len(req) != frameLen {
		f.logger.Debugf("ignoring frame of unexpected length %d from `%s`", len(req), f.device)
		return
	}

	weight, convErr := strconv.ParseFloat(strings.TrimSpace(string(req[2:9])), 64)
	if convErr != nil {
		f.logger.Debugf("failed to parse weight from `%s`: %s", f.device, convErr)
		return
	}
	dataPoint := scale.DataPoint{
		TimeStamp: now,
		Weight:    weight / 100.,
		Unit:      parseUnit(req[9:11]),
	}
	f.weight = dataPoint.Weight
	f.batteryLevel = req[15]
	f.isBuzzingOnTouch = parseSignalFlag(req[14])
	f.unit = dataPoint.Unit

	// Upon first data reception, check if the Buzzer is configured as expected and
	// attempt to force the setting if not (unless not configured)
	f.forceBuzzerSetting()
	f.hasReceivedData = true

	// Call handler function, if any
	if f.dataHandler != nil {
		f.dataHandler(dataPoint)
	}
}

func (f *Felicita) buzzAndRestore() (err error) {
	if err = f.ToggleBuzzingOnTouch(); err != nil {
		return
	}
	if err = f.waitForBuzzer(true); err != nil {
		return
	}
	if err = f.ToggleBuzzingOnTouch(); err != nil {
		return
	}
	if err = f.waitForBuzzer(false); err != nil {
		return
	}

	return
}

// waitForBuzzer pumps incoming frames until the scale reports the target buzzer state
func (f *Felicita) waitForBuzzer(targetState bool) error {
	for i := 0; i < btSettleRetries; i++ {
		f.Update()
		if f.IsBuzzingOnTouch() == targetState {
			return nil
		}
		if !f.IsConnected() {
			return scale.ErrNotConnected
		}
		time.Sleep(f.settleDelay)
	}

	return fmt.Errorf("target buzzer state %v was not reached within %v", targetState, time.Duration(btSettleRetries)*f.settleDelay)
}

func (f *Felicita) forceBuzzerSetting() {
	if !f.hasReceivedData && f.forceBuzzerSettingOnConnect != "" {
		if f.isBuzzingOnTouch && f.forceBuzzerSettingOnConnect == BuzzerSettingOff ||
			!f.isBuzzingOnTouch && f.forceBuzzerSettingOnConnect == BuzzerSettingOn {
			if err := f.ToggleBuzzingOnTouch(); err != nil {
				f.logger.Warnf("failed to force buzzer setting to `%s`: %s", f.forceBuzzerSettingOnConnect, err)
			}
		}
	}
}

////////////////////////////////////////////////////////////////////////////////

func parseUnit(data []byte) scale.Unit {
	if len(data) != 2 {
		return scale.UnitUnknown
	}

	if strings.Contains(strings.ToLower(string(data)), "oz") {
		return scale.UnitOz
	}
	if strings.Contains(strings.ToLower(string(data)), "g") {
		return scale.UnitGrams
	}

	return scale.UnitUnknown
}

func parseBatteryLevel(data byte) float64 {

	val := int(data)
	if val < minBatteryLevel {
		return 0.
	} else if val > maxBatteryLevel {
		return 1.
	}

	return math.Round((float64(val)-minBatteryLevel)/(maxBatteryLevel-minBatteryLevel)*100.) / 100.
}

func parseSignalFlag(data byte) bool {
	return data == 0x22
}
