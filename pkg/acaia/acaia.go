package acaia

import (
	"context"
	"fmt"
	"time"

	"github.com/fako1024/scalelink/pkg/radio"
	"github.com/fako1024/scalelink/pkg/scale"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultHeartbeatInterval = 3 * time.Second
	defaultDataTimeout       = 10 * time.Second

	inboxLimit = 256
)

var (

	// Profiles denotes the GATT layouts of current and legacy Acaia firmwares
	Profiles = []radio.Profile{
		{
			Service: "49535343-fe7d-4ae5-8fa9-9fafd205e455",
			Command: "49535343-8841-43f4-a8d4-ecbe34729bb3",
			Notify:  "49535343-1e4d-4bd9-ba61-23c647249616",
		},
		{
			Service: "00001820-0000-1000-8000-00805f9b34fb",
			Command: "00002a80-0000-1000-8000-00805f9b34fb",
			Notify:  "00002a80-0000-1000-8000-00805f9b34fb",
		},
	}
)

// Acaia denotes an Acaia bluetooth scale (Lunar, Pearl, Pyxis, Proch)
type Acaia struct {
	device radio.Device
	dialer radio.Dialer
	link   radio.Link
	inbox  *radio.Inbox
	dec    decoder

	weight       float64
	batteryLevel float64
	unit         scale.Unit

	connectTimeout    time.Duration
	heartbeatInterval time.Duration
	dataTimeout       time.Duration
	now               func() time.Time

	lastHeartbeat time.Time
	lastData      time.Time
	stale         bool

	dataHandler func(data scale.DataPoint)
	logHandler  func(msg string)

	logger scale.Logger
}

// New instantiates a new Acaia struct for a discovered device, executing functional
// options, if any
func New(dev radio.Device, dialer radio.Dialer, options ...func(*Acaia)) *Acaia {

	a := &Acaia{
		device:            dev.Clone(),
		dialer:            dialer,
		inbox:             radio.NewInbox(inboxLimit),
		unit:              scale.UnitGrams,
		connectTimeout:    defaultConnectTimeout,
		heartbeatInterval: defaultHeartbeatInterval,
		dataTimeout:       defaultDataTimeout,
		now:               time.Now,
		logger:            &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(a)
	}

	return a
}

// Connect establishes the connection and performs the handshake
func (a *Acaia) Connect() error {
	if a.link != nil {
		return fmt.Errorf("already connected to `%s`", a.device)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.connectTimeout)
	defer cancel()

	a.inbox.Reset()
	a.dec.reset()
	a.stale = false

	link, err := a.dialer.Dial(ctx, a.device, Profiles, a.inbox.Push)
	if err != nil {
		return fmt.Errorf("failed to connect to Acaia scale `%s`: %w", a.device, err)
	}
	a.link = link

	for _, cmd := range [][]byte{identifyCommand(), eventRequestCommand()} {
		if err := a.link.Write(cmd, false); err != nil {
			_ = a.Disconnect()
			return fmt.Errorf("failed to perform handshake with `%s`: %w", a.device, err)
		}
	}

	now := a.now()
	a.lastHeartbeat, a.lastData = now, now
	a.log(fmt.Sprintf("connected to Acaia scale `%s`", a.device))

	return nil
}

// Disconnect terminates the connection to the device
func (a *Acaia) Disconnect() error {
	if a.link == nil {
		return nil
	}

	err := a.link.Close()
	a.link = nil
	a.inbox.Reset()
	a.dec.reset()

	return err
}

// IsConnected returns if the connection to the scale is alive
func (a *Acaia) IsConnected() bool {
	return a.link != nil && a.link.Connected() && !a.stale
}

// Update delivers queued notifications and keeps the connection alive
func (a *Acaia) Update() {
	if a.link == nil {
		return
	}

	now := a.now()
	a.process(now)

	if !a.link.Connected() {
		return
	}

	if now.Sub(a.lastData) >= a.dataTimeout {
		a.log(fmt.Sprintf("no data received from `%s` within %v", a.device, a.dataTimeout))
		a.stale = true
		return
	}

	if now.Sub(a.lastHeartbeat) >= a.heartbeatInterval {
		a.lastHeartbeat = now
		if err := a.heartbeat(); err != nil {
			a.log(fmt.Sprintf("failed to send heartbeat to `%s`: %s", a.device, err))
			a.stale = true
		}
	}
}

// Weight returns the most recently reported weight
func (a *Acaia) Weight() float64 {
	return a.weight
}

// BatteryLevel returns the most recently reported battery level
func (a *Acaia) BatteryLevel() float64 {
	return a.batteryLevel
}

// Tare tares the scale
func (a *Acaia) Tare() error {
	if a.link == nil {
		return scale.ErrNotConnected
	}
	return a.link.Write(tareCommand(), false)
}

// SetDataHandler defines a handler function that is called upon retrieval of data
func (a *Acaia) SetDataHandler(fn func(data scale.DataPoint)) {
	a.dataHandler = fn
}

// SetLogHandler defines a handler function that is called for driver log messages
func (a *Acaia) SetLogHandler(fn func(msg string)) {
	a.logHandler = fn
}

////////////////////////////////////////////////////////////////////////////////

func (a *Acaia) heartbeat() error {
	for _, cmd := range [][]byte{heartbeatCommand(), getStatusCommand(), eventRequestCommand()} {
		if err := a.link.Write(cmd, false); err != nil {
			return err
		}
	}
	return nil
}

func (a *Acaia) process(now time.Time) {
	pending, dropped := a.inbox.Drain()
	if dropped > 0 {
		a.log(fmt.Sprintf("dropped %d notifications from `%s`", dropped, a.device))
	}

	for _, data := range pending {
		a.lastData = now

		msgs, errs := a.dec.feed(data)
		for _, err := range errs {
			a.logger.Debugf("failed to decode notification from `%s`: %s", a.device, err)
		}
		for _, msg := range msgs {
			a.handle(msg, now)
		}
	}
}

func (a *Acaia) handle(msg message, now time.Time) {
	switch m := msg.(type) {
	case weightMessage:
		a.weight = m.Weight
		if a.dataHandler != nil {
			a.dataHandler(scale.DataPoint{
				TimeStamp: now,
				Unit:      a.unit,
				Weight:    m.Weight,
			})
		}
	case batteryMessage:
		a.batteryLevel = m.Level
	case statusMessage:
		a.batteryLevel = m.Battery
		if m.Grams {
			a.unit = scale.UnitGrams
		} else {
			a.unit = scale.UnitOz
		}
	case keyMessage:
		a.log(fmt.Sprintf("button pressed on `%s`: %s", a.device, m.Key))
	case timerMessage:
		a.logger.Debugf("timer update from `%s`: %.1fs", a.device, m.Seconds)
	case unhandledMessage:
		a.logger.Debugf("unhandled frame from `%s`: % X", a.device, m.Frame)
	}
}

func (a *Acaia) log(msg string) {
	a.logger.Debug(msg)
	if a.logHandler != nil {
		a.logHandler(msg)
	}
}
