package scale

import "time"

// Driver denotes a live session with a remote scale, independent of its vendor
// protocol. Handlers are invoked synchronously from within Update(), in the order
// the scale reported the underlying events
type Driver interface {

	// Connect establishes the connection to the scale
	Connect() error

	// Disconnect terminates the connection and releases all radio resources
	Disconnect() error

	// IsConnected returns if the connection to the scale is still alive
	IsConnected() bool

	// Update performs pending connection maintenance and delivers queued events
	Update()

	// Weight returns the most recently reported weight
	Weight() float64

	// SetDataHandler defines a handler function that is called upon retrieval of data
	SetDataHandler(fn func(data DataPoint))

	// SetLogHandler defines a handler function that is called for driver log messages
	SetLogHandler(fn func(msg string))
}

// Tarer denotes a scale that can be tared remotely
type Tarer interface {

	// Tare tares the scale
	Tare() error
}

// Buzzer denotes audible signaling functionality
type Buzzer interface {

	// IsBuzzingOnTouch returs if the buzzer  (on user interaction) is on / off
	IsBuzzingOnTouch() bool

	// ToggleBuzzingOnTouch turns the buzzer (on user interaction) on / off
	ToggleBuzzingOnTouch() error
}

// Precision denotes a scale with switchable weight resolution
type Precision interface {

	// TogglePrecision toggles the weight precision between 0.1 and 0.01
	TogglePrecision() error
}

// Timer denotes timer / stopwatch functionality
type Timer interface {

	// StartTimer starts the timer / stopwatch
	StartTimer() error

	// StopTimer stops the timer / stopwatch
	StopTimer() error

	// ResetTimer resets the timer / stopwatch
	ResetTimer() error

	// ElapsedTime returns the current timer value
	ElapsedTime() time.Duration
}

// Battery denotes a scale reporting its battery level
type Battery interface {

	// BatteryLevel returns the current battery level (0 - 1)
	BatteryLevel() float64
}
