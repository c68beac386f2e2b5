package manager

import (
	"context"
	"errors"

	"github.com/fako1024/scalelink/pkg/scale"
)

var (
	// ErrQueueFull is returned when a command is submitted while the queue is full
	ErrQueueFull = errors.New("command queue full")

	// ErrUnsupportedCommand is returned when the connected scale lacks the capability
	// required by a command
	ErrUnsupportedCommand = errors.New("command not supported by scale")
)

// Command denotes an operation on the connected driver, executed on the tick
type Command func(d scale.Driver) error

type request struct {
	cmd    Command
	result chan error
}

// Tare tares the connected scale
func Tare(d scale.Driver) error {
	t, ok := d.(scale.Tarer)
	if !ok {
		return ErrUnsupportedCommand
	}
	return t.Tare()
}

// ToggleBuzzer toggles the buzzer (on user interaction) of the connected scale
func ToggleBuzzer(d scale.Driver) error {
	b, ok := d.(scale.Buzzer)
	if !ok {
		return ErrUnsupportedCommand
	}
	return b.ToggleBuzzingOnTouch()
}

// TogglePrecision toggles the weight precision of the connected scale
func TogglePrecision(d scale.Driver) error {
	p, ok := d.(scale.Precision)
	if !ok {
		return ErrUnsupportedCommand
	}
	return p.TogglePrecision()
}

// StartTimer starts (or resumes) the timer of the connected scale
func StartTimer(d scale.Driver) error {
	t, ok := d.(scale.Timer)
	if !ok {
		return ErrUnsupportedCommand
	}
	return t.StartTimer()
}

// StopTimer stops the timer of the connected scale
func StopTimer(d scale.Driver) error {
	t, ok := d.(scale.Timer)
	if !ok {
		return ErrUnsupportedCommand
	}
	return t.StopTimer()
}

// ResetTimer resets the timer of the connected scale
func ResetTimer(d scale.Driver) error {
	t, ok := d.(scale.Timer)
	if !ok {
		return ErrUnsupportedCommand
	}
	return t.ResetTimer()
}

// Submit queues a command for execution on the next tick. The returned channel
// receives the result exactly once. Commands queued while no scale is connected fail
// with scale.ErrNotConnected
func (m *Manager) Submit(cmd Command) <-chan error {
	result := make(chan error, 1)

	select {
	case m.commands <- request{cmd: cmd, result: result}:
	default:
		result <- ErrQueueFull
	}

	return result
}

// Do submits a command and waits for its result
func (m *Manager) Do(ctx context.Context, cmd Command) error {
	select {
	case err := <-m.Submit(cmd):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

////////////////////////////////////////////////////////////////////////////////

func (m *Manager) execCommands(d scale.Driver) {
	for {
		select {
		case req := <-m.commands:
			req.result <- req.cmd(d)
		default:
			return
		}
	}
}

func (m *Manager) rejectCommands() {
	for {
		select {
		case req := <-m.commands:
			req.result <- scale.ErrNotConnected
		default:
			return
		}
	}
}
