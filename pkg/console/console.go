// Package console provides a serial port log sink, mirroring status lines to an
// attached terminal
package console

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// Console denotes a serial status console
type Console struct {
	port io.WriteCloser
	mu   sync.Mutex
}

// Open opens the serial port with the given baud rate, 8N1
func Open(portPath string, baud int) (*Console, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portPath, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port `%s`: %w", portPath, err)
	}

	return newConsole(port), nil
}

// Ports returns the serial ports available on the host
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// Write writes a chunk of log output, terminating lines with CR LF
func (c *Console) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
	if _, err := c.port.Write(out); err != nil {
		return 0, err
	}

	return len(data), nil
}

// Close closes the serial port
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.port.Close()
}

////////////////////////////////////////////////////////////////////////////////

func newConsole(port io.WriteCloser) *Console {
	return &Console{port: port}
}
