package acaia

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	header1 byte = 0xEF
	header2 byte = 0xDD

	cmdHeartbeat    byte = 0
	cmdTare         byte = 4
	cmdGetStatus    byte = 6
	cmdStatus       byte = 8
	cmdIdentify     byte = 11
	cmdEvent        byte = 12
	cmdEventRequest byte = 12

	eventWeight    byte = 5
	eventBattery   byte = 6
	eventTimer     byte = 7
	eventKey       byte = 8
	eventHeartbeat byte = 11

	// Frame overhead: two header bytes, command, two checksum bytes
	frameOverhead = 5

	maxBufferedBytes = 1024
)

var (
	errFrameTooShort = errors.New("frame too short")
	errBadUnit       = errors.New("bad weight unit")
)

// encode builds a framed command: header, command, payload and the split checksum
// over the payload (sum of even / odd indexed bytes)
func encode(cmd byte, payload []byte) []byte {
	msg := make([]byte, 0, len(payload)+frameOverhead)
	msg = append(msg, header1, header2, cmd)
	msg = append(msg, payload...)

	var csum1, csum2 byte
	for i, b := range payload {
		if i%2 == 0 {
			csum1 += b
		} else {
			csum2 += b
		}
	}

	return append(msg, csum1, csum2)
}

func identifyCommand() []byte {
	return encode(cmdIdentify, []byte{
		0x30, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37,
		0x38, 0x39, 0x30, 0x31, 0x32, 0x33, 0x34,
	})
}

func eventRequestCommand() []byte {
	events := []byte{
		0x00, // weight
		0x01, // weight argument
		0x01, // battery
		0x02, // battery argument
		0x02, // timer
		0x05, // timer argument
		0x03, // key
		0x04, // setting
	}

	payload := make([]byte, 1+len(events))
	payload[0] = byte(len(events) + 1)
	copy(payload[1:], events)

	return encode(cmdEventRequest, payload)
}

func heartbeatCommand() []byte {
	return encode(cmdHeartbeat, []byte{0x02, 0x00})
}

func tareCommand() []byte {
	return encode(cmdTare, []byte{0x00})
}

func getStatusCommand() []byte {
	return encode(cmdGetStatus, []byte{0x00})
}

////////////////////////////////////////////////////////////////////////////////

// message denotes a decoded frame
type message interface{}

type weightMessage struct {
	Weight float64
	Stable bool
}

type batteryMessage struct {
	Level float64
}

type timerMessage struct {
	Seconds float64
}

type keyMessage struct {
	Key    string
	Weight *float64
}

type statusMessage struct {
	Battery float64
	Grams   bool
}

type unhandledMessage struct {
	Command byte
	Event   *byte
	Frame   []byte
}

// decoder reassembles frames from a notification stream. Notifications may split a
// frame or carry more than one
type decoder struct {
	buf []byte
}

// feed appends data and returns all complete messages it could decode, plus decoding
// errors of malformed frames (which are skipped)
func (d *decoder) feed(data []byte) ([]message, []error) {
	d.buf = append(d.buf, data...)

	var (
		msgs []message
		errs []error
	)
	for {
		idx := bytes.Index(d.buf, []byte{header1, header2})
		if idx == -1 {

			// Keep a trailing first header byte, it may start the next frame
			if n := len(d.buf); n > 0 && d.buf[n-1] == header1 {
				d.buf = d.buf[n-1:]
			} else {
				d.buf = d.buf[:0]
			}
			break
		}
		d.buf = d.buf[idx:]

		if len(d.buf) < 4 {
			break
		}
		frameLen := int(d.buf[3]) + frameOverhead
		if len(d.buf) < frameLen {
			break
		}

		frame := append([]byte(nil), d.buf[:frameLen]...)
		d.buf = d.buf[frameLen:]

		msg, err := parseFrame(frame)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}

	if len(d.buf) > maxBufferedBytes {
		d.buf = d.buf[:0]
	}

	return msgs, errs
}

func (d *decoder) reset() {
	d.buf = d.buf[:0]
}

func parseFrame(frame []byte) (message, error) {
	if len(frame) < frameOverhead+1 {
		return nil, errFrameTooShort
	}

	switch cmd := frame[2]; cmd {
	case cmdEvent:
		if len(frame) < frameOverhead+2 {
			return nil, errFrameTooShort
		}
		return parseEvent(frame[4], frame[5:len(frame)-2], frame)
	case cmdStatus:
		return parseStatus(frame[3 : len(frame)-2])
	default:
		return unhandledMessage{
			Command: cmd,
			Frame:   frame,
		}, nil
	}
}

func parseEvent(event byte, payload []byte, frame []byte) (message, error) {
	switch event {
	case eventWeight:
		w, stable, err := decodeWeight(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode weight event: %w", err)
		}
		return weightMessage{Weight: w, Stable: stable}, nil
	case eventBattery:
		if len(payload) < 1 {
			return nil, fmt.Errorf("failed to decode battery event: %w", errFrameTooShort)
		}
		return batteryMessage{Level: float64(payload[0]&0x7F) / 100.}, nil
	case eventTimer:
		s, err := decodeTime(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode timer event: %w", err)
		}
		return timerMessage{Seconds: s}, nil
	case eventKey:
		return parseKey(payload)
	case eventHeartbeat:

		// Heartbeat responses carry an embedded weight or timer event
		if len(payload) > 3 && payload[2] == eventWeight {
			w, stable, err := decodeWeight(payload[3:])
			if err == nil {
				return weightMessage{Weight: w, Stable: stable}, nil
			}
		}
		if len(payload) > 3 && payload[2] == eventTimer {
			s, err := decodeTime(payload[3:])
			if err == nil {
				return timerMessage{Seconds: s}, nil
			}
		}
		fallthrough
	default:
		return unhandledMessage{
			Command: cmdEvent,
			Event:   &event,
			Frame:   frame,
		}, nil
	}
}

func parseKey(payload []byte) (message, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("failed to decode key event: %w", errFrameTooShort)
	}

	var msg keyMessage
	switch {
	case payload[0] == 0x00 && payload[1] == 0x05:
		msg.Key = "tare"
		if w, _, err := decodeWeight(payload[2:]); err == nil {
			msg.Weight = &w
		}
	case payload[0] == 0x08 && payload[1] == 0x05:
		msg.Key = "start"
	case payload[0] == 0x0a && payload[1] == 0x07:
		msg.Key = "stop"
	case payload[0] == 0x09 && payload[1] == 0x07:
		msg.Key = "reset"
	default:
		msg.Key = "unknown"
	}

	return msg, nil
}

func parseStatus(payload []byte) (message, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("failed to decode status: %w", errFrameTooShort)
	}

	return statusMessage{
		Battery: float64(payload[1]&0x7F) / 100.,
		Grams:   payload[2] == 2,
	}, nil
}

// decodeWeight decodes a 32 bit little endian value scaled by a power of ten given in
// the unit byte, and the sign / stability flags
func decodeWeight(payload []byte) (float64, bool, error) {
	if len(payload) < 6 {
		return 0, false, errFrameTooShort
	}

	var divisor float64
	switch unit := payload[4]; unit {
	case 1:
		divisor = 10.
	case 2:
		divisor = 100.
	case 3:
		divisor = 1000.
	case 4:
		divisor = 10000.
	default:
		return 0, false, fmt.Errorf("%w: %d", errBadUnit, unit)
	}

	weight := float64(binary.LittleEndian.Uint32(payload[0:4])) / divisor
	if payload[5]&0x02 != 0 {
		weight = -weight
	}

	return weight, payload[5]&0x01 == 0, nil
}

func decodeTime(payload []byte) (float64, error) {
	if len(payload) < 3 {
		return 0, errFrameTooShort
	}

	return float64(payload[0])*60. + float64(payload[1]) + float64(payload[2])/10., nil
}
