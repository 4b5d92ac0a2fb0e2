// Package mbox implements the byte-oriented mailbox transport between
// the host and the controller's firmware coprocessor. The mailbox is a
// pair of hardware FIFOs exposed through four registers: an empty flag
// and read-data register for the receive direction, and a full flag
// and write-data register for the transmit direction. Every exchange
// is a strict request-then-response; there is no framing-level
// recovery from interleaved transactions.
package mbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hwplane/mhdp/internal/busio"
)

// Mailbox register offsets in the controller address space.
const (
	RegFull   = 0x08
	RegEmpty  = 0x0c
	RegWrData = 0x10
	RegRdData = 0x14
)

// Poll policy for the mailbox flag registers.
const (
	PollInterval = 1 * time.Millisecond
	PollTimeout  = 5 * time.Second
)

// Transport errors.
var (
	// ErrTimeout reports that a mailbox flag did not clear within the
	// poll bound.
	ErrTimeout = errors.New("mailbox timed out")
	// ErrInvalidResponse reports a response header that does not match
	// the request; the offending frame's payload has been drained.
	ErrInvalidResponse = errors.New("invalid mailbox response")
)

// headerLen is the fixed size of the frame header:
// [opcode:1][module:1][length:2 big-endian].
const headerLen = 4

// Transport drives the mailbox FIFOs through a bus accessor.
type Transport struct {
	bus   *busio.Accessor
	clock busio.Clock
}

// New builds a Transport over bus. clock may be nil, in which case the
// wall clock is used.
func New(bus *busio.Accessor, clock busio.Clock) *Transport {
	if clock == nil {
		clock = busio.RealClock()
	}
	return &Transport{bus: bus, clock: clock}
}

// ReadByte waits for the mailbox to become non-empty and reads one
// byte from the read-data register.
func (t *Transport) ReadByte() (byte, error) {
	_, err := busio.PollTimeout(t.clock,
		func() uint32 { return t.bus.Read(RegEmpty) },
		func(v uint32) bool { return v == 0 },
		PollInterval, PollTimeout)
	if err != nil {
		return 0, fmt.Errorf("mailbox read: %w", ErrTimeout)
	}
	return byte(t.bus.Read(RegRdData)), nil
}

// WriteByte waits for the mailbox to have transmit space and writes
// one byte to the write-data register.
func (t *Transport) WriteByte(b byte) error {
	_, err := busio.PollTimeout(t.clock,
		func() uint32 { return t.bus.Read(RegFull) },
		func(v uint32) bool { return v == 0 },
		PollInterval, PollTimeout)
	if err != nil {
		return fmt.Errorf("mailbox write: %w", ErrTimeout)
	}
	t.bus.Write(RegWrData, uint32(b))
	return nil
}

// Send writes one request frame. Each byte is individually subject to
// the full-flag poll; the first failure aborts and the partial frame
// is not rolled back.
func (t *Transport) Send(module, opcode uint8, payload []byte) error {
	var header [headerLen]byte
	header[0] = opcode
	header[1] = module
	binary.BigEndian.PutUint16(header[2:], uint16(len(payload)))

	for _, b := range header {
		if err := t.WriteByte(b); err != nil {
			return err
		}
	}
	for _, b := range payload {
		if err := t.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}

// ValidateReceive reads a response header and checks it against the
// expected module, opcode and payload length. On mismatch the frame's
// declared payload is drained so the channel stays aligned for the
// next exchange, and ErrInvalidResponse is returned. On match nothing
// beyond the header has been consumed.
func (t *Transport) ValidateReceive(module, opcode uint8, wantLen uint16) error {
	var header [headerLen]byte
	for i := range header {
		b, err := t.ReadByte()
		if err != nil {
			return err
		}
		header[i] = b
	}

	gotLen := binary.BigEndian.Uint16(header[2:])
	if header[0] != opcode || header[1] != module || gotLen != wantLen {
		for i := uint16(0); i < gotLen; i++ {
			if _, err := t.ReadByte(); err != nil {
				break
			}
		}
		return fmt.Errorf("want module %#x opcode %#x len %d, got %#x %#x %d: %w",
			module, opcode, wantLen, header[1], header[0], gotLen, ErrInvalidResponse)
	}
	return nil
}

// ReadReceive reads exactly len(buf) payload bytes. A single timeout
// aborts the whole read.
func (t *Transport) ReadReceive(buf []byte) error {
	for i := range buf {
		b, err := t.ReadByte()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}
