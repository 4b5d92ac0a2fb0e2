package mbox

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/hwplane/mhdp/internal/busio"
)

// fifoBus scripts the mailbox registers: rx is what the firmware has
// queued for the host, sent collects what the host wrote.
type fifoBus struct {
	rx         []byte
	sent       []byte
	stuckEmpty bool
	stuckFull  bool
	dataReads  int
}

func (b *fifoBus) Read32(off uint32) uint32 {
	switch off {
	case RegEmpty:
		if b.stuckEmpty || len(b.rx) == 0 {
			return 1
		}
		return 0
	case RegFull:
		if b.stuckFull {
			return 1
		}
		return 0
	case RegRdData:
		b.dataReads++
		if len(b.rx) == 0 {
			return 0
		}
		v := b.rx[0]
		b.rx = b.rx[1:]
		return uint32(v)
	}
	return 0
}

func (b *fifoBus) Write32(off uint32, val uint32) {
	if off == RegWrData {
		b.sent = append(b.sent, byte(val))
	}
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func newTransport(bus *fifoBus) *Transport {
	return New(busio.NewAccessor(busio.ModeDirect, bus, nil), &fakeClock{})
}

func TestSendFraming(t *testing.T) {
	bus := &fifoBus{}
	tr := newTransport(bus)

	if err := tr.Send(0x0a, 0x07, []byte{0xde, 0xad}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := []byte{0x07, 0x0a, 0x00, 0x02, 0xde, 0xad}
	if !bytes.Equal(bus.sent, want) {
		t.Errorf("sent % x, want % x", bus.sent, want)
	}
}

func TestSendEmptyPayload(t *testing.T) {
	bus := &fifoBus{}
	tr := newTransport(bus)

	if err := tr.Send(0x01, 0x11, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := []byte{0x11, 0x01, 0x00, 0x00}
	if !bytes.Equal(bus.sent, want) {
		t.Errorf("sent % x, want % x", bus.sent, want)
	}
}

func TestRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	bus := &fifoBus{rx: []byte{0x07, 0x0a, 0x00, 0x05, 1, 2, 3, 4, 5}}
	tr := newTransport(bus)

	if err := tr.ValidateReceive(0x0a, 0x07, 5); err != nil {
		t.Fatalf("ValidateReceive: %v", err)
	}
	got := make([]byte, 5)
	if err := tr.ReadReceive(got); err != nil {
		t.Fatalf("ReadReceive: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = % x, want % x", got, payload)
	}
}

func TestValidateReceiveDrainsOnMismatch(t *testing.T) {
	// Frame for the wrong opcode with a 6-byte payload; the whole
	// declared payload must be consumed before the error returns.
	bus := &fifoBus{rx: []byte{0x03, 0x0a, 0x00, 0x06, 9, 9, 9, 9, 9, 9}}
	tr := newTransport(bus)

	err := tr.ValidateReceive(0x0a, 0x07, 2)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
	if bus.dataReads != 4+6 {
		t.Errorf("read %d bytes, want header 4 + drained 6", bus.dataReads)
	}
	if len(bus.rx) != 0 {
		t.Errorf("%d bytes left in channel after drain", len(bus.rx))
	}
}

func TestValidateReceiveLengthMismatch(t *testing.T) {
	bus := &fifoBus{rx: []byte{0x07, 0x0a, 0x00, 0x03, 1, 2, 3}}
	tr := newTransport(bus)

	if err := tr.ValidateReceive(0x0a, 0x07, 8); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
	if len(bus.rx) != 0 {
		t.Errorf("mismatched frame not drained, %d bytes left", len(bus.rx))
	}
}

func TestReadByteTimeout(t *testing.T) {
	bus := &fifoBus{stuckEmpty: true}
	clock := &fakeClock{}
	tr := New(busio.NewAccessor(busio.ModeDirect, bus, nil), clock)

	_, err := tr.ReadByte()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	elapsed := clock.now.Sub(time.Time{})
	if elapsed < PollTimeout || elapsed > PollTimeout+10*PollInterval {
		t.Errorf("timed out after %v, poll bound is %v", elapsed, PollTimeout)
	}
}

func TestWriteByteTimeout(t *testing.T) {
	bus := &fifoBus{stuckFull: true}
	tr := newTransport(bus)

	if err := tr.WriteByte(0x42); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if len(bus.sent) != 0 {
		t.Errorf("byte written despite full mailbox: % x", bus.sent)
	}
}

func TestSendAbortsOnFirstFailure(t *testing.T) {
	bus := &fifoBus{}
	tr := newTransport(bus)

	if err := tr.Send(0x01, 0x02, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Jam the FIFO; the next send fails on its first byte and leaves
	// the channel exactly as the failed write found it.
	bus.stuckFull = true
	err := tr.Send(0x01, 0x02, []byte{1, 2, 3})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if len(bus.sent) != 4 {
		t.Errorf("sent %d bytes, want only the first frame's 4", len(bus.sent))
	}
}
