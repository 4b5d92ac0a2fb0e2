// Package sim models the controller and its firmware coprocessor in
// memory: a register file, the mailbox FIFO pair, and a responder
// that speaks the firmware's side of the command protocol. It backs
// the package tests and the CLI's demo mode.
package sim

import (
	"encoding/binary"
	"sync"
)

// Mailbox and APB register offsets served by the simulator. These
// mirror the controller layout.
const (
	regFull      = 0x08
	regEmpty     = 0x0c
	regWrData    = 0x10
	regRdData    = 0x14
	regKeepAlive = 0x18
	regVerL      = 0x1c
	regVerH      = 0x20
	regVerLibL   = 0x24
	regVerLibH   = 0x28
	regSWClkH    = 0x40
	regSWEvents0 = 0x44
)

// Mailbox module IDs and opcodes the responder understands.
const (
	moduleDPTX    = 0x01
	moduleGeneral = 0x0a

	opGeneralMainControl   = 0x01
	opGeneralWriteRegister = 0x05
	opGeneralReadRegister  = 0x07
	opGeneralGetHPDState   = 0x11

	opDPTXSetHostCap      = 0x01
	opDPTXGetEDID         = 0x02
	opDPTXReadDPCD        = 0x03
	opDPTXWriteDPCD       = 0x04
	opDPTXEnableEvent     = 0x05
	opDPTXWriteField      = 0x08
	opDPTXTrainingControl = 0x09
	opDPTXReadEvent       = 0x0a
	opDPTXReadLinkStat    = 0x0b
	opDPTXSetVideo        = 0x0c
	opDPTXHPDState        = 0x11
	opDPTXAdjustLT        = 0x12

	eqPhaseFinished = 1 << 3
)

// Controller is an in-memory controller + firmware model implementing
// the busio.Bus32 contract.
type Controller struct {
	mu sync.Mutex

	regs map[uint32]uint32 // firmware-visible register file
	dpcd map[uint32]byte

	rx []byte // host -> firmware, frames under assembly
	tx []byte // firmware -> host

	keepAlive uint32
	// FreezeAlive stops the keep-alive counter, simulating a hung
	// firmware.
	FreezeAlive bool

	// HPD is the hot-plug-detect status byte returned by both HPD
	// queries.
	HPD byte
	// EDID is the sink's EDID image served in half-blocks.
	EDID [256]byte
	// EDIDBadAttempts makes the responder echo a wrong segment index
	// for the first N EDID requests.
	EDIDBadAttempts int

	// TrainAfterEvents is how many READ_EVENT exchanges happen before
	// the responder reports equalization finished. Negative means
	// never (training hangs until the caller's deadline).
	TrainAfterEvents int
	eventReads       int

	// BWCode and Lanes are reported by READ_LINK_STAT.
	BWCode byte
	Lanes  byte
	// LinkStatReads counts READ_LINK_STAT exchanges.
	LinkStatReads int

	// StuckEmpty forces the receive FIFO to always read empty.
	// StuckFull forces the transmit FIFO to always read full.
	StuckEmpty bool
	StuckFull  bool

	// MangleNext corrupts the opcode of the next response frame, to
	// exercise the drain-on-mismatch path.
	MangleNext bool
}

// New returns a Controller with a plugged-in sink at HBR2 x4.
func New() *Controller {
	c := &Controller{
		regs:             make(map[uint32]uint32),
		dpcd:             make(map[uint32]byte),
		HPD:              1,
		BWCode:           0x14,
		Lanes:            4,
		TrainAfterEvents: 1,
	}
	c.regs[regVerL] = 0x23
	c.regs[regVerH] = 0x01
	return c
}

// Read32 implements busio.Bus32.
func (c *Controller) Read32(off uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch off {
	case regEmpty:
		if c.StuckEmpty || len(c.tx) == 0 {
			return 1
		}
		return 0
	case regFull:
		if c.StuckFull {
			return 1
		}
		return 0
	case regRdData:
		if len(c.tx) == 0 {
			return 0
		}
		b := c.tx[0]
		c.tx = c.tx[1:]
		return uint32(b)
	case regKeepAlive:
		if !c.FreezeAlive {
			c.keepAlive++
		}
		return c.keepAlive
	}
	return c.regs[off]
}

// Write32 implements busio.Bus32.
func (c *Controller) Write32(off uint32, val uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if off == regWrData {
		c.rx = append(c.rx, byte(val))
		c.dispatch()
		return
	}
	c.regs[off] = val
}

// Reg returns a register file entry, for assertions.
func (c *Controller) Reg(off uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[off]
}

// SetDPCD seeds link-partner register space.
func (c *Controller) SetDPCD(addr uint32, val byte) {
	c.mu.Lock()
	c.dpcd[addr] = val
	c.mu.Unlock()
}

// dispatch consumes complete frames from the receive buffer. Called
// with the lock held.
func (c *Controller) dispatch() {
	for {
		if len(c.rx) < 4 {
			return
		}
		plen := int(binary.BigEndian.Uint16(c.rx[2:4]))
		if len(c.rx) < 4+plen {
			return
		}
		opcode, module := c.rx[0], c.rx[1]
		payload := append([]byte(nil), c.rx[4:4+plen]...)
		c.rx = c.rx[4+plen:]
		c.handle(module, opcode, payload)
	}
}

// respond frames a response and queues it for the host.
func (c *Controller) respond(module, opcode byte, payload []byte) {
	if c.MangleNext {
		opcode ^= 0x80
		c.MangleNext = false
	}
	hdr := []byte{opcode, module, 0, 0}
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(payload)))
	c.tx = append(c.tx, hdr...)
	c.tx = append(c.tx, payload...)
}

func (c *Controller) handle(module, opcode byte, payload []byte) {
	switch {
	case module == moduleGeneral && opcode == opGeneralReadRegister:
		addr := binary.BigEndian.Uint32(payload)
		resp := make([]byte, 8)
		copy(resp, payload)
		binary.BigEndian.PutUint32(resp[4:], c.regs[addr])
		c.respond(module, opcode, resp)

	case module == moduleGeneral && opcode == opGeneralWriteRegister:
		addr := binary.BigEndian.Uint32(payload[:4])
		c.regs[addr] = binary.BigEndian.Uint32(payload[4:])

	case module == moduleGeneral && opcode == opGeneralMainControl:
		// Degenerate acknowledgment: the request frame is echoed
		// verbatim, standard response framing does not apply.
		c.tx = append(c.tx, opcode, module, 0, 1, payload[0])

	case module == moduleGeneral && opcode == opGeneralGetHPDState,
		module == moduleDPTX && opcode == opDPTXHPDState:
		c.respond(module, opcode, []byte{c.HPD})

	case module == moduleDPTX && opcode == opDPTXWriteField:
		addr := uint32(binary.BigEndian.Uint16(payload[:2]))
		start, count := payload[2], payload[3]
		val := binary.BigEndian.Uint32(payload[4:])
		mask := (uint32(1)<<count - 1) << start
		c.regs[addr] = c.regs[addr]&^mask | val<<start&mask

	case module == moduleDPTX && opcode == opDPTXReadDPCD:
		length := binary.BigEndian.Uint16(payload[:2])
		addr := be24(payload[2:])
		resp := make([]byte, 5+length)
		copy(resp, payload[:5])
		for i := uint16(0); i < length; i++ {
			resp[5+i] = c.dpcd[addr+uint32(i)]
		}
		c.respond(module, opcode, resp)

	case module == moduleDPTX && opcode == opDPTXWriteDPCD:
		addr := be24(payload[2:5])
		c.dpcd[addr] = payload[5]
		c.respond(module, opcode, payload[:5])

	case module == moduleDPTX && opcode == opDPTXGetEDID:
		seg, half := payload[0], payload[1]
		const halfLen = 64
		start := int(seg)*128 + int(half)*halfLen
		echoSeg := seg
		if c.EDIDBadAttempts > 0 {
			c.EDIDBadAttempts--
			echoSeg = seg + 1
		}
		resp := make([]byte, 2+halfLen)
		resp[0] = halfLen
		resp[1] = echoSeg
		copy(resp[2:], c.EDID[start:start+halfLen])
		c.respond(module, opcode, resp)

	case module == moduleDPTX && opcode == opDPTXTrainingControl:
		c.eventReads = 0

	case module == moduleDPTX && opcode == opDPTXReadEvent:
		var flags byte
		c.eventReads++
		if c.TrainAfterEvents >= 0 && c.eventReads > c.TrainAfterEvents {
			flags = eqPhaseFinished
		}
		c.respond(module, opcode, []byte{0, flags})

	case module == moduleDPTX && opcode == opDPTXReadLinkStat:
		c.LinkStatReads++
		resp := make([]byte, 10)
		resp[0] = c.BWCode
		resp[1] = c.Lanes
		c.respond(module, opcode, resp)

	case module == moduleDPTX && opcode == opDPTXAdjustLT:
		resp := make([]byte, 5+6)
		binary.BigEndian.PutUint16(resp[:2], 6)
		resp[2], resp[3], resp[4] = 0x00, 0x02, 0x02 // DPCD 0x202
		for i := 0; i < 6; i++ {
			resp[5+i] = c.dpcd[0x202+uint32(i)]
		}
		c.respond(moduleDPTX, opDPTXReadDPCD, resp)

	case module == moduleDPTX && opcode == opDPTXSetHostCap,
		module == moduleDPTX && opcode == opDPTXEnableEvent,
		module == moduleDPTX && opcode == opDPTXSetVideo:
		// Consumed without a response.
	}
}

func be24(p []byte) uint32 {
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
}
