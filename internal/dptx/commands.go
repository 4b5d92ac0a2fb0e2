package dptx

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/hwplane/mhdp/internal/mbox"
)

func putBE24(p []byte, v uint32) {
	p[0] = byte(v >> 16)
	p[1] = byte(v >> 8)
	p[2] = byte(v)
}

func getBE24(p []byte) uint32 {
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
}

// exchange runs one request/response cycle: send the request, validate
// the response header against the same module/opcode with the exact
// expected payload size, and read the payload into resp. The device
// lock must be held.
func (d *Device) exchange(module, opcode uint8, req, resp []byte) error {
	if err := d.mbx.Send(module, opcode, req); err != nil {
		return err
	}
	if err := d.mbx.ValidateReceive(module, opcode, uint16(len(resp))); err != nil {
		return err
	}
	return d.mbx.ReadReceive(resp)
}

// RegRead reads a controller register through the firmware. The
// response echoes the requested address; an echo mismatch fails the
// read even though the header already validated.
func (d *Device) RegRead(addr uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regRead(addr)
}

func (d *Device) regRead(addr uint32) (uint32, error) {
	if addr == 0 {
		d.log.Error("register read failed", "err", ErrInvalidArgument)
		return 0, fmt.Errorf("reg read: %w: zero address", ErrInvalidArgument)
	}

	var req [4]byte
	var resp [8]byte
	binary.BigEndian.PutUint32(req[:], addr)

	err := d.exchange(ModuleIDGeneral, opGeneralReadRegister, req[:], resp[:])
	if err != nil {
		d.log.Error("register read failed", "addr", fmt.Sprintf("%#x", addr), "err", err)
		return 0, err
	}
	if !bytes.Equal(req[:], resp[:4]) {
		d.log.Error("register read failed", "addr", fmt.Sprintf("%#x", addr),
			"echo", fmt.Sprintf("%#x", binary.BigEndian.Uint32(resp[:4])))
		return 0, fmt.Errorf("reg read %#x: address echo mismatch: %w", addr, mbox.ErrInvalidResponse)
	}
	return binary.BigEndian.Uint32(resp[4:]), nil
}

// RegWrite writes a controller register through the firmware. The
// firmware sends no response for this command.
func (d *Device) RegWrite(addr, val uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regWrite(addr, val)
}

func (d *Device) regWrite(addr, val uint32) error {
	var req [8]byte
	binary.BigEndian.PutUint32(req[:4], addr)
	binary.BigEndian.PutUint32(req[4:], val)
	return d.mbx.Send(ModuleIDGeneral, opGeneralWriteRegister, req[:])
}

// RegFieldWrite writes a bit range within a register: bitCount bits
// starting at startBit take the low bits of val.
func (d *Device) RegFieldWrite(addr uint16, startBit, bitCount uint8, val uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regFieldWrite(addr, startBit, bitCount, val)
}

func (d *Device) regFieldWrite(addr uint16, startBit, bitCount uint8, val uint32) error {
	var req [8]byte
	binary.BigEndian.PutUint16(req[:2], addr)
	req[2] = startBit
	req[3] = bitCount
	binary.BigEndian.PutUint32(req[4:], val)
	return d.mbx.Send(ModuleIDDPTX, opDPTXWriteField, req[:])
}

// DPCDRead reads length bytes of the link partner's DPCD space
// starting at the 24-bit address addr.
func (d *Device) DPCDRead(addr uint32, length uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var req, echo [5]byte
	binary.BigEndian.PutUint16(req[:2], length)
	putBE24(req[2:], addr)

	if err := d.mbx.Send(ModuleIDDPTX, opDPTXReadDPCD, req[:]); err != nil {
		return nil, err
	}
	if err := d.mbx.ValidateReceive(ModuleIDDPTX, opDPTXReadDPCD, uint16(len(echo))+length); err != nil {
		return nil, err
	}
	if err := d.mbx.ReadReceive(echo[:]); err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if err := d.mbx.ReadReceive(data); err != nil {
		return nil, err
	}
	return data, nil
}

// DPCDWrite writes one byte of the link partner's DPCD space. The
// response echoes the address, which must match.
func (d *Device) DPCDWrite(addr uint32, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var req [6]byte
	var echo [5]byte
	binary.BigEndian.PutUint16(req[:2], 1)
	putBE24(req[2:], addr)
	req[5] = value

	err := d.exchange(ModuleIDDPTX, opDPTXWriteDPCD, req[:], echo[:])
	if err == nil && getBE24(echo[2:]) != addr {
		err = fmt.Errorf("dpcd write %#x: address echo mismatch: %w", addr, mbox.ErrInvalidResponse)
	}
	if err != nil {
		d.log.Error("dpcd write failed", "addr", fmt.Sprintf("%#x", addr), "err", err)
	}
	return err
}

// edidAttempts bounds the internal retry loop for EDID fetches. The
// count is hardware-proven; mismatched or failed attempts are retried
// without aborting and only the last error is reported.
const edidAttempts = 4

// GetEDIDBlock fetches one EDID half-block into buf. block selects
// which of the up-to-four half-blocks to read; len(buf) is the
// half-block length the firmware is asked for.
func (d *Device) GetEDIDBlock(block uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	for i := 0; i < edidAttempts; i++ {
		req := [2]byte{byte(block / 2), byte(block % 2)}
		var echo [2]byte

		if err = d.mbx.Send(ModuleIDDPTX, opDPTXGetEDID, req[:]); err != nil {
			continue
		}
		if err = d.mbx.ValidateReceive(ModuleIDDPTX, opDPTXGetEDID,
			uint16(len(echo)+len(buf))); err != nil {
			continue
		}
		if err = d.mbx.ReadReceive(echo[:]); err != nil {
			continue
		}
		if err = d.mbx.ReadReceive(buf); err != nil {
			continue
		}
		if echo[0] == byte(len(buf)) && echo[1] == byte(block/2) {
			break
		}
		err = fmt.Errorf("edid block %d: echoed length %d segment %d: %w",
			block, echo[0], echo[1], mbox.ErrInvalidResponse)
	}

	if err != nil {
		d.log.Error("get edid block failed", "block", block, "err", err)
	}
	return err
}

// SetHostCapabilities announces the host's link configuration to the
// firmware: the rate and lane count recorded in the device link state,
// scrambling on, full voltage-swing and pre-emphasis ranges, all
// training patterns, no fast link training, and enhanced framing.
func (d *Device) SetHostCapabilities(flip bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	mapping := byte(laneMappingNormal)
	if flip {
		mapping = laneMappingFlip
	}
	req := [8]byte{
		linkRateToBWCode(d.link.Rate),
		d.link.Lanes | scramblerEn,
		voltageLevel2,
		preEmphasisLevel3,
		pts1 | pts2 | pts3 | pts4,
		fastLTNotSupport,
		mapping,
		enhancedFraming,
	}

	err := d.mbx.Send(ModuleIDDPTX, opDPTXSetHostCapabilities, req[:])
	if err != nil {
		d.log.Error("set host capabilities failed", "err", err)
	}
	return err
}

// EventConfig enables HPD and training event reporting.
func (d *Device) EventConfig() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var req [5]byte
	req[0] = eventEnableHPD | eventEnableTraining

	err := d.mbx.Send(ModuleIDDPTX, opDPTXEnableEvent, req[:])
	if err != nil {
		d.log.Error("set event config failed", "err", err)
	}
	return err
}

// GetHPDStatus queries the DP TX module's hot-plug-detect state.
func (d *Device) GetHPDStatus() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hpdQuery(ModuleIDDPTX, opDPTXHPDState)
}

// ReadHPD queries the general module's hot-plug-detect state.
func (d *Device) ReadHPD() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hpdQuery(ModuleIDGeneral, opGeneralGetHPDState)
}

func (d *Device) hpdQuery(module, opcode uint8) (uint8, error) {
	var status [1]byte
	if err := d.exchange(module, opcode, nil, status[:]); err != nil {
		d.log.Error("read hpd failed", "err", err)
		return 0, err
	}
	return status[0], nil
}

// SetVideoStatus starts or stops the video stream.
func (d *Device) SetVideoStatus(active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	req := [1]byte{0}
	if active {
		req[0] = 1
	}
	err := d.mbx.Send(ModuleIDDPTX, opDPTXSetVideo, req[:])
	if err != nil {
		d.log.Error("set video status failed", "err", err)
	}
	return err
}

// AdjustLinkTraining sends per-lane drive settings and returns the six
// link-status DPCD registers (0x202-0x207). The response reuses the
// DPCD-read framing and must echo the lane 0/1 status address.
func (d *Device) AdjustLinkTraining(nlanes uint8, delayUS uint16, lanesData []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	const nregs = 6

	if nlanes != 1 && nlanes != 2 && nlanes != 4 {
		err := fmt.Errorf("adjust link training: %w: %d lanes", ErrInvalidArgument, nlanes)
		d.log.Error("adjust link training failed", "err", err)
		return nil, err
	}

	// The request layout is fixed at 7 bytes regardless of lane count;
	// only the first nlanes bytes of the lane-data area carry data.
	var req [7]byte
	req[0] = nlanes
	binary.BigEndian.PutUint16(req[1:3], delayUS)
	copy(req[3:], lanesData[:nlanes])

	if err := d.mbx.Send(ModuleIDDPTX, opDPTXAdjustLT, req[:]); err != nil {
		d.log.Error("adjust link training failed", "err", err)
		return nil, err
	}

	var hdr [5]byte
	if err := d.mbx.ValidateReceive(ModuleIDDPTX, opDPTXReadDPCD, uint16(len(hdr)+nregs)); err != nil {
		d.log.Error("adjust link training failed", "err", err)
		return nil, err
	}
	if err := d.mbx.ReadReceive(hdr[:]); err != nil {
		d.log.Error("adjust link training failed", "err", err)
		return nil, err
	}
	if addr := getBE24(hdr[2:]); addr != dpcdLane01Status {
		err := fmt.Errorf("adjust link training: status address %#x: %w", addr, mbox.ErrInvalidResponse)
		d.log.Error("adjust link training failed", "err", err)
		return nil, err
	}

	dpcd := make([]byte, nregs)
	if err := d.mbx.ReadReceive(dpcd); err != nil {
		d.log.Error("adjust link training failed", "err", err)
		return nil, err
	}
	return dpcd, nil
}

// PHYRead reads a PHY analog front-end register.
func (d *Device) PHYRead(addr uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regRead(AddrPHYAFE + (addr << 2))
}

// PHYWrite writes a PHY analog front-end register.
func (d *Device) PHYWrite(addr, val uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regWrite(AddrPHYAFE+(addr<<2), val)
}
