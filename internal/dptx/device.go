// Package dptx drives a DisplayPort transmitter controller whose
// register file and link partner are reached through a firmware
// coprocessor behind a byte mailbox. It layers typed commands over
// the mailbox transport, owns the firmware lifecycle, and runs the
// link-training and video-timing sequences.
package dptx

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hwplane/mhdp/internal/busio"
	"github.com/hwplane/mhdp/internal/mbox"
)

// Errors returned by the command layer. Transport-level failures
// surface as mbox.ErrTimeout and mbox.ErrInvalidResponse.
var (
	// ErrInvalidArgument reports a request the firmware cannot encode,
	// such as a zero register address or an unsupported lane count.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotReady reports that the firmware failed its alive check
	// after a load.
	ErrNotReady = errors.New("firmware not ready")
)

// Firmware-alive poll policy.
const (
	aliveInterval = 2 * time.Millisecond
	aliveTimeout  = 1 * time.Second

	aliveSamples     = 50
	aliveSampleDelay = 2 * time.Microsecond
)

// LinkRate is a DisplayPort main-link rate in units of 10 kbit/s per
// lane, matching the DPCD bandwidth-code granularity of 0.27 Gbit/s.
type LinkRate uint32

const (
	LinkRateRBR  LinkRate = 162000
	LinkRateHBR  LinkRate = 270000
	LinkRateHBR2 LinkRate = 540000
	LinkRateHBR3 LinkRate = 810000
)

// bwCodeUnit converts between DPCD bandwidth codes and LinkRate.
const bwCodeUnit = 27000

func linkRateToBWCode(rate LinkRate) uint8 { return uint8(rate / bwCodeUnit) }
func bwCodeToLinkRate(code uint8) LinkRate { return LinkRate(code) * bwCodeUnit }

// LinkState holds the negotiated main-link parameters. It is mutated
// only by training-status queries.
type LinkState struct {
	Rate  LinkRate
	Lanes uint8
}

// Config supplies the platform collaborators for a Device.
type Config struct {
	// Bus is the controller's base register region.
	Bus busio.Bus32
	// SecBus is the secure (SAPB) region; required for the SAPB and
	// windowed addressing modes, may be nil otherwise.
	SecBus busio.Bus32
	// Mode selects the addressing scheme.
	Mode busio.Mode
	// Clock overrides the wall clock, for tests.
	Clock busio.Clock
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Device is the handle for one physical controller. All protocol
// operations hold the device lock for the whole exchange: the mailbox
// has no framing-level recovery from interleaved transactions.
type Device struct {
	mu    sync.Mutex
	bus   *busio.Accessor
	mbx   *mbox.Transport
	clock busio.Clock
	log   *slog.Logger

	fwVersion uint32
	link      LinkState
	video     VideoInfo
	mode      DisplayMode
}

// New builds a Device from cfg.
func New(cfg Config) (*Device, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("dptx: %w: nil bus", ErrInvalidArgument)
	}
	switch cfg.Mode {
	case busio.ModeNormalSAPB, busio.ModeLow4KAPB, busio.ModeLow4KSAPB:
		if cfg.SecBus == nil {
			return nil, fmt.Errorf("dptx: %w: mode %d requires a secure region", ErrInvalidArgument, cfg.Mode)
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = busio.RealClock()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	bus := busio.NewAccessor(cfg.Mode, cfg.Bus, cfg.SecBus)
	return &Device{
		bus:   bus,
		mbx:   mbox.New(bus, clock),
		clock: clock,
		log:   log,
	}, nil
}

// BusRead reads a controller register directly over the APB, without
// involving the firmware.
func (d *Device) BusRead(off uint32) uint32 { return d.bus.Read(off) }

// BusWrite writes a controller register directly over the APB.
func (d *Device) BusWrite(off uint32, val uint32) { d.bus.Write(off, val) }

// FirmwareVersion returns the version word latched by LoadFirmware.
func (d *Device) FirmwareVersion() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fwVersion
}

// Link returns the most recently negotiated link parameters.
func (d *Device) Link() LinkState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.link
}

// FWClock returns the firmware reference clock in MHz.
func (d *Device) FWClock() uint32 {
	return d.bus.Read(regSWClkH)
}

// SetFWClock programs the firmware reference clock from a rate in Hz.
func (d *Device) SetFWClock(hz uint64) {
	d.bus.Write(regSWClkH, uint32(hz/1_000_000))
}

// ClockReset ungates and releases reset on every source clock domain,
// then unmasks the mailbox and PIF interrupts. Must run before the
// firmware is started.
func (d *Device) ClockReset() {
	d.bus.Write(regSourceDPTXCAR,
		dptxFrmrDataClkRstnEn|dptxFrmrDataClkEn|
			dptxPhyDataRstnEn|dptxPhyDataClkEn|
			dptxPhyCharRstnEn|dptxPhyCharClkEn|
			sourceAuxSysClkRstnEn|sourceAuxSysClkEn|
			dptxSysClkRstnEn|dptxSysClkEn|
			cfgDPTXVIFClkRstnEn|cfgDPTXVIFClkEn)

	d.bus.Write(regSourcePHYCAR, sourcePhyRstnEn|sourcePhyClkEn)

	d.bus.Write(regSourcePktCAR,
		sourcePktSysRstnEn|sourcePktSysClkEn|
			sourcePktDataRstnEn|sourcePktDataClkEn)

	d.bus.Write(regSourceAIFCAR,
		spdifCDRClkRstnEn|spdifCDRClkEn|
			sourceAifSysRstnEn|sourceAifSysClkEn|
			sourceAifClkRstnEn|sourceAifClkEn)

	d.bus.Write(regSourceCipherCAR,
		sourceCipherSysClkRstnEn|sourceCipherSysClkEn|
			sourceCipherCharClkRstnEn|sourceCipherCharClkEn)

	d.bus.Write(regSourceCryptoCAR,
		sourceCryptoSysClkRstn|sourceCryptoSysClkEn)

	d.bus.Write(regAPBIntMask, 0)
}

// LoadFirmware copies the instruction and data images into the
// firmware memories word by word, releases the µCPU from reset, and
// waits for the keep-alive counter to start. On success the firmware
// version word is latched.
func (d *Device) LoadFirmware(imem, dmem []uint32) error {
	return d.LoadFirmwareProgress(imem, dmem, nil)
}

// LoadFirmwareProgress is LoadFirmware with a progress callback for
// interactive callers: after every word written, progress receives the
// running count and the combined image size. progress may be nil.
func (d *Device) LoadFirmwareProgress(imem, dmem []uint32, progress func(written, total int)) error {
	d.bus.Write(regAPBCtrl, apbIRAMPath|apbDRAMPath|apbXTReset)

	total := len(imem) + len(dmem)
	for i, w := range imem {
		d.bus.Write(addrIMEM+uint32(i)*4, w)
		if progress != nil {
			progress(i+1, total)
		}
	}
	for i, w := range dmem {
		d.bus.Write(addrDMEM+uint32(i)*4, w)
		if progress != nil {
			progress(len(imem)+i+1, total)
		}
	}

	d.bus.Write(regAPBCtrl, 0)

	reg, err := busio.PollTimeout(d.clock,
		func() uint32 { return d.bus.Read(regKeepAlive) },
		func(v uint32) bool { return v != 0 },
		aliveInterval, aliveTimeout)
	if err != nil {
		d.log.Error("firmware load: keep-alive stuck", "reg", reg)
		return fmt.Errorf("load firmware: %w", ErrNotReady)
	}

	ver := d.bus.Read(regVerL) & 0xff
	ver |= (d.bus.Read(regVerH) & 0xff) << 8
	ver |= (d.bus.Read(regVerLibL) & 0xff) << 16
	ver |= (d.bus.Read(regVerLibH) & 0xff) << 24

	d.mu.Lock()
	d.fwVersion = ver
	d.mu.Unlock()

	d.log.Debug("firmware loaded", "version", fmt.Sprintf("%#x", ver))
	return nil
}

// CheckAlive samples the keep-alive counter and reports whether the
// firmware is still ticking.
func (d *Device) CheckAlive() bool {
	alive := d.bus.Read(regKeepAlive)
	for i := 0; i < aliveSamples; i++ {
		d.clock.Sleep(aliveSampleDelay)
		if d.bus.Read(regKeepAlive) != alive {
			return true
		}
	}
	return false
}

// SetFirmwareActive moves the firmware between standby and active.
//
// This command does not follow the standard exchange: the firmware
// acknowledges with the request opcode and module but not the usual
// response framing, so the five acknowledgment bytes are read raw
// instead of going through ValidateReceive.
func (d *Device) SetFirmwareActive(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := byte(fwStandby)
	if enable {
		state = fwActive
	}
	frame := [5]byte{opGeneralMainControl, ModuleIDGeneral, 0, 1, state}

	for _, b := range frame {
		if err := d.mbx.WriteByte(b); err != nil {
			d.log.Error("set firmware active failed", "err", err)
			return err
		}
	}
	for i := range frame {
		b, err := d.mbx.ReadByte()
		if err != nil {
			d.log.Error("set firmware active failed", "err", err)
			return err
		}
		frame[i] = b
	}
	return nil
}

// GetEvent reads the raw software event register.
func (d *Device) GetEvent() uint32 {
	return d.bus.Read(regSWEvents0)
}
