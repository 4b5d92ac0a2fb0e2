// Package pcie monitors the physical link of a PCIe Gen4 host bridge:
// LTSSM state polling, reset-interrupt recovery, and the revision
// workarounds that gate config-space reads. It shares no state with
// the display driver.
package pcie

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hwplane/mhdp/internal/busio"
)

// Bridge config-space header offsets (served from the start of the
// CSR region).
const (
	cfgVendorID      = 0x00
	cfgRevisionID    = 0x08
	cfgHeaderType    = 0x0e
	cfgBridgeControl = 0x3e

	headerTypeBridge  = 0x01
	bridgeCtlBusReset = 0x40
	revision1_0       = 0x10
)

// LUT and PF control regions inside the CSR space.
const (
	lutOff = 0x80000
	lutGCR = 0x28
	// lutGCRRRE enables read-response reordering; cleared around
	// vendor-ID config reads on rev 1.0 parts.
	lutGCRRRE = 1 << 0

	pfOff     = 0xc0000
	pfIntStat = 0x18
	// pfIntStatPABRst reports that the PAB block finished its reset.
	pfIntStatPABRst = 1 << 31

	pfDBG        = 0x7fc
	pfDBGLTSSM   = 0x3f
	pfDBGLTSSML0 = 0x2d
	pfDBGWE      = 1 << 31
	pfDBGPABR    = 1 << 27
)

// PAB CSR registers.
const (
	gpexAckReplayTO    = 0x438
	ackLatTOValMask    = 0x1fff
	ackLatTOValShift   = 0
	ackLatTOWorkaround = 4

	pabIntpAmbaMiscEnb  = 0x0b0c
	pabIntpAmbaMiscStat = 0x0b1c
	pabActivityStat     = 0x81c0
)

// Interrupt source bits in the AMBA misc registers.
const (
	pabIntpReset   = 1 << 1
	pabIntpMSI     = 1 << 3
	pabIntpINTX    = 0x1e0
	pabIntpPCIeUE  = 1 << 9
	pabIntpIEEC    = 1 << 26
	pabIntpIEPMRDI = 1 << 29

	intpEnableAll = pabIntpINTX | pabIntpMSI | pabIntpReset |
		pabIntpPCIeUE | pabIntpIEPMRDI | pabIntpIEEC
)

// Recovery poll policy.
const (
	resetDefer       = 1 * time.Millisecond
	pabResetInterval = 10 * time.Microsecond
	pabResetAttempts = 100
	linkUpInterval   = 200 * time.Microsecond
	linkUpAttempts   = 100
)

var (
	// ErrNotBridge reports a device whose config header is not a
	// PCI-to-PCI bridge.
	ErrNotBridge = errors.New("device is not a bridge")
	// ErrLinkDown reports that the link did not reach L0 within the
	// retry bound.
	ErrLinkDown = errors.New("link training timeout")
	// ErrResetStuck reports that the PAB never signalled reset
	// completion during recovery.
	ErrResetStuck = errors.New("PAB reset poll timeout")
)

// HostOps re-initializes the host controller registers after a
// recovery; supplied by the platform bridge driver.
type HostOps interface {
	InitHost(reinit bool) error
}

// ConfigReader issues a config-space read toward a downstream device.
type ConfigReader func(devfn uint32, where uint16, size int) (uint32, error)

// Config supplies the monitor's collaborators.
type Config struct {
	// CSR is the bridge's register space, including the LUT and PF
	// control regions.
	CSR busio.Bus32
	// Host re-initializes the bridge after reset recovery.
	Host HostOps
	// MSIParent must be set by attach code: the bridge cannot deliver
	// MSIs without one.
	MSIParent bool
	Clock     busio.Clock
	Logger    *slog.Logger
}

// Monitor tracks the bridge link and recovers from surprise resets.
type Monitor struct {
	csr   busio.Bus32
	host  HostOps
	clock busio.Clock
	log   *slog.Logger
	rev   uint8

	wg sync.WaitGroup
}

// New validates cfg and prepares the bridge: header check, revision
// latch, and revision-specific init workarounds.
func New(cfg Config) (*Monitor, error) {
	if cfg.CSR == nil {
		return nil, fmt.Errorf("pcie: nil CSR region")
	}
	if !cfg.MSIParent {
		return nil, fmt.Errorf("pcie: no msi-parent")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = busio.RealClock()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	m := &Monitor{csr: cfg.CSR, host: cfg.Host, clock: clock, log: log}

	if m.csrReadB(cfgHeaderType)&0x7f != headerTypeBridge {
		return nil, ErrNotBridge
	}
	if err := m.hostInit(); err != nil {
		return nil, err
	}
	m.EnableInterrupts()
	return m, nil
}

// hostInit latches the revision and applies the ACK-replay-timeout
// erratum fix on affected parts.
func (m *Monitor) hostInit() error {
	m.rev = m.csrReadB(cfgRevisionID)
	if m.rev == revision1_0 {
		val := m.csr.Read32(gpexAckReplayTO)
		val &^= ackLatTOValMask << ackLatTOValShift
		val |= ackLatTOWorkaround << ackLatTOValShift
		m.csr.Write32(gpexAckReplayTO, val)
	}
	return nil
}

// Revision returns the bridge silicon revision.
func (m *Monitor) Revision() uint8 { return m.rev }

// LinkUp reports whether the LTSSM has reached L0.
func (m *Monitor) LinkUp() bool {
	state := m.pfRead(pfDBG) & pfDBGLTSSM
	return state == pfDBGLTSSML0
}

// DisableInterrupts masks every interrupt source.
func (m *Monitor) DisableInterrupts() {
	m.csr.Write32(pabIntpAmbaMiscEnb, 0)
}

// EnableInterrupts clears stale status and unmasks the monitored
// sources.
func (m *Monitor) EnableInterrupts() {
	m.csr.Write32(pabIntpAmbaMiscStat, 0xffffffff)
	m.csr.Write32(pabIntpAmbaMiscEnb, intpEnableAll)
}

// HandleInterrupt services the shared "intr" line. It reports false
// when the bridge raised nothing. A reset event masks interrupts and
// defers recovery out of interrupt context; interrupts stay masked
// until recovery completes, so reset handling cannot re-enter.
func (m *Monitor) HandleInterrupt() bool {
	stat := m.csr.Read32(pabIntpAmbaMiscStat)
	if stat == 0 {
		return false
	}

	if stat&pabIntpReset != 0 {
		m.DisableInterrupts()
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.clock.Sleep(resetDefer)
			m.resetRecover()
		}()
	}

	m.csr.Write32(pabIntpAmbaMiscStat, stat)
	return true
}

// WaitRecovery blocks until any in-flight reset recovery finishes.
func (m *Monitor) WaitRecovery() { m.wg.Wait() }

// resetRecover is the deferred reset handler: deassert the secondary
// bus reset, rebuild the PAB, re-init the host, and re-enable
// interrupts.
func (m *Monitor) resetRecover() {
	ctrl := m.csrReadW(cfgBridgeControl)
	ctrl &^= bridgeCtlBusReset
	m.csrWriteW(cfgBridgeControl, ctrl)

	if err := m.reinitHW(); err != nil {
		m.log.Error("pcie reset recovery failed", "err", err)
	}
	m.EnableInterrupts()
}

// reinitHW waits for the PAB reset handshake, pulses the PAB reset
// sequence through the debug register, re-initializes the host
// controller, and waits for the link to retrain.
func (m *Monitor) reinitHW() error {
	ok := false
	for i := 0; i < pabResetAttempts; i++ {
		m.clock.Sleep(pabResetInterval)
		stat := m.pfRead(pfIntStat)
		act := m.csr.Read32(pabActivityStat)
		if stat&pfIntStatPABRst != 0 && act == 0 {
			ok = true
			break
		}
	}
	if !ok {
		return ErrResetStuck
	}

	// Write-enable, pulse PAB reset, write-protect again.
	val := m.pfRead(pfDBG)
	m.pfWrite(pfDBG, val|pfDBGWE)
	val = m.pfRead(pfDBG)
	m.pfWrite(pfDBG, val|pfDBGPABR)
	val = m.pfRead(pfDBG)
	m.pfWrite(pfDBG, val&^pfDBGWE)

	if m.host != nil {
		if err := m.host.InitHost(true); err != nil {
			return err
		}
	}
	if err := m.hostInit(); err != nil {
		return err
	}

	for i := 0; i < linkUpAttempts; i++ {
		if m.LinkUp() {
			return nil
		}
		m.clock.Sleep(linkUpInterval)
	}
	return ErrLinkDown
}

// ReadOtherConf issues a downstream config read through next. On rev
// 1.0 silicon, vendor-ID reads are wrapped by clearing and restoring
// the LUT read-response-reordering enable.
func (m *Monitor) ReadOtherConf(next ConfigReader, devfn uint32, where uint16, size int) (uint32, error) {
	filtered := m.rev == revision1_0 && where == cfgVendorID
	if filtered {
		m.lutWrite(lutGCR, 0)
	}
	val, err := next(devfn, where, size)
	if filtered {
		m.lutWrite(lutGCR, lutGCRRRE)
	}
	return val, err
}

func (m *Monitor) lutWrite(off, val uint32) { m.csr.Write32(lutOff+off, val) }
func (m *Monitor) pfRead(off uint32) uint32 { return m.csr.Read32(pfOff + off) }
func (m *Monitor) pfWrite(off, val uint32)  { m.csr.Write32(pfOff+off, val) }

// csrReadB reads one byte out of the 32-bit CSR backing store.
func (m *Monitor) csrReadB(off uint32) uint8 {
	word := m.csr.Read32(off &^ 3)
	return uint8(word >> ((off & 3) * 8))
}

func (m *Monitor) csrReadW(off uint32) uint16 {
	word := m.csr.Read32(off &^ 3)
	return uint16(word >> ((off & 2) * 8))
}

func (m *Monitor) csrWriteW(off uint32, val uint16) {
	word := m.csr.Read32(off &^ 3)
	shift := (off & 2) * 8
	word = word&^(0xffff<<shift) | uint32(val)<<shift
	m.csr.Write32(off&^3, word)
}
