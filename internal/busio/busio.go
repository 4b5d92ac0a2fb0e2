// Package busio provides serialized 32-bit register access to the
// controller's APB register file, including the windowed low-4K
// addressing modes, plus the bounded-poll helper shared by every
// layer that waits on hardware state.
package busio

import (
	"sync"
)

// Bus32 is the raw register backend supplied by platform attach code.
// Offsets are byte offsets into the controller's address space.
type Bus32 interface {
	Read32(off uint32) uint32
	Write32(off uint32, val uint32)
}

// Mode selects how register offsets are translated onto the bus.
type Mode int

const (
	// ModeDirect accesses the full register file through the base region.
	ModeDirect Mode = iota
	// ModeNormalSAPB accesses the full register file through the secure region.
	ModeNormalSAPB
	// ModeLow4KAPB remaps accesses through a 4K window in the base
	// region, selecting the page via the secure region first.
	ModeLow4KAPB
	// ModeLow4KSAPB is ModeLow4KAPB with the SAPB page-select register.
	ModeLow4KSAPB
)

// Page-select registers in the secure region for the windowed modes.
const (
	apbPageSelect  = 0x8
	sapbPageSelect = 0xc

	windowMask = 0xfff
)

// Accessor serializes all register traffic for one controller. The
// windowed modes require the page-select write and the data access to
// happen atomically, so every access takes the accessor lock.
type Accessor struct {
	mu   sync.Mutex
	mode Mode
	base Bus32
	sec  Bus32
}

// NewAccessor builds an Accessor over the base and secure regions.
// sec may equal base when the platform maps both through one region;
// it is only dereferenced for the SAPB and windowed modes.
func NewAccessor(mode Mode, base, sec Bus32) *Accessor {
	return &Accessor{mode: mode, base: base, sec: sec}
}

// Read reads the 32-bit register at off.
func (a *Accessor) Read(off uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.mode {
	case ModeLow4KSAPB:
		a.sec.Write32(sapbPageSelect, off>>12)
		return a.base.Read32(off & windowMask)
	case ModeLow4KAPB:
		a.sec.Write32(apbPageSelect, off>>12)
		return a.base.Read32(off & windowMask)
	case ModeNormalSAPB:
		return a.sec.Read32(off)
	default:
		return a.base.Read32(off)
	}
}

// Write writes the 32-bit register at off.
func (a *Accessor) Write(off uint32, val uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.mode {
	case ModeLow4KSAPB:
		a.sec.Write32(sapbPageSelect, off>>12)
		a.base.Write32(off&windowMask, val)
	case ModeLow4KAPB:
		a.sec.Write32(apbPageSelect, off>>12)
		a.base.Write32(off&windowMask, val)
	case ModeNormalSAPB:
		a.sec.Write32(off, val)
	default:
		a.base.Write32(off, val)
	}
}

// Mode reports the addressing mode the accessor was built with.
func (a *Accessor) Mode() Mode { return a.mode }
