// Package mhdp drives a mailbox-attached DisplayPort transmitter
// controller and, independently, a PCIe Gen4 host-bridge link
// monitor. A Device talks to the controller's firmware coprocessor
// over a byte mailbox for register access, DPCD access, EDID
// retrieval, link training and video configuration; Monitor polls
// and recovers the PCIe physical link.
package mhdp

import (
	"github.com/hwplane/mhdp/internal/busio"
	"github.com/hwplane/mhdp/internal/dptx"
	"github.com/hwplane/mhdp/internal/mbox"
	"github.com/hwplane/mhdp/internal/pcie"
)

// Bus32 is the raw 32-bit register backend supplied by attach code.
type Bus32 = busio.Bus32

// Mode selects the controller's register addressing scheme.
type Mode = busio.Mode

// Addressing modes.
const (
	ModeDirect     = busio.ModeDirect
	ModeNormalSAPB = busio.ModeNormalSAPB
	ModeLow4KAPB   = busio.ModeLow4KAPB
	ModeLow4KSAPB  = busio.ModeLow4KSAPB
)

// Device is the handle for one DisplayPort transmitter controller.
type Device = dptx.Device

// Config supplies a Device's platform collaborators.
type Config = dptx.Config

// LinkRate is a DisplayPort main-link rate in 10 kbit/s units.
type LinkRate = dptx.LinkRate

// Standard link rates.
const (
	LinkRateRBR  = dptx.LinkRateRBR
	LinkRateHBR  = dptx.LinkRateHBR
	LinkRateHBR2 = dptx.LinkRateHBR2
	LinkRateHBR3 = dptx.LinkRateHBR3
)

// LinkState holds negotiated link parameters.
type LinkState = dptx.LinkState

// VideoInfo describes the stream pixel format.
type VideoInfo = dptx.VideoInfo

// DisplayMode carries pixel clock and timing for the driven mode.
type DisplayMode = dptx.DisplayMode

// ColorFormat is the pixel encoding on the main link.
type ColorFormat = dptx.ColorFormat

// Pixel encodings.
const (
	FormatRGB      = dptx.FormatRGB
	FormatYCbCr444 = dptx.FormatYCbCr444
	FormatYCbCr422 = dptx.FormatYCbCr422
	FormatYCbCr420 = dptx.FormatYCbCr420
	FormatYOnly    = dptx.FormatYOnly
)

// Common sentinel errors.
var (
	// ErrTimeout reports a poll that exceeded its bound.
	ErrTimeout = mbox.ErrTimeout
	// ErrInvalidResponse reports a mailbox frame or echoed value that
	// did not match the request.
	ErrInvalidResponse = mbox.ErrInvalidResponse
	// ErrInvalidArgument reports a request the firmware cannot encode.
	ErrInvalidArgument = dptx.ErrInvalidArgument
	// ErrNotReady reports a firmware that failed its alive check.
	ErrNotReady = dptx.ErrNotReady
)

// New builds a Device from cfg.
func New(cfg Config) (*Device, error) { return dptx.New(cfg) }

// LinkMonitor tracks a PCIe bridge link and recovers from resets.
type LinkMonitor = pcie.Monitor

// LinkMonitorConfig supplies the monitor's collaborators.
type LinkMonitorConfig = pcie.Config

// NewLinkMonitor validates cfg and prepares the bridge.
func NewLinkMonitor(cfg LinkMonitorConfig) (*LinkMonitor, error) { return pcie.New(cfg) }
