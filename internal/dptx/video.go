package dptx

import (
	"fmt"
)

// ColorFormat is the pixel encoding on the main link. Values match
// the framer's pixel-representation register field.
type ColorFormat uint8

const (
	FormatRGB      ColorFormat = 0x1
	FormatYCbCr444 ColorFormat = 0x2
	FormatYCbCr422 ColorFormat = 0x4
	FormatYCbCr420 ColorFormat = 0x8
	FormatYOnly    ColorFormat = 0x10
)

// MSA colorimetry indicator values.
const (
	colorimetryBT601 = 0
	colorimetryBT709 = 1
)

// VideoInfo describes the pixel format of the stream. Supplied by the
// mode-setting collaborator.
type VideoInfo struct {
	Format        ColorFormat
	Depth         uint8 // bits per color: 6, 8, 10, 12 or 16
	HSyncPositive bool
	VSyncPositive bool
}

// DisplayMode carries the pixel clock (kHz) and horizontal/vertical
// timing of the mode being driven.
type DisplayMode struct {
	Clock uint32

	HDisplay   uint32
	HSyncStart uint32
	HSyncEnd   uint32
	HTotal     uint32

	VDisplay   uint32
	VSyncStart uint32
	VSyncEnd   uint32
	VTotal     uint32
}

// SetVideo records the mode and pixel format for the next ConfigVideo.
func (d *Device) SetVideo(mode DisplayMode, info VideoInfo) {
	d.mu.Lock()
	d.mode = mode
	d.video = info
	d.mu.Unlock()
}

// bitsPerPixel returns the transported bits per pixel: 4:2:2 carries
// two components per pixel, everything else three.
func bitsPerPixel(format ColorFormat, depth uint8) uint32 {
	if format == FormatYCbCr422 {
		return uint32(depth) * 2
	}
	return uint32(depth) * 3
}

// findTUSize searches for the smallest transfer-unit size whose
// valid-symbol count fits the framer's constraints. clock is the pixel
// clock in kHz, rateMHz the per-lane link symbol rate in MHz. It
// returns the TU size, the integer valid-symbol count, and the
// fractional count in thousandths:
//
//	VS = TU * Pclk * bpp / (Lclk * lanes * 8)
//
// The integer part must exceed 1, leave at least 4 symbols of slack in
// the TU, and the fraction must stay inside [0.100, 0.850] so the
// framer can absorb rate mismatch. TU grows in steps of 2 from 32 up
// to 64; running past 64 means the pixel clock is too high for the
// negotiated link.
func findTUSize(clock, bpp, lanes, rateMHz uint32) (tu, symbol, rem uint32, err error) {
	if lanes == 0 || rateMHz == 0 {
		return 0, 0, 0, fmt.Errorf("tu search: %w: lanes %d rate %dMHz",
			ErrInvalidArgument, lanes, rateMHz)
	}

	tu = tuSizeBase
	for {
		tu += 2
		if tu > tuSizeMax {
			return 0, 0, 0, fmt.Errorf("tu search: %w: clock %d lanes %d rate %dMHz",
				ErrInvalidArgument, clock, lanes, rateMHz)
		}
		milli := uint64(tu) * uint64(clock) * uint64(bpp) / uint64(lanes*rateMHz*8)
		symbol = uint32(milli / 1000)
		rem = uint32(milli % 1000)
		if symbol > 1 && tu-symbol >= 4 && rem <= 850 && rem >= 100 {
			return tu, symbol, rem, nil
		}
	}
}

func bitDepthCode(depth uint8) uint32 {
	switch depth {
	case 6:
		return bcs6
	case 10:
		return bcs10
	case 12:
		return bcs12
	case 16:
		return bcs16
	default:
		return bcs8
	}
}

// msaMisc encodes the MSA MISC word: colorimetry in the low byte
// (YCbCr defaults to BT.601), bit depth above it, and the Y-only
// indicator bit.
func msaMisc(video VideoInfo) uint32 {
	var fmtCode, depthCode uint32

	switch video.Format {
	case FormatYCbCr444:
		fmtCode = 6 + colorimetryBT601*8
	case FormatYCbCr422:
		fmtCode = 5 + colorimetryBT601*8
	case FormatYCbCr420:
		fmtCode = 5
	default: // RGB and Y-only carry no colorimetry indicator
	}

	switch video.Depth {
	case 6:
		depthCode = 0
	case 8:
		depthCode = 1
	case 10:
		depthCode = 2
	case 12:
		depthCode = 3
	case 16:
		depthCode = 4
	}

	misc := 2*fmtCode + 32*depthCode
	if video.Format == FormatYOnly {
		misc |= 1 << 14
	}
	return misc
}

// ConfigVideo programs the framer and MSA registers for the mode set
// by SetVideo, using the link parameters negotiated by TrainLink. The
// first failed register write aborts the sequence.
func (d *Device) ConfigVideo() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	video := d.video
	mode := d.mode
	bpp := bitsPerPixel(video.Format, video.Depth)
	lanes := uint32(d.link.Lanes)
	rateMHz := uint32(d.link.Rate) / 1000

	err := d.configVideo(video, mode, bpp, lanes, rateMHz)
	if err != nil {
		d.log.Error("config video failed", "err", err)
	}
	return err
}

func (d *Device) configVideo(video VideoInfo, mode DisplayMode, bpp, lanes, rateMHz uint32) error {
	if err := d.regWrite(regBndHsync2Vsync, vifBypassInterlace); err != nil {
		return err
	}
	if err := d.regWrite(regHsync2VsyncPolCtrl, 0); err != nil {
		return err
	}

	tu, symbol, _, err := findTUSize(mode.Clock, bpp, lanes, rateMHz)
	if err != nil {
		return err
	}

	val := symbol + tu<<8 | tuCntRstEn
	if err := d.regWrite(regDPFramerTU, val); err != nil {
		return err
	}

	// FIFO depth: symbols of buffering needed to cover the worst-case
	// gap between pixel arrival and TU scheduling.
	val = uint32(uint64(mode.Clock)*uint64(symbol+1)/1000) + rateMHz
	val /= lanes * rateMHz
	val = 8*(symbol+1)/bpp - val
	val += 2
	if err := d.regWrite(regDPVCTable(15), val); err != nil {
		return err
	}

	val = bitDepthCode(video.Depth) + uint32(video.Format)<<8
	if err := d.regWrite(regDPFramerPxlRepr, val); err != nil {
		return err
	}

	val = 0
	if video.HSyncPositive {
		val |= dpFramerSPHSP
	}
	if video.VSyncPositive {
		val |= dpFramerSPVSP
	}
	if err := d.regWrite(regDPFramerSP, val); err != nil {
		return err
	}

	val = (mode.HSyncStart-mode.HDisplay)<<16 | (mode.HTotal - mode.HSyncEnd)
	if err := d.regWrite(regDPFrontBackPorch, val); err != nil {
		return err
	}

	val = mode.HDisplay * bpp / 8
	if err := d.regWrite(regDPByteCount, val); err != nil {
		return err
	}

	val = mode.HTotal | (mode.HTotal-mode.HSyncStart)<<16
	if err := d.regWrite(regMSAHorizontal0, val); err != nil {
		return err
	}

	val = mode.HSyncEnd - mode.HSyncStart
	val |= mode.HDisplay<<16 | syncBit(video.HSyncPositive)<<15
	if err := d.regWrite(regMSAHorizontal1, val); err != nil {
		return err
	}

	val = mode.VTotal | (mode.VTotal-mode.VSyncStart)<<16
	if err := d.regWrite(regMSAVertical0, val); err != nil {
		return err
	}

	val = mode.VSyncEnd - mode.VSyncStart
	val |= mode.VDisplay<<16 | syncBit(video.VSyncPositive)<<15
	if err := d.regWrite(regMSAVertical1, val); err != nil {
		return err
	}

	if err := d.regWrite(regMSAMisc, msaMisc(video)); err != nil {
		return err
	}

	if err := d.regWrite(regStreamConfig, 1); err != nil {
		return err
	}

	val = (mode.HSyncEnd - mode.HSyncStart) | mode.HDisplay<<16
	if err := d.regWrite(regDPHorizontal, val); err != nil {
		return err
	}

	val = mode.VDisplay | (mode.VTotal-mode.VSyncStart)<<16
	if err := d.regWrite(regDPVertical0, val); err != nil {
		return err
	}

	if err := d.regWrite(regDPVertical1, mode.VTotal); err != nil {
		return err
	}

	return d.regFieldWrite(regDPVBID, 2, 1, 0)
}

func syncBit(positive bool) uint32 {
	if positive {
		return 1
	}
	return 0
}
