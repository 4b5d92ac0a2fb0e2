package dptx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindTUSize(t *testing.T) {
	// 1080p60 at HBR3 x4, 24bpp.
	tu, symbol, rem, err := findTUSize(148500, 24, 4, 810)
	require.NoError(t, err)

	assert.LessOrEqual(t, tu, uint32(tuSizeMax))
	assert.GreaterOrEqual(t, tu, uint32(tuSizeBase+2))
	assert.Greater(t, symbol, uint32(1))
	assert.GreaterOrEqual(t, tu-symbol, uint32(4))
	assert.GreaterOrEqual(t, rem, uint32(100))
	assert.LessOrEqual(t, rem, uint32(850))

	// The solution must actually be the VS fraction for this tu.
	milli := uint64(tu) * 148500 * 24 / (4 * 810 * 8)
	assert.Equal(t, uint32(milli/1000), symbol)
	assert.Equal(t, uint32(milli%1000), rem)
}

func TestFindTUSizeHBR2(t *testing.T) {
	tu, _, _, err := findTUSize(148500, 24, 4, 540)
	require.NoError(t, err)
	assert.LessOrEqual(t, tu, uint32(tuSizeMax))
}

func TestFindTUSizeNoSolution(t *testing.T) {
	// A 4K-class clock over a single RBR lane cannot fit any TU.
	_, _, _, err := findTUSize(594000, 24, 1, 162)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFindTUSizeZeroLanes(t *testing.T) {
	_, _, _, err := findTUSize(148500, 24, 0, 540)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBitsPerPixel(t *testing.T) {
	assert.Equal(t, uint32(24), bitsPerPixel(FormatRGB, 8))
	assert.Equal(t, uint32(30), bitsPerPixel(FormatYCbCr444, 10))
	assert.Equal(t, uint32(16), bitsPerPixel(FormatYCbCr422, 8))
	assert.Equal(t, uint32(20), bitsPerPixel(FormatYCbCr422, 10))
}

func TestMSAMisc(t *testing.T) {
	tests := []struct {
		name  string
		video VideoInfo
		want  uint32
	}{
		{"rgb 8bpc", VideoInfo{Format: FormatRGB, Depth: 8}, 32},
		{"rgb 10bpc", VideoInfo{Format: FormatRGB, Depth: 10}, 64},
		{"ycbcr444 8bpc", VideoInfo{Format: FormatYCbCr444, Depth: 8}, 2*6 + 32},
		{"ycbcr422 8bpc", VideoInfo{Format: FormatYCbCr422, Depth: 8}, 2*5 + 32},
		{"y-only 8bpc", VideoInfo{Format: FormatYOnly, Depth: 8}, 32 | 1<<14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, msaMisc(tt.video))
		})
	}
}

var mode1080p = DisplayMode{
	Clock:      148500,
	HDisplay:   1920,
	HSyncStart: 2008,
	HSyncEnd:   2052,
	HTotal:     2200,
	VDisplay:   1080,
	VSyncStart: 1084,
	VSyncEnd:   1089,
	VTotal:     1125,
}

func TestConfigVideo(t *testing.T) {
	dev, ctrl := newTestDevice(t)
	dev.SetLink(LinkState{Rate: LinkRateHBR2, Lanes: 4})
	dev.SetVideo(mode1080p, VideoInfo{
		Format:        FormatRGB,
		Depth:         8,
		HSyncPositive: true,
		VSyncPositive: true,
	})

	require.NoError(t, dev.ConfigVideo())

	tuReg := ctrl.Reg(regDPFramerTU)
	assert.NotZero(t, tuReg&tuCntRstEn, "TU counter reset bit")
	tu := tuReg >> 8 & 0x7f
	assert.LessOrEqual(t, tu, uint32(tuSizeMax))

	assert.Equal(t, uint32(vifBypassInterlace), ctrl.Reg(regBndHsync2Vsync))
	assert.Equal(t, uint32(bcs8|uint32(FormatRGB)<<8), ctrl.Reg(regDPFramerPxlRepr))
	assert.Equal(t, uint32(dpFramerSPHSP|dpFramerSPVSP), ctrl.Reg(regDPFramerSP))
	assert.Equal(t, uint32(1920*24/8), ctrl.Reg(regDPByteCount))

	// Porches: front = hsync_start - hdisplay, back = htotal - hsync_end.
	assert.Equal(t, uint32(88<<16|148), ctrl.Reg(regDPFrontBackPorch))

	assert.Equal(t, uint32(2200|(2200-2008)<<16), ctrl.Reg(regMSAHorizontal0))
	assert.Equal(t, uint32(44|1920<<16|1<<15), ctrl.Reg(regMSAHorizontal1))
	assert.Equal(t, uint32(1125|(1125-1084)<<16), ctrl.Reg(regMSAVertical0))
	assert.Equal(t, uint32(5|1080<<16|1<<15), ctrl.Reg(regMSAVertical1))
	assert.Equal(t, uint32(32), ctrl.Reg(regMSAMisc))
	assert.Equal(t, uint32(1), ctrl.Reg(regStreamConfig))

	assert.Equal(t, uint32(44|1920<<16), ctrl.Reg(regDPHorizontal))
	assert.Equal(t, uint32(1080|(1125-1084)<<16), ctrl.Reg(regDPVertical0))
	assert.Equal(t, uint32(1125), ctrl.Reg(regDPVertical1))
}

func TestConfigVideoRejectsImpossibleLink(t *testing.T) {
	dev, _ := newTestDevice(t)
	dev.SetLink(LinkState{Rate: LinkRateRBR, Lanes: 1})
	dev.SetVideo(DisplayMode{
		Clock: 594000, HDisplay: 3840, HSyncStart: 4016, HSyncEnd: 4104, HTotal: 4400,
		VDisplay: 2160, VSyncStart: 2168, VSyncEnd: 2178, VTotal: 2250,
	}, VideoInfo{Format: FormatRGB, Depth: 8})

	assert.ErrorIs(t, dev.ConfigVideo(), ErrInvalidArgument)
}
