package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hwplane/mhdp"
)

// modePreset is one display mode in a YAML preset file.
type modePreset struct {
	Name  string `yaml:"name"`
	Clock uint32 `yaml:"clock"` // pixel clock, kHz

	HDisplay   uint32 `yaml:"hdisplay"`
	HSyncStart uint32 `yaml:"hsync_start"`
	HSyncEnd   uint32 `yaml:"hsync_end"`
	HTotal     uint32 `yaml:"htotal"`

	VDisplay   uint32 `yaml:"vdisplay"`
	VSyncStart uint32 `yaml:"vsync_start"`
	VSyncEnd   uint32 `yaml:"vsync_end"`
	VTotal     uint32 `yaml:"vtotal"`

	Format string `yaml:"format"` // rgb, ycbcr444, ycbcr422, ycbcr420, y-only
	Depth  uint8  `yaml:"depth"`

	HSyncPositive bool `yaml:"hsync_positive"`
	VSyncPositive bool `yaml:"vsync_positive"`
}

var builtinPresets = []modePreset{
	{
		Name: "1080p60", Clock: 148500,
		HDisplay: 1920, HSyncStart: 2008, HSyncEnd: 2052, HTotal: 2200,
		VDisplay: 1080, VSyncStart: 1084, VSyncEnd: 1089, VTotal: 1125,
		Format: "rgb", Depth: 8, HSyncPositive: true, VSyncPositive: true,
	},
	{
		Name: "720p60", Clock: 74250,
		HDisplay: 1280, HSyncStart: 1390, HSyncEnd: 1430, HTotal: 1650,
		VDisplay: 720, VSyncStart: 725, VSyncEnd: 730, VTotal: 750,
		Format: "rgb", Depth: 8, HSyncPositive: true, VSyncPositive: true,
	},
	{
		Name: "2160p30", Clock: 297000,
		HDisplay: 3840, HSyncStart: 4016, HSyncEnd: 4104, HTotal: 4400,
		VDisplay: 2160, VSyncStart: 2168, VSyncEnd: 2178, VTotal: 2250,
		Format: "rgb", Depth: 8, HSyncPositive: true, VSyncPositive: true,
	},
}

// lookupPreset resolves name against a YAML file when given, falling
// back to the built-in mode table.
func lookupPreset(path, name string) (*modePreset, error) {
	presets := builtinPresets
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var loaded []modePreset
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		presets = append(loaded, builtinPresets...)
	}
	for i := range presets {
		if presets[i].Name == name {
			return &presets[i], nil
		}
	}
	return nil, fmt.Errorf("unknown mode preset %q", name)
}

func (p *modePreset) mode() mhdp.DisplayMode {
	return mhdp.DisplayMode{
		Clock:      p.Clock,
		HDisplay:   p.HDisplay,
		HSyncStart: p.HSyncStart,
		HSyncEnd:   p.HSyncEnd,
		HTotal:     p.HTotal,
		VDisplay:   p.VDisplay,
		VSyncStart: p.VSyncStart,
		VSyncEnd:   p.VSyncEnd,
		VTotal:     p.VTotal,
	}
}

func (p *modePreset) video() mhdp.VideoInfo {
	format := mhdp.FormatRGB
	switch p.Format {
	case "ycbcr444":
		format = mhdp.FormatYCbCr444
	case "ycbcr422":
		format = mhdp.FormatYCbCr422
	case "ycbcr420":
		format = mhdp.FormatYCbCr420
	case "y-only":
		format = mhdp.FormatYOnly
	}
	depth := p.Depth
	if depth == 0 {
		depth = 8
	}
	return mhdp.VideoInfo{
		Format:        format,
		Depth:         depth,
		HSyncPositive: p.HSyncPositive,
		VSyncPositive: p.VSyncPositive,
	}
}
