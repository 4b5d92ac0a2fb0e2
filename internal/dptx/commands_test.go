package dptx

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hwplane/mhdp/internal/busio"
	"github.com/hwplane/mhdp/internal/mbox"
	"github.com/hwplane/mhdp/internal/sim"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func newTestDevice(t *testing.T) (*Device, *sim.Controller) {
	t.Helper()
	ctrl := sim.New()
	dev, err := New(Config{
		Bus:    ctrl,
		Mode:   busio.ModeDirect,
		Clock:  &fakeClock{},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return dev, ctrl
}

func TestNewRequiresBus(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestNewWindowedModesRequireSecureRegion(t *testing.T) {
	ctrl := sim.New()
	for _, mode := range []busio.Mode{busio.ModeNormalSAPB, busio.ModeLow4KAPB, busio.ModeLow4KSAPB} {
		_, err := New(Config{Bus: ctrl, Mode: mode})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("mode %d: err = %v, want ErrInvalidArgument", mode, err)
		}
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t)

	if err := dev.RegWrite(0x2208, 0xDEADBEEF); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	val, err := dev.RegRead(0x2208)
	if err != nil {
		t.Fatalf("RegRead: %v", err)
	}
	if val != 0xDEADBEEF {
		t.Errorf("RegRead = %#x, want 0xDEADBEEF", val)
	}
}

func TestRegReadZeroAddress(t *testing.T) {
	dev, _ := newTestDevice(t)
	if _, err := dev.RegRead(0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestRegReadMangledResponseDrains(t *testing.T) {
	dev, ctrl := newTestDevice(t)

	if err := dev.RegWrite(0x100, 0x42); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}

	ctrl.MangleNext = true
	if _, err := dev.RegRead(0x100); !errors.Is(err, mbox.ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}

	// The mismatched frame was drained, so the next exchange stays
	// aligned.
	val, err := dev.RegRead(0x100)
	if err != nil {
		t.Fatalf("RegRead after drain: %v", err)
	}
	if val != 0x42 {
		t.Errorf("RegRead = %#x, want 0x42", val)
	}
}

func TestRegFieldWrite(t *testing.T) {
	dev, ctrl := newTestDevice(t)

	if err := dev.RegWrite(0x2258, 0xff); err != nil {
		t.Fatalf("RegWrite: %v", err)
	}
	if err := dev.RegFieldWrite(0x2258, 2, 1, 0); err != nil {
		t.Fatalf("RegFieldWrite: %v", err)
	}
	if got := ctrl.Reg(0x2258); got != 0xfb {
		t.Errorf("field write result = %#x, want 0xfb", got)
	}
}

func TestDPCDReadWrite(t *testing.T) {
	dev, ctrl := newTestDevice(t)

	if err := dev.DPCDWrite(0x100, 0x14); err != nil {
		t.Fatalf("DPCDWrite: %v", err)
	}
	ctrl.SetDPCD(0x101, 0x84)

	data, err := dev.DPCDRead(0x100, 2)
	if err != nil {
		t.Fatalf("DPCDRead: %v", err)
	}
	if data[0] != 0x14 || data[1] != 0x84 {
		t.Errorf("DPCDRead = % x, want 14 84", data)
	}
}

func TestGetEDIDBlockRetries(t *testing.T) {
	dev, ctrl := newTestDevice(t)
	for i := range ctrl.EDID {
		ctrl.EDID[i] = byte(i)
	}

	// Mismatched segment echo on the first three attempts; the fourth
	// succeeds.
	ctrl.EDIDBadAttempts = 3

	buf := make([]byte, 64)
	if err := dev.GetEDIDBlock(1, buf); err != nil {
		t.Fatalf("GetEDIDBlock: %v", err)
	}
	if buf[0] != 64 || buf[63] != 127 {
		t.Errorf("half-block 1 = [%d .. %d], want [64 .. 127]", buf[0], buf[63])
	}
}

func TestGetEDIDBlockExhaustsRetries(t *testing.T) {
	dev, ctrl := newTestDevice(t)
	ctrl.EDIDBadAttempts = 4

	buf := make([]byte, 64)
	err := dev.GetEDIDBlock(0, buf)
	if !errors.Is(err, mbox.ErrInvalidResponse) {
		t.Fatalf("err = %v, want last attempt's ErrInvalidResponse", err)
	}
}

func TestHPDQueries(t *testing.T) {
	dev, ctrl := newTestDevice(t)
	ctrl.HPD = 1

	for name, query := range map[string]func() (uint8, error){
		"GetHPDStatus": dev.GetHPDStatus,
		"ReadHPD":      dev.ReadHPD,
	} {
		status, err := query()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if status != 1 {
			t.Errorf("%s = %d, want 1", name, status)
		}
	}
}

func TestSetFirmwareActive(t *testing.T) {
	dev, _ := newTestDevice(t)

	// The activation ack reuses the request framing; the command must
	// consume it raw and leave the channel empty for the next
	// exchange.
	if err := dev.SetFirmwareActive(true); err != nil {
		t.Fatalf("SetFirmwareActive: %v", err)
	}
	if _, err := dev.ReadHPD(); err != nil {
		t.Fatalf("exchange after activation: %v", err)
	}
}

func TestAdjustLinkTraining(t *testing.T) {
	dev, ctrl := newTestDevice(t)
	for i := 0; i < 6; i++ {
		ctrl.SetDPCD(0x202+uint32(i), byte(0x70+i))
	}

	dpcd, err := dev.AdjustLinkTraining(4, 100, []byte{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("AdjustLinkTraining: %v", err)
	}
	for i := 0; i < 6; i++ {
		if dpcd[i] != byte(0x70+i) {
			t.Errorf("dpcd[%d] = %#x, want %#x", i, dpcd[i], 0x70+i)
		}
	}
}

// captureBus records mailbox bytes on their way into the simulator.
type captureBus struct {
	*sim.Controller
	sent []byte
}

func (b *captureBus) Write32(off uint32, val uint32) {
	if off == mbox.RegWrData {
		b.sent = append(b.sent, byte(val))
	}
	b.Controller.Write32(off, val)
}

func TestAdjustLinkTrainingFixedFrame(t *testing.T) {
	bus := &captureBus{Controller: sim.New()}
	dev, err := New(Config{
		Bus:    bus,
		Mode:   busio.ModeDirect,
		Clock:  &fakeClock{},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := dev.AdjustLinkTraining(1, 100, []byte{0x11}); err != nil {
		t.Fatalf("AdjustLinkTraining: %v", err)
	}

	// The request declares the full 7-byte layout even when fewer
	// lanes carry data.
	want := []byte{0x12, 0x01, 0x00, 0x07, 1, 0, 100, 0x11, 0, 0, 0}
	if !bytes.Equal(bus.sent, want) {
		t.Errorf("sent % x, want % x", bus.sent, want)
	}
}

func TestAdjustLinkTrainingBadLanes(t *testing.T) {
	dev, _ := newTestDevice(t)
	if _, err := dev.AdjustLinkTraining(3, 100, []byte{0, 0, 0}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestPHYRegisterAccess(t *testing.T) {
	dev, ctrl := newTestDevice(t)

	if err := dev.PHYWrite(0x10, 0xabcd); err != nil {
		t.Fatalf("PHYWrite: %v", err)
	}
	if got := ctrl.Reg(AddrPHYAFE + (0x10 << 2)); got != 0xabcd {
		t.Errorf("PHY register landed at wrong address, got %#x", got)
	}
	val, err := dev.PHYRead(0x10)
	if err != nil {
		t.Fatalf("PHYRead: %v", err)
	}
	if val != 0xabcd {
		t.Errorf("PHYRead = %#x, want 0xabcd", val)
	}
}

func TestLoadFirmware(t *testing.T) {
	dev, ctrl := newTestDevice(t)

	imem := []uint32{0x11, 0x22, 0x33}
	dmem := []uint32{0x44, 0x55}
	if err := dev.LoadFirmware(imem, dmem); err != nil {
		t.Fatalf("LoadFirmware: %v", err)
	}
	if got := ctrl.Reg(0x10000 + 8); got != 0x33 {
		t.Errorf("IMEM word 2 = %#x, want 0x33", got)
	}
	if got := ctrl.Reg(0x20000 + 4); got != 0x55 {
		t.Errorf("DMEM word 1 = %#x, want 0x55", got)
	}
	if ver := dev.FirmwareVersion(); ver != 0x0123 {
		t.Errorf("FirmwareVersion = %#x, want 0x0123", ver)
	}
}

func TestLoadFirmwareProgress(t *testing.T) {
	dev, _ := newTestDevice(t)

	var written []int
	total := 0
	err := dev.LoadFirmwareProgress([]uint32{1, 2, 3}, []uint32{4, 5},
		func(w, tot int) {
			written = append(written, w)
			total = tot
		})
	if err != nil {
		t.Fatalf("LoadFirmwareProgress: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	want := []int{1, 2, 3, 4, 5}
	if len(written) != len(want) {
		t.Fatalf("callback ran %d times, want %d", len(written), len(want))
	}
	for i := range want {
		if written[i] != want[i] {
			t.Errorf("written[%d] = %d, want %d", i, written[i], want[i])
		}
	}
}

func TestLoadFirmwareNotReady(t *testing.T) {
	dev, ctrl := newTestDevice(t)
	ctrl.FreezeAlive = true

	if err := dev.LoadFirmware(nil, nil); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestCheckAlive(t *testing.T) {
	dev, ctrl := newTestDevice(t)
	if !dev.CheckAlive() {
		t.Error("CheckAlive = false with a ticking firmware")
	}
	ctrl.FreezeAlive = true
	if dev.CheckAlive() {
		t.Error("CheckAlive = true with a frozen keep-alive counter")
	}
}

func TestFWClock(t *testing.T) {
	dev, _ := newTestDevice(t)
	dev.SetFWClock(125_000_000)
	if got := dev.FWClock(); got != 125 {
		t.Errorf("FWClock = %d MHz, want 125", got)
	}
}
