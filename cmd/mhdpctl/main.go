// mhdpctl exercises a mailbox-attached DisplayPort transmitter from
// the command line: firmware load, link training, video setup and raw
// register/DPCD access. It drives either the in-memory controller
// model (--sim) or a real register window mapped through /dev/mem.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/hwplane/mhdp"
	"github.com/hwplane/mhdp/internal/sim"
)

func main() {
	app := &cli.App{
		Name:  "mhdpctl",
		Usage: "control a mailbox-attached DisplayPort transmitter",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "sim",
				Usage: "drive the built-in controller model",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "mem",
				Usage: "physical base address of the register window (hex)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Before: func(ctx *cli.Context) error {
			level := slog.LevelInfo
			if ctx.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
				&slog.HandlerOptions{Level: level})))
			return nil
		},
		Commands: []*cli.Command{
			infoCmd(),
			loadFWCmd(),
			trainCmd(),
			setVideoCmd(),
			regCmd(),
			dpcdCmd(),
			edidCmd(),
			watchCmd(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("mhdpctl failed", "err", err)
		os.Exit(1)
	}
}

// openDevice builds the device handle for the selected backend. In
// sim mode the firmware model is pre-loaded so every command works
// immediately.
func openDevice(ctx *cli.Context) (*mhdp.Device, error) {
	if memArg := ctx.String("mem"); memArg != "" {
		base, err := strconv.ParseUint(memArg, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad --mem address %q: %w", memArg, err)
		}
		bus, err := openPhysical(base)
		if err != nil {
			return nil, err
		}
		return mhdp.New(mhdp.Config{Bus: bus, Mode: mhdp.ModeDirect})
	}

	ctrl := sim.New()
	dev, err := mhdp.New(mhdp.Config{Bus: ctrl, Mode: mhdp.ModeDirect})
	if err != nil {
		return nil, err
	}
	dev.SetLink(mhdp.LinkState{Rate: mhdp.LinkRateHBR2, Lanes: 4})
	return dev, nil
}

func infoCmd() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "firmware, HPD and link state summary",
		Action: func(ctx *cli.Context) error {
			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}
			hpd, err := dev.ReadHPD()
			if err != nil {
				return err
			}
			link := dev.Link()
			fmt.Printf("firmware version: %#08x\n", dev.FirmwareVersion())
			fmt.Printf("firmware clock:   %d MHz\n", dev.FWClock())
			fmt.Printf("alive:            %v\n", dev.CheckAlive())
			fmt.Printf("hpd:              %d\n", hpd)
			fmt.Printf("link:             %d x%d\n", link.Rate, link.Lanes)
			return nil
		},
	}
}

func loadFWCmd() *cli.Command {
	return &cli.Command{
		Name:      "load-fw",
		Usage:     "load a firmware image and wait for the alive check",
		ArgsUsage: "IRAM-FILE DRAM-FILE",
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 2 {
				return fmt.Errorf("need IRAM and DRAM image paths")
			}
			imem, err := readWords(ctx.Args().Get(0))
			if err != nil {
				return err
			}
			dmem, err := readWords(ctx.Args().Get(1))
			if err != nil {
				return err
			}

			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}

			bar := progressbar.NewOptions(len(imem)+len(dmem),
				progressbar.OptionSetDescription("loading firmware"),
				progressbar.OptionSetVisibility(term.IsTerminal(int(os.Stderr.Fd()))),
			)
			err = dev.LoadFirmwareProgress(imem, dmem, func(written, total int) {
				_ = bar.Set(written)
			})
			if err != nil {
				return err
			}
			_ = bar.Finish()
			dev.ClockReset()
			fmt.Printf("\nfirmware %#08x alive\n", dev.FirmwareVersion())
			return dev.SetFirmwareActive(true)
		},
	}
}

func trainCmd() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "run link training and report the negotiated link",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "flip", Usage: "use flipped lane mapping"},
		},
		Action: func(ctx *cli.Context) error {
			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}
			if err := dev.SetHostCapabilities(ctx.Bool("flip")); err != nil {
				return err
			}
			if err := dev.EventConfig(); err != nil {
				return err
			}
			if err := dev.TrainLink(); err != nil {
				return err
			}
			link := dev.Link()
			fmt.Printf("trained: %d x%d\n", link.Rate, link.Lanes)
			return nil
		},
	}
}

func setVideoCmd() *cli.Command {
	return &cli.Command{
		Name:  "set-video",
		Usage: "configure video timing from a mode preset",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "modes",
				Usage: "YAML mode preset file",
			},
			&cli.StringFlag{
				Name:  "preset",
				Usage: "preset name",
				Value: "1080p60",
			},
		},
		Action: func(ctx *cli.Context) error {
			preset, err := lookupPreset(ctx.String("modes"), ctx.String("preset"))
			if err != nil {
				return err
			}
			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}
			if err := dev.TrainLink(); err != nil {
				return err
			}
			dev.SetVideo(preset.mode(), preset.video())
			if err := dev.ConfigVideo(); err != nil {
				return err
			}
			if err := dev.SetVideoStatus(true); err != nil {
				return err
			}
			fmt.Printf("video configured: %s\n", preset.Name)
			return nil
		},
	}
}

func regCmd() *cli.Command {
	return &cli.Command{
		Name:  "reg",
		Usage: "register access through the firmware",
		Subcommands: []*cli.Command{
			{
				Name:      "read",
				ArgsUsage: "ADDR",
				Action: func(ctx *cli.Context) error {
					addr, err := strconv.ParseUint(ctx.Args().First(), 0, 32)
					if err != nil {
						return err
					}
					dev, err := openDevice(ctx)
					if err != nil {
						return err
					}
					val, err := dev.RegRead(uint32(addr))
					if err != nil {
						return err
					}
					fmt.Printf("%#08x\n", val)
					return nil
				},
			},
			{
				Name:      "write",
				ArgsUsage: "ADDR VALUE",
				Action: func(ctx *cli.Context) error {
					addr, err := strconv.ParseUint(ctx.Args().Get(0), 0, 32)
					if err != nil {
						return err
					}
					val, err := strconv.ParseUint(ctx.Args().Get(1), 0, 32)
					if err != nil {
						return err
					}
					dev, err := openDevice(ctx)
					if err != nil {
						return err
					}
					return dev.RegWrite(uint32(addr), uint32(val))
				},
			},
		},
	}
}

func dpcdCmd() *cli.Command {
	return &cli.Command{
		Name:  "dpcd",
		Usage: "link-partner DPCD access",
		Subcommands: []*cli.Command{
			{
				Name:      "read",
				ArgsUsage: "ADDR [LEN]",
				Action: func(ctx *cli.Context) error {
					addr, err := strconv.ParseUint(ctx.Args().Get(0), 0, 24)
					if err != nil {
						return err
					}
					length := uint64(1)
					if ctx.NArg() > 1 {
						if length, err = strconv.ParseUint(ctx.Args().Get(1), 0, 16); err != nil {
							return err
						}
					}
					dev, err := openDevice(ctx)
					if err != nil {
						return err
					}
					data, err := dev.DPCDRead(uint32(addr), uint16(length))
					if err != nil {
						return err
					}
					fmt.Println(hex.EncodeToString(data))
					return nil
				},
			},
			{
				Name:      "write",
				ArgsUsage: "ADDR VALUE",
				Action: func(ctx *cli.Context) error {
					addr, err := strconv.ParseUint(ctx.Args().Get(0), 0, 24)
					if err != nil {
						return err
					}
					val, err := strconv.ParseUint(ctx.Args().Get(1), 0, 8)
					if err != nil {
						return err
					}
					dev, err := openDevice(ctx)
					if err != nil {
						return err
					}
					return dev.DPCDWrite(uint32(addr), byte(val))
				},
			},
		},
	}
}

func edidCmd() *cli.Command {
	return &cli.Command{
		Name:  "edid",
		Usage: "dump the sink EDID",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "blocks", Value: 1, Usage: "EDID blocks to fetch (1-2)"},
		},
		Action: func(ctx *cli.Context) error {
			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}
			blocks := ctx.Int("blocks")
			for block := 0; block < blocks*2; block++ {
				buf := make([]byte, 64)
				if err := dev.GetEDIDBlock(uint32(block), buf); err != nil {
					return err
				}
				fmt.Print(hex.Dump(buf))
			}
			return nil
		},
	}
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "poll HPD and firmware liveness until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Value: time.Second},
			&cli.IntFlag{Name: "count", Value: 10, Usage: "samples per poller, 0 for forever"},
		},
		Action: func(ctx *cli.Context) error {
			dev, err := openDevice(ctx)
			if err != nil {
				return err
			}
			interval := ctx.Duration("interval")
			count := ctx.Int("count")

			g, gctx := errgroup.WithContext(ctx.Context)
			g.Go(func() error {
				for i := 0; count == 0 || i < count; i++ {
					hpd, err := dev.ReadHPD()
					if err != nil {
						return err
					}
					fmt.Printf("hpd=%d events=%#x\n", hpd, dev.GetEvent())
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(interval):
					}
				}
				return nil
			})
			g.Go(func() error {
				for i := 0; count == 0 || i < count; i++ {
					if !dev.CheckAlive() {
						return fmt.Errorf("firmware stopped responding")
					}
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(interval):
					}
				}
				return nil
			})
			return g.Wait()
		},
	}
}

// readWords parses a firmware image as little-endian 32-bit words.
func readWords(path string) ([]uint32, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("%s: image length %d is not word aligned", path, len(blob))
	}
	words := make([]uint32, len(blob)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(blob[i*4:])
	}
	return words, nil
}
