// Command usbproxy runs the USB man-in-the-middle proxy: a real USB
// device reached via google/gousb on one side, a raw-gadget-backed
// virtual device presented to an upstream host on the other.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbproxy/config"
	"github.com/ardnew/usbproxy/deviceside"
	"github.com/ardnew/usbproxy/gadgetside"
	"github.com/ardnew/usbproxy/gpio"
	"github.com/ardnew/usbproxy/pkg"
	"github.com/ardnew/usbproxy/runtime"
)

type options struct {
	configPath string
	inject     bool
	noInject   bool
	verbose    int

	vendorID  uint16
	productID uint16

	gadgetDevice string
	driverName   string
	deviceName   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "usbproxy",
		Short: "USB man-in-the-middle proxy with configurable transfer injection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "usbproxy.json", "path to the injection rule configuration file")
	flags.BoolVar(&opts.inject, "inject", false, "force injection_enabled on regardless of config")
	flags.BoolVar(&opts.noInject, "no-inject", false, "force injection_enabled off regardless of config")
	flags.CountVarP(&opts.verbose, "verbose", "v", "increase logging verbosity (-v, -vv)")

	flags.Var(hexUint16Flag{&opts.vendorID}, "vid", "downstream device vendor ID (hex)")
	flags.Var(hexUint16Flag{&opts.productID}, "pid", "downstream device product ID (hex)")

	flags.StringVar(&opts.gadgetDevice, "gadget-device", "/dev/raw-gadget", "raw-gadget character device path")
	flags.StringVar(&opts.driverName, "udc", "", "UDC driver name to bind the gadget to")
	flags.StringVar(&opts.deviceName, "gadget-name", "usbproxy", "gadget device name reported to the UDC")

	return cmd
}

// hexUint16Flag implements pflag.Value, parsing vendor/product IDs given
// as bare hex (e.g. "1d6b") without requiring a "0x" prefix.
type hexUint16Flag struct{ dst *uint16 }

func (f hexUint16Flag) String() string {
	if f.dst == nil {
		return "0000"
	}
	return strconv.FormatUint(uint64(*f.dst), 16)
}

func (f hexUint16Flag) Set(s string) error {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return fmt.Errorf("%w: %s", pkg.ErrInvalidHex, s)
	}
	*f.dst = uint16(v)
	return nil
}

func (f hexUint16Flag) Type() string { return "hex" }

func run(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.SlogLevel()
	if opts.verbose > 0 {
		level = verboseFlagLevel(opts.verbose)
	}
	pkg.SetLogLevel(level)

	injectionEnabled := cfg.InjectionEnabled
	switch {
	case opts.inject:
		injectionEnabled = true
	case opts.noInject:
		injectionEnabled = false
	}

	device, err := deviceside.OpenGousb(opts.vendorID, opts.productID)
	if err != nil {
		return fmt.Errorf("open downstream device: %w", err)
	}
	defer device.Close()

	gadget, err := gadgetside.OpenRawGadget(opts.gadgetDevice, opts.driverName, opts.deviceName, gadgetside.SpeedHigh)
	if err != nil {
		return fmt.Errorf("open raw gadget: %w", err)
	}
	defer gadget.Close()

	var reader gpio.GpioReader
	if len(cfg.Rules.UsedGpioPins()) > 0 {
		periph, err := gpio.NewPeriph()
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		reader = periph
	}

	rt := runtime.New(gadget, device, cfg.Rules, reader, injectionEnabled, device.Topology())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pkg.LogInfo(pkg.ComponentRuntime, "usbproxy starting",
		"config", opts.configPath, "injection_enabled", injectionEnabled)
	rt.Run(ctx)
	return nil
}

func verboseFlagLevel(count int) slog.Level {
	switch {
	case count >= 2:
		return slog.LevelDebug
	case count == 1:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}
