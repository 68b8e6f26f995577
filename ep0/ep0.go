// Package ep0 implements the Ep0Controller: the single goroutine driving
// the gadget's control endpoint, mirroring host configuration/interface
// selection onto the downstream device and proxying every other control
// request through the injection engine.
package ep0

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ardnew/usbproxy/buffer"
	"github.com/ardnew/usbproxy/deviceside"
	"github.com/ardnew/usbproxy/gadgetside"
	"github.com/ardnew/usbproxy/inject"
	"github.com/ardnew/usbproxy/pkg"
	"github.com/ardnew/usbproxy/protocol"
	"github.com/ardnew/usbproxy/pump"
	"github.com/ardnew/usbproxy/topology"
)

// controlTimeout bounds every DeviceSide.Control call the controller
// issues.
const controlTimeout = 1000 * time.Millisecond

// Controller drives EP0 until its context is cancelled.
type Controller struct {
	gadget   gadgetside.GadgetSide
	device   deviceside.DeviceSide
	engine   *inject.Engine
	topology *topology.DeviceTopology
	sampler  pump.Sampler // nil if no GPIO rules configured
	enabled  *atomic.Bool

	pumps                    *pumpRegistry
	setConfigurationDoneOnce bool
}

// New constructs a Controller. sampler and enabled are shared with every
// EndpointPump the controller creates.
func New(
	gadget gadgetside.GadgetSide,
	device deviceside.DeviceSide,
	engine *inject.Engine,
	topo *topology.DeviceTopology,
	sampler pump.Sampler,
	enabled *atomic.Bool,
) *Controller {
	return &Controller{
		gadget:   gadget,
		device:   device,
		engine:   engine,
		topology: topo,
		sampler:  sampler,
		enabled:  enabled,
		pumps:    newPumpRegistry(),
	}
}

// Run executes the EP0 event loop until ctx is cancelled or the gadget
// transport reports closure. On exit it tears down every pump belonging
// to the current configuration's interfaces.
func (c *Controller) Run(ctx context.Context) {
	defer c.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		event, err := c.gadget.FetchEvent()
		if err != nil {
			pkg.LogWarn(pkg.ComponentEp0, "fetch event failed", "error", err)
			continue
		}
		if event.Length == gadgetside.ClosedLength {
			return
		}
		if event.Type != gadgetside.EventControl {
			continue
		}

		c.handleControl(ctx, event.Setup)
	}
}

func (c *Controller) teardown() {
	cfg, ok := c.topology.Current()
	if !ok {
		c.pumps.stopAll()
		return
	}
	c.teardownConfig(cfg)
}

func (c *Controller) handleControl(ctx context.Context, setup protocol.SetupPacket) {
	io := buffer.New()
	io.Length = int(setup.WLength)

	if setup.IsIn() {
		c.handleIn(ctx, setup, io)
	} else {
		c.handleOut(ctx, setup, io)
	}
}

func (c *Controller) handleIn(ctx context.Context, setup protocol.SetupPacket, io *buffer.TransferBuffer) {
	n, err := c.device.Control(ctx, setup, io.Data[:setup.WLength], controlTimeout)
	if err != nil {
		c.stallEp0()
		return
	}
	io.Length = n

	disposition := buffer.DispositionNone
	if c.injectionEnabled() {
		disposition = c.engine.InjectControl(&setup, io)
	}

	switch disposition {
	case buffer.DispositionIgnore:
		// No reply; the host times out or re-prompts the gadget.
	case buffer.DispositionStall:
		c.stallEp0()
	default:
		if disposition != buffer.DispositionNone {
			pkg.LogWarn(pkg.ComponentEp0, "unknown disposition, treating as none", "disposition", disposition)
		}
		if _, err := c.gadget.Ep0Write(io.Bytes()); err != nil {
			pkg.LogWarn(pkg.ComponentEp0, "ep0 write failed", "error", err)
		}
	}
}

func (c *Controller) handleOut(ctx context.Context, setup protocol.SetupPacket, io *buffer.TransferBuffer) {
	n, err := c.gadget.Ep0Read(io.Data[:setup.WLength])
	if err != nil {
		pkg.LogWarn(pkg.ComponentEp0, "ep0 read failed", "error", err)
		return
	}
	io.Length = n

	switch {
	case setup.IsSetConfiguration():
		c.handleSetConfiguration(ctx, setup)
	case setup.IsSetInterface():
		c.handleSetInterface(ctx, setup)
	default:
		c.handleGenericOut(ctx, setup, io)
	}
}

func (c *Controller) handleGenericOut(ctx context.Context, setup protocol.SetupPacket, io *buffer.TransferBuffer) {
	disposition := buffer.DispositionNone
	if c.injectionEnabled() {
		disposition = c.engine.InjectControl(&setup, io)
	}

	switch disposition {
	case buffer.DispositionIgnore:
		return
	case buffer.DispositionStall:
		c.stallEp0()
		return
	}

	if _, err := c.device.Control(ctx, setup, io.Data[:io.Length], controlTimeout); err != nil {
		c.stallEp0()
	}
}

func (c *Controller) handleSetConfiguration(ctx context.Context, setup protocol.SetupPacket) {
	value := uint8(setup.WValue)
	idx := c.topology.ConfigIndexByValue(value)
	if idx < 0 {
		pkg.LogWarn(pkg.ComponentEp0, "unknown configuration value, dropping", "value", value)
		return
	}

	if c.setConfigurationDoneOnce {
		if cfg, ok := c.topology.Current(); ok {
			c.teardownConfig(cfg)
		}
	}

	if err := c.gadget.Configure(); err != nil {
		pkg.LogWarn(pkg.ComponentEp0, "gadget configure failed", "error", err)
	}
	if err := c.device.SetConfiguration(value); err != nil {
		pkg.LogWarn(pkg.ComponentEp0, "device set configuration failed", "error", err)
	}
	c.topology.SetCurrentConfig(idx)

	cfg, _ := c.topology.ConfigAt(idx)
	for ifaceIdx, iface := range cfg.Interfaces {
		if err := c.device.ClaimInterface(iface.Number); err != nil {
			pkg.LogWarn(pkg.ComponentEp0, "claim interface failed", "interface", iface.Number, "error", err)
			continue
		}
		c.topology.SetInterfaceAlt(idx, ifaceIdx, 0)
		c.startAltsettingPumps(ctx, idx, ifaceIdx, 0)
	}

	c.setConfigurationDoneOnce = true
}

func (c *Controller) handleSetInterface(ctx context.Context, setup protocol.SetupPacket) {
	configIdx := c.topology.CurrentConfigIndex()
	cfg, ok := c.topology.Current()
	if !ok {
		pkg.LogWarn(pkg.ComponentEp0, "set-interface with no configuration active")
		return
	}

	ifaceIdx := cfg.InterfaceIndexByNumber(uint8(setup.WIndex))
	if ifaceIdx < 0 {
		pkg.LogWarn(pkg.ComponentEp0, "unknown interface number, dropping", "number", setup.WIndex)
		return
	}
	iface := cfg.Interfaces[ifaceIdx]

	altIdx := iface.AltsettingIndexByValue(uint8(setup.WValue))
	if altIdx < 0 {
		pkg.LogWarn(pkg.ComponentEp0, "unknown altsetting, dropping", "value", setup.WValue)
		return
	}

	c.stopInterfacePumps(iface)
	if err := c.device.SetInterfaceAltSetting(iface.Number, uint8(setup.WValue)); err != nil {
		pkg.LogWarn(pkg.ComponentEp0, "device set altsetting failed", "error", err)
	}
	c.topology.SetInterfaceAlt(configIdx, ifaceIdx, altIdx)
	c.startAltsettingPumps(ctx, configIdx, ifaceIdx, altIdx)
}

func (c *Controller) teardownConfig(cfg topology.Config) {
	for _, iface := range cfg.Interfaces {
		c.stopInterfacePumps(iface)
		if err := c.device.ReleaseInterface(iface.Number); err != nil {
			pkg.LogWarn(pkg.ComponentEp0, "release interface failed", "interface", iface.Number, "error", err)
		}
	}
}

func (c *Controller) stopInterfacePumps(iface topology.Interface) {
	for _, ep := range iface.CurrentAltsetting().Endpoints {
		c.pumps.stop(ep.Descriptor.Address)
	}
}

func (c *Controller) startAltsettingPumps(ctx context.Context, configIdx, ifaceIdx, altIdx int) {
	cfg, ok := c.topology.ConfigAt(configIdx)
	if !ok || ifaceIdx >= len(cfg.Interfaces) {
		return
	}
	iface := cfg.Interfaces[ifaceIdx]
	if altIdx >= len(iface.Altsettings) {
		return
	}

	for _, ep := range iface.Altsettings[altIdx].Endpoints {
		idx, err := c.gadget.EpEnable(ep.Descriptor)
		if err != nil {
			pkg.LogWarn(pkg.ComponentEp0, "ep enable failed", "address", ep.Descriptor.Address, "error", err)
			continue
		}
		p := pump.New(ep.Descriptor, idx, c.device, c.gadget, c.engine, c.sampler, c.enabled)
		p.Start(ctx)
		c.pumps.set(ep.Descriptor.Address, p)
	}
}

func (c *Controller) injectionEnabled() bool {
	return c.enabled == nil || c.enabled.Load()
}

func (c *Controller) stallEp0() {
	if err := c.gadget.Ep0Stall(); err != nil {
		pkg.LogWarn(pkg.ComponentEp0, "ep0 stall failed", "error", err)
	}
}
