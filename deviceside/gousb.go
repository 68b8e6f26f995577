package deviceside

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/ardnew/usbproxy/pkg"
	"github.com/ardnew/usbproxy/protocol"
)

// Gousb is a DeviceSide implementation backed by google/gousb, talking to
// an already-enumerated real device over the host's libusb stack.
type Gousb struct {
	ctx    *gousb.Context
	device *gousb.Device

	mu         sync.Mutex
	config     *gousb.Config
	interfaces map[uint8]*gousb.Interface
	inEps      map[uint8]*gousb.InEndpoint
	outEps     map[uint8]*gousb.OutEndpoint
}

// OpenGousb opens the first device matching vendorID/productID and
// returns a Gousb DeviceSide wrapping it. The caller must call Close when
// done.
func OpenGousb(vendorID, productID uint16) (*Gousb, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vendorID), gousb.ID(productID))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("open device %04x:%04x: %w", vendorID, productID, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w: %04x:%04x", pkg.ErrNoDevice, vendorID, productID)
	}

	return &Gousb{
		ctx:        ctx,
		device:     dev,
		interfaces: make(map[uint8]*gousb.Interface),
		inEps:      make(map[uint8]*gousb.InEndpoint),
		outEps:     make(map[uint8]*gousb.OutEndpoint),
	}, nil
}

// Close releases the interfaces, configuration, device, and context.
func (g *Gousb) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for num, intf := range g.interfaces {
		intf.Close()
		delete(g.interfaces, num)
	}
	if g.config != nil {
		g.config.Close()
		g.config = nil
	}
	if err := g.device.Close(); err != nil {
		pkg.LogWarn(pkg.ComponentDeviceSide, "device close failed", "error", err)
	}
	g.ctx.Close()
	return nil
}

// SetConfiguration opens the gousb configuration matching value, closing
// any previously open configuration and its claimed interfaces.
func (g *Gousb) SetConfiguration(value uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for num, intf := range g.interfaces {
		intf.Close()
		delete(g.interfaces, num)
	}
	if g.config != nil {
		g.config.Close()
		g.config = nil
	}

	cfg, err := g.device.Config(int(value))
	if err != nil {
		return fmt.Errorf("set configuration %d: %w", value, err)
	}
	g.config = cfg
	return nil
}

// ClaimInterface claims interface number at altsetting 0.
func (g *Gousb) ClaimInterface(number uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.config == nil {
		return fmt.Errorf("%w: no configuration set", pkg.ErrInvalidState)
	}
	intf, err := g.config.Interface(int(number), 0)
	if err != nil {
		return fmt.Errorf("claim interface %d: %w", number, err)
	}
	g.interfaces[number] = intf
	return nil
}

// ReleaseInterface releases a previously claimed interface.
func (g *Gousb) ReleaseInterface(number uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	intf, ok := g.interfaces[number]
	if !ok {
		return nil
	}
	intf.Close()
	delete(g.interfaces, number)
	return nil
}

// SetInterfaceAltSetting re-claims interface number at the given
// alternate setting.
func (g *Gousb) SetInterfaceAltSetting(number, alt uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.config == nil {
		return fmt.Errorf("%w: no configuration set", pkg.ErrInvalidState)
	}
	if intf, ok := g.interfaces[number]; ok {
		intf.Close()
	}
	intf, err := g.config.Interface(int(number), int(alt))
	if err != nil {
		return fmt.Errorf("set altsetting %d/%d: %w", number, alt, err)
	}
	g.interfaces[number] = intf
	return nil
}

// Control issues a control transfer directly through the underlying
// libusb device handle, bounded by the device's own ControlTimeout
// rather than a goroutine raced against time.After.
func (g *Gousb) Control(ctx context.Context, setup protocol.SetupPacket, data []byte, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.device.ControlTimeout = timeout
	return g.device.Control(setup.BRequestType, setup.BRequest, setup.WValue, setup.WIndex, data)
}

// resolveOutEndpoint resolves (or lazily opens) the OUT endpoint for addr
// within the currently claimed interface owning it.
func (g *Gousb) resolveOutEndpoint(addr uint8) (*gousb.OutEndpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ep, ok := g.outEps[addr]; ok {
		return ep, nil
	}
	for _, intf := range g.interfaces {
		for _, desc := range intf.Setting.Endpoints {
			if uint8(desc.Address) != addr {
				continue
			}
			ep, err := intf.OutEndpoint(desc.Number)
			if err != nil {
				return nil, err
			}
			g.outEps[addr] = ep
			return ep, nil
		}
	}
	return nil, fmt.Errorf("%w: out endpoint %#02x not claimed", pkg.ErrInvalidEndpoint, addr)
}

func (g *Gousb) resolveInEndpoint(addr uint8) (*gousb.InEndpoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ep, ok := g.inEps[addr]; ok {
		return ep, nil
	}
	for _, intf := range g.interfaces {
		for _, desc := range intf.Setting.Endpoints {
			if uint8(desc.Address) == addr {
				ep, err := intf.InEndpoint(desc.Number)
				if err != nil {
					return nil, err
				}
				g.inEps[addr] = ep
				return ep, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: in endpoint %#02x not claimed", pkg.ErrInvalidEndpoint, addr)
}

// Send issues a non-control OUT transfer, cancellable through ctx via
// gousb's own WriteContext rather than an unjoined goroutine.
func (g *Gousb) Send(ctx context.Context, addr, attrs uint8, data []byte) error {
	ep, err := g.resolveOutEndpoint(addr)
	if err != nil {
		return err
	}
	_, err = ep.WriteContext(ctx, data)
	return err
}

// Receive issues a non-control IN transfer bounded by timeout, returning
// n == 0 on timeout. Uses gousb's ReadContext, which natively cancels
// the underlying libusb transfer on context expiry instead of leaking a
// goroutine blocked on the real transfer.
func (g *Gousb) Receive(ctx context.Context, addr, attrs uint8, maxPacket uint16, data []byte, timeout time.Duration) (int, error) {
	ep, err := g.resolveInEndpoint(addr)
	if err != nil {
		return 0, err
	}

	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, err := ep.ReadContext(readCtx, data)
	if err != nil {
		if readCtx.Err() != nil && ctx.Err() == nil {
			// Only the per-call timeout expired, not the caller's ctx.
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

var _ DeviceSide = (*Gousb)(nil)
