package gadgetside

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbproxy/pkg"
	"github.com/ardnew/usbproxy/protocol"
)

// epIOHeaderSize is sizeof(rawEpIO): two uint16 fields plus one uint32.
const epIOHeaderSize = 8

// maxEventPayload is the inline payload size requested alongside a
// raw-gadget event. The only event this proxy interprets beyond its
// header is USB_RAW_EVENT_CONTROL, whose payload is an 8-byte setup
// packet.
const maxEventPayload = 8

// RawGadget is a GadgetSide implementation talking to /dev/raw-gadget.
// Its ioctls are plain syscalls against a shared fd: concurrent callers
// (the EP0 controller and every endpoint pump's reader/writer) each pass
// their own buffer, so no additional locking is needed here — a blocking
// EP_READ on one endpoint does not stall an EP_WRITE on another.
type RawGadget struct {
	file *os.File
}

// OpenRawGadget opens devicePath (typically "/dev/raw-gadget"), binds it
// to the named UDC/device pair at the given speed, and starts the
// gadget.
func OpenRawGadget(devicePath, driverName, deviceName string, speed Speed) (*RawGadget, error) {
	f, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devicePath, err)
	}

	g := &RawGadget{file: f}
	if err := g.init(driverName, deviceName, speed); err != nil {
		f.Close()
		return nil, fmt.Errorf("init: %w", err)
	}
	if err := g.ioctlSimple(iocRun); err != nil {
		f.Close()
		return nil, fmt.Errorf("run: %w", err)
	}
	return g, nil
}

// Close releases the raw-gadget file descriptor.
func (g *RawGadget) Close() error {
	return g.file.Close()
}

func (g *RawGadget) ioctl(req uintptr, arg unsafe.Pointer) (uintptr, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, g.file.Fd(), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

func (g *RawGadget) ioctlSimple(req uintptr) error {
	_, err := g.ioctl(req, nil)
	return err
}

func (g *RawGadget) init(driverName, deviceName string, speed Speed) error {
	var in rawInit
	copy(in.DriverName[:], driverName)
	copy(in.DeviceName[:], deviceName)
	in.Speed = rawSpeed(speed)
	_, err := g.ioctl(iocInit, unsafe.Pointer(&in))
	return err
}

// FetchEvent blocks until the kernel reports an event. Length ==
// ClosedLength signals the transport has closed.
func (g *RawGadget) FetchEvent() (Event, error) {
	raw := make([]byte, unsafe.Sizeof(rawEvent{}))
	hdr := (*rawEvent)(unsafe.Pointer(&raw[0]))
	hdr.Length = maxEventPayload

	if _, err := g.ioctl(iocEventFetch, unsafe.Pointer(&raw[0])); err != nil {
		return Event{}, err
	}

	ev := Event{Length: hdr.Length}
	switch hdr.Type {
	case rawEventControl:
		ev.Type = EventControl
		ev.Setup = decodeSetup(hdr.Data[:])
	case rawEventConnect:
		ev.Type = EventConnect
	case rawEventDisconnect:
		ev.Type = EventDisconnect
	case rawEventReset:
		ev.Type = EventReset
	case rawEventSuspend:
		ev.Type = EventSuspend
	case rawEventResume:
		ev.Type = EventResume
	default:
		pkg.LogWarn(pkg.ComponentGadgetSide, "unknown raw-gadget event type", "type", hdr.Type)
	}
	return ev, nil
}

func decodeSetup(b []byte) protocol.SetupPacket {
	if len(b) < 8 {
		return protocol.SetupPacket{}
	}
	return protocol.SetupPacket{
		BRequestType: b[0],
		BRequest:     b[1],
		WValue:       binary.LittleEndian.Uint16(b[2:4]),
		WIndex:       binary.LittleEndian.Uint16(b[4:6]),
		WLength:      binary.LittleEndian.Uint16(b[6:8]),
	}
}

func (g *RawGadget) epIOWrite(req uintptr, ep uint16, data []byte) (int, error) {
	buf := make([]byte, epIOHeaderSize+len(data))
	hdr := (*rawEpIO)(unsafe.Pointer(&buf[0]))
	hdr.Ep = ep
	hdr.Length = uint32(len(data))
	copy(buf[epIOHeaderSize:], data)

	n, err := g.ioctl(req, unsafe.Pointer(&buf[0]))
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (g *RawGadget) epIORead(req uintptr, ep uint16, data []byte) (int, error) {
	buf := make([]byte, epIOHeaderSize+len(data))
	hdr := (*rawEpIO)(unsafe.Pointer(&buf[0]))
	hdr.Ep = ep
	hdr.Length = uint32(len(data))

	n, err := g.ioctl(req, unsafe.Pointer(&buf[0]))
	if err != nil {
		return 0, err
	}
	copy(data, buf[epIOHeaderSize:epIOHeaderSize+int(n)])
	return int(n), nil
}

// Ep0Read reads the OUT data phase of a control transfer.
func (g *RawGadget) Ep0Read(data []byte) (int, error) {
	return g.epIORead(iocEp0Read, 0, data)
}

// Ep0Write writes the IN data phase of a control transfer.
func (g *RawGadget) Ep0Write(data []byte) (int, error) {
	return g.epIOWrite(iocEp0Write, 0, data)
}

// Ep0Stall stalls the control endpoint.
func (g *RawGadget) Ep0Stall() error {
	return g.ioctlSimple(iocEp0Stall)
}

// Configure acknowledges a Set-Configuration request to the driver.
func (g *RawGadget) Configure() error {
	return g.ioctlSimple(iocConfigure)
}

// EpEnable enables an endpoint and returns the kernel-assigned index.
func (g *RawGadget) EpEnable(descriptor protocol.EndpointDescriptor) (int, error) {
	desc := rawEndpointDescriptor{
		Length:         7,
		DescriptorType: 0x05, // USB_DT_ENDPOINT
		Address:        descriptor.Address,
		Attributes:     descriptor.Attributes,
		MaxPacketSize:  descriptor.MaxPacketSize,
	}
	n, err := g.ioctl(iocEpEnable, unsafe.Pointer(&desc))
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// EpDisable disables a previously enabled endpoint.
func (g *RawGadget) EpDisable(endpointIndex int) error {
	idx := uint32(endpointIndex)
	_, err := g.ioctl(iocEpDisable, unsafe.Pointer(&idx))
	return err
}

// EpRead reads from a non-control OUT endpoint.
func (g *RawGadget) EpRead(endpointIndex int, data []byte) (int, error) {
	return g.epIORead(iocEpRead, uint16(endpointIndex), data)
}

// EpWrite writes to a non-control IN endpoint.
func (g *RawGadget) EpWrite(endpointIndex int, data []byte) (int, error) {
	return g.epIOWrite(iocEpWrite, uint16(endpointIndex), data)
}

var _ GadgetSide = (*RawGadget)(nil)
