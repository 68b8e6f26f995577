package gadgetside

// ioctl request numbers and wire structs for /dev/raw-gadget, mirroring
// <linux/usb/raw_gadget.h>. Encoded with the same IOW/IOR/IOWR direction
// bits the kernel's _IOC macro uses.

import "unsafe"

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

func iow(typ, nr byte, size uintptr) uintptr {
	return ioc(iocWrite, uintptr(typ), uintptr(nr), size)
}

func ior(typ, nr byte, size uintptr) uintptr {
	return ioc(iocRead, uintptr(typ), uintptr(nr), size)
}

func iowr(typ, nr byte, size uintptr) uintptr {
	return ioc(iocWrite|iocRead, uintptr(typ), uintptr(nr), size)
}

func io(typ, nr byte) uintptr {
	return ioc(iocNone, uintptr(typ), uintptr(nr), 0)
}

var (
	iocInit        = iow('U', 0, unsafe.Sizeof(rawInit{}))
	iocRun         = io('U', 1)
	iocEventFetch  = ior('U', 2, unsafe.Sizeof(rawEvent{}))
	iocEp0Write    = iow('U', 3, unsafe.Sizeof(rawEpIO{}))
	iocEp0Read     = iowr('U', 4, unsafe.Sizeof(rawEpIO{}))
	iocEpEnable    = iow('U', 5, unsafe.Sizeof(rawEndpointDescriptor{}))
	iocEpDisable   = iow('U', 6, unsafe.Sizeof(uint32(0)))
	iocEpWrite     = iow('U', 7, unsafe.Sizeof(rawEpIO{}))
	iocEpRead      = iowr('U', 8, unsafe.Sizeof(rawEpIO{}))
	iocConfigure   = io('U', 9)
	iocVbusDraw    = iow('U', 10, unsafe.Sizeof(uint32(0)))
	iocEpsInfo     = ior('U', 11, unsafe.Sizeof(rawEpsInfo{}))
	iocEp0Stall    = io('U', 12)
	iocEpSetHalt   = iow('U', 13, unsafe.Sizeof(uint32(0)))
	iocEpClearHalt = iow('U', 14, unsafe.Sizeof(uint32(0)))
)

// rawSpeed mirrors enum usb_device_speed values the driver accepts at
// init time; the proxy always requests high-speed-or-lower autodetect.
type rawSpeed uint32

const (
	rawSpeedUnknown rawSpeed = 0
	rawSpeedFull    rawSpeed = 2
	rawSpeedHigh    rawSpeed = 3
)

// Speed selects the link speed requested from the UDC at init time.
type Speed rawSpeed

// Speed values accepted by OpenRawGadget.
const (
	SpeedUnknown = Speed(rawSpeedUnknown)
	SpeedFull    = Speed(rawSpeedFull)
	SpeedHigh    = Speed(rawSpeedHigh)
)

// rawInit is struct usb_raw_init: driver_name/device_name identify the
// UDC to bind, speed caps the negotiated link speed.
type rawInit struct {
	DriverName [32]byte
	DeviceName [32]byte
	Speed      rawSpeed
}

// rawEvent is struct usb_raw_event: Type distinguishes control/connect/
// reset/etc, Length is the inner payload length (ClosedLength on
// transport closure), Data holds a raw usb_ctrlrequest for control
// events.
type rawEvent struct {
	Type   uint32
	Length uint32
	Data   [8]byte // raw setup packet bytes for USB_RAW_EVENT_CONTROL
}

// rawEpIO is struct usb_raw_ep_io: Ep addresses the endpoint (0 for
// EP0), Flags is reserved, Length is the payload length. The payload
// follows the header inline, as in the kernel ABI: the call site
// allocates one buffer holding this header and then the data.
type rawEpIO struct {
	Ep     uint16
	Flags  uint16
	Length uint32
}

// rawEndpointDescriptor mirrors struct usb_endpoint_descriptor as passed
// to USB_RAW_IOCTL_EP_ENABLE.
type rawEndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	Address         uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
	Refresh         uint8
	SynchAddress    uint8
}

// rawEpInfo/rawEpsInfo mirror struct usb_raw_ep_info/usb_raw_eps_info,
// the endpoint capability table returned by USB_RAW_IOCTL_EPS_INFO.
type rawEpInfo struct {
	Name          [16]byte
	Addr          uint32
	CapsTypeIso   uint32
	CapsTypeBulk  uint32
	CapsTypeInt   uint32
	CapsDirIn     uint32
	CapsDirOut    uint32
	Limits        uint32
}

type rawEpsInfo struct {
	Eps [32]rawEpInfo
}

// Raw-gadget event types (enum usb_raw_event_type).
const (
	rawEventConnect    = 1
	rawEventControl    = 2
	rawEventSuspend    = 3
	rawEventResume     = 4
	rawEventReset      = 5
	rawEventDisconnect = 6
)
