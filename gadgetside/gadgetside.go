// Package gadgetside defines the GadgetSide collaborator: the upstream
// kernel raw-gadget transport the proxy presents itself through.
package gadgetside

import "github.com/ardnew/usbproxy/protocol"

// EventType distinguishes the kinds of event fetch_event can return.
type EventType int

// Event types the controller cares about; others are skipped.
const (
	EventControl EventType = iota
	EventConnect
	EventDisconnect
	EventReset
	EventSuspend
	EventResume
)

// Event is populated by FetchEvent. Length == ClosedLength signals the
// transport has closed and the controller must exit.
type Event struct {
	Type  EventType
	Setup protocol.SetupPacket

	// Length mirrors the raw-gadget event's inner length field.
	Length uint32
}

// ClosedLength is the sentinel inner length signalling transport closure.
const ClosedLength = 0xFFFFFFFF

// GadgetSide is the abstract upstream collaborator: the kernel
// raw-gadget transport that delivers EP0 events and moves endpoint data.
type GadgetSide interface {
	// FetchEvent blocks until an event is available.
	FetchEvent() (Event, error)

	// Ep0Read reads the OUT data phase of a control transfer into data,
	// returning the number of bytes read.
	Ep0Read(data []byte) (int, error)

	// Ep0Write writes the IN data phase of a control transfer.
	Ep0Write(data []byte) (int, error)

	// Ep0Stall stalls the control endpoint.
	Ep0Stall() error

	// Configure acknowledges a Set-Configuration request to the gadget
	// driver.
	Configure() error

	// EpEnable enables an endpoint described by descriptor and returns
	// the index used to address it in subsequent EpRead/EpWrite/EpDisable
	// calls.
	EpEnable(descriptor protocol.EndpointDescriptor) (int, error)

	// EpDisable disables a previously enabled endpoint. Best-effort:
	// errors are logged by the caller, not propagated further.
	EpDisable(endpointIndex int) error

	// EpRead reads from a non-control OUT endpoint into data.
	EpRead(endpointIndex int, data []byte) (int, error)

	// EpWrite writes to a non-control IN endpoint.
	EpWrite(endpointIndex int, data []byte) (int, error)
}
