// Package deviceside defines the DeviceSide collaborator: the downstream
// real USB device reached through a user-space transport.
package deviceside

import (
	"context"
	"time"

	"github.com/ardnew/usbproxy/protocol"
)

// DeviceSide is the abstract downstream collaborator. Implementations
// issue transfers against the real device attached via a user-space USB
// library.
type DeviceSide interface {
	// Control issues a control transfer described by setup. On an IN
	// transfer, data is filled with up to len(data) bytes and n reports
	// how many were actually read. On an OUT transfer, data[:n] (n ==
	// len(data) by construction) is sent to the device.
	Control(ctx context.Context, setup protocol.SetupPacket, data []byte, timeout time.Duration) (n int, err error)

	// Send issues a non-control OUT transfer on the endpoint described
	// by addr/attrs.
	Send(ctx context.Context, addr uint8, attrs uint8, data []byte) error

	// Receive issues a non-control IN transfer on the endpoint described
	// by addr/attrs/maxPacket, filling data and returning the number of
	// bytes read. A timeout with no data returns n == 0, err == nil.
	Receive(ctx context.Context, addr uint8, attrs uint8, maxPacket uint16, data []byte, timeout time.Duration) (n int, err error)

	// SetConfiguration selects the device configuration identified by
	// bConfigurationValue.
	SetConfiguration(value uint8) error

	// SetInterfaceAltSetting selects an alternate setting on an
	// already-claimed interface.
	SetInterfaceAltSetting(number, alt uint8) error

	// ClaimInterface claims exclusive access to an interface.
	ClaimInterface(number uint8) error

	// ReleaseInterface releases a previously claimed interface.
	ReleaseInterface(number uint8) error
}
