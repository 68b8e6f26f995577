package protocol

// TransferClass identifies the endpoint kind an injection rule set or a
// pump operates on.
type TransferClass string

// Transfer classes, matching the keys of the JSON rule set.
const (
	ClassControl TransferClass = "control"
	ClassInt     TransferClass = "int"
	ClassBulk    TransferClass = "bulk"
	ClassIsoc    TransferClass = "isoc"
)

// Endpoint attribute bits (bmAttributes), transfer-type field.
const (
	AttrTransferTypeMask     = 0x03
	AttrTransferTypeControl  = 0x00
	AttrTransferTypeIsoc     = 0x01
	AttrTransferTypeBulk     = 0x02
	AttrTransferTypeInterupt = 0x03
)

// Endpoint address direction bit (bEndpointAddress).
const (
	AddressDirectionIn = 0x80
)

// EndpointDescriptor mirrors the USB endpoint descriptor fields the proxy
// needs to route and classify transfers.
type EndpointDescriptor struct {
	// Address is bEndpointAddress, including the direction bit.
	Address uint8

	// Attributes encodes the transfer type (control/isoc/bulk/interrupt).
	Attributes uint8

	// MaxPacketSize is wMaxPacketSize.
	MaxPacketSize uint16
}

// IsIn reports whether this endpoint is device-to-host.
func (e EndpointDescriptor) IsIn() bool {
	return e.Address&AddressDirectionIn != 0
}

// Class maps the endpoint's transfer-type attribute bits to a
// TransferClass.
func (e EndpointDescriptor) Class() TransferClass {
	switch e.Attributes & AttrTransferTypeMask {
	case AttrTransferTypeControl:
		return ClassControl
	case AttrTransferTypeIsoc:
		return ClassIsoc
	case AttrTransferTypeBulk:
		return ClassBulk
	default:
		return ClassInt
	}
}
