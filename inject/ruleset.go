package inject

import "github.com/ardnew/usbproxy/protocol"

// RuleType distinguishes the two endpoint rule variants as a tagged sum
// type, fixed at load time, so the engine dispatches on Type rather than
// probing which optional fields are present in the hot path.
type RuleType string

// Endpoint rule types.
const (
	RuleTypeDefault         RuleType = "Default"
	RuleTypeRaspberryPiGpio RuleType = "RaspberryPiGpio"
)

// ByteReplacementType selects how a GPIO byte replacement is applied.
type ByteReplacementType string

// Byte replacement modes.
const (
	ByteReplacementReplace   ByteReplacementType = "Replace"
	ByteReplacementBitwiseOr ByteReplacementType = "BitwiseOr"
)

// ControlRule matches an exact setup packet and either modifies, ignores,
// or stalls the transfer, depending on which sub-list it was loaded from.
type ControlRule struct {
	Enable       bool   `json:"enable"`
	BRequestType uint8  `json:"bRequestType"`
	BRequest     uint8  `json:"bRequest"`
	WValue       uint16 `json:"wValue"`
	WIndex       uint16 `json:"wIndex"`
	WLength      uint16 `json:"wLength"`

	// ContentPattern and Replacement are only meaningful for modify
	// rules; hex-ASCII strings, decoded at Compile time.
	ContentPattern []string `json:"content_pattern,omitempty"`
	Replacement    string   `json:"replacement,omitempty"`

	pattern     [][]byte
	replacement []byte
}

// setup returns the setup packet this rule matches exactly.
func (r ControlRule) setup() protocol.SetupPacket {
	return protocol.SetupPacket{
		BRequestType: r.BRequestType,
		BRequest:     r.BRequest,
		WValue:       r.WValue,
		WIndex:       r.WIndex,
		WLength:      r.WLength,
	}
}

// ControlRuleSet holds the three ordered sub-lists evaluated in fixed
// order: modify, ignore, stall.
type ControlRuleSet struct {
	Modify []ControlRule `json:"modify"`
	Ignore []ControlRule `json:"ignore"`
	Stall  []ControlRule `json:"stall"`
}

// GpioCondition names the pins that must read active (on) or inactive
// (off) for a RaspberryPiGpio rule to apply.
type GpioCondition struct {
	On  []int `json:"on"`
	Off []int `json:"off"`
}

// ByteReplacement assigns or ORs a single byte at Index when a
// RaspberryPiGpio rule's condition holds.
type ByteReplacement struct {
	Index int   `json:"index"`
	Value uint8 `json:"value"`
}

// EndpointRule is one rule in the int/bulk/isoc ordered list.
type EndpointRule struct {
	Enable    bool   `json:"enable"`
	EpAddress uint8  `json:"ep_address"`
	Type      RuleType `json:"type,omitempty"`

	// Default-variant fields.
	ContentPattern []string `json:"content_pattern,omitempty"`
	Replacement    string   `json:"replacement,omitempty"`

	// RaspberryPiGpio-variant fields.
	Gpio                GpioCondition       `json:"gpio,omitempty"`
	ByteReplacementType ByteReplacementType `json:"byte_replacement_type,omitempty"`
	ByteReplacements    []ByteReplacement   `json:"byte_replacements,omitempty"`

	pattern     [][]byte
	replacement []byte
}

// effectiveType returns Type, defaulting to Default when absent, per the
// JSON schema's documented default.
func (r EndpointRule) effectiveType() RuleType {
	if r.Type == "" {
		return RuleTypeDefault
	}
	return r.Type
}

// effectiveByteReplacementType returns ByteReplacementType, defaulting to
// Replace when absent.
func (r EndpointRule) effectiveByteReplacementType() ByteReplacementType {
	if r.ByteReplacementType == "" {
		return ByteReplacementReplace
	}
	return r.ByteReplacementType
}

// RuleSet is the decoded, read-only-after-load configuration: one set of
// rules per transfer class.
type RuleSet struct {
	Control ControlRuleSet          `json:"control"`
	Int     []EndpointRule          `json:"int"`
	Bulk    []EndpointRule          `json:"bulk"`
	Isoc    []EndpointRule          `json:"isoc"`
}

// forClass returns the ordered rule list for a non-control transfer
// class.
func (rs *RuleSet) forClass(class protocol.TransferClass) []EndpointRule {
	switch class {
	case protocol.ClassInt:
		return rs.Int
	case protocol.ClassBulk:
		return rs.Bulk
	case protocol.ClassIsoc:
		return rs.Isoc
	default:
		return nil
	}
}
