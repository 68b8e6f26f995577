package inject

import (
	"testing"

	"github.com/ardnew/usbproxy/buffer"
	"github.com/ardnew/usbproxy/protocol"
)

func mustRuleSet(t *testing.T, rs *RuleSet) *RuleSet {
	t.Helper()
	if err := rs.Compile(); err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return rs
}

// fakeSampler implements Sampler with pins fixed at construction.
type fakeSampler struct {
	low map[int]bool
}

func (f fakeSampler) AllActive(pins []int) bool {
	for _, p := range pins {
		if !f.low[p] {
			return false
		}
	}
	return true
}

func (f fakeSampler) AllInactive(pins []int) bool {
	for _, p := range pins {
		if f.low[p] {
			return false
		}
	}
	return true
}

// S1: modify IN bulk.
func TestInjectDataEp_ModifyIN(t *testing.T) {
	rs := mustRuleSet(t, &RuleSet{
		Bulk: []EndpointRule{
			{Enable: true, EpAddress: 0x81, Type: RuleTypeDefault, ContentPattern: []string{"41"}, Replacement: "42"},
		},
	})
	e := NewEngine(rs, nil)

	io := buffer.NewFrom(1, []byte{0x41, 0x43}, 2)
	ep := protocol.EndpointDescriptor{Address: 0x81}

	e.InjectDataEp(io, ep, protocol.ClassBulk)

	if io.Length != 2 {
		t.Fatalf("Length = %d, want 2", io.Length)
	}
	want := []byte{0x42, 0x43}
	if string(io.Bytes()) != string(want) {
		t.Errorf("Bytes() = %x, want %x", io.Bytes(), want)
	}
}

// S2: length overflow guard.
func TestInjectData_LengthOverflowGuard(t *testing.T) {
	rs := mustRuleSet(t, &RuleSet{
		Bulk: []EndpointRule{
			{Enable: true, EpAddress: 0x81, Type: RuleTypeDefault, ContentPattern: []string{"41"}, Replacement: "4142"},
		},
	})
	e := NewEngine(rs, nil)

	data := make([]byte, 1022)
	for i := range data {
		data[i] = 0x41
	}
	io := buffer.NewFrom(1, data, len(data))
	ep := protocol.EndpointDescriptor{Address: 0x81}

	e.InjectDataEp(io, ep, protocol.ClassBulk)

	if io.Length != 1023 {
		t.Errorf("Length = %d, want 1023", io.Length)
	}
	if io.Length >= buffer.MaxLength {
		t.Errorf("Length = %d, must stay below MaxLength", io.Length)
	}
}

// S3: control stall.
func TestInjectControl_Stall(t *testing.T) {
	rs := mustRuleSet(t, &RuleSet{
		Control: ControlRuleSet{
			Stall: []ControlRule{
				{Enable: true, BRequestType: 0x80, BRequest: 0x06, WValue: 0x0100, WIndex: 0x0000, WLength: 0x0012},
			},
		},
	})
	e := NewEngine(rs, nil)

	setup := &protocol.SetupPacket{BRequestType: 0x80, BRequest: 0x06, WValue: 0x0100, WIndex: 0x0000, WLength: 0x0012}
	io := buffer.New()
	io.Length = int(setup.WLength)

	got := e.InjectControl(setup, io)
	if got != buffer.DispositionStall {
		t.Errorf("disposition = %v, want DispositionStall", got)
	}
}

// S4: GPIO conditional OR.
func TestInjectDataEp_GpioConditionalOr(t *testing.T) {
	rs := mustRuleSet(t, &RuleSet{
		Int: []EndpointRule{
			{
				Enable: true, EpAddress: 0x83, Type: RuleTypeRaspberryPiGpio,
				Gpio:                GpioCondition{On: []int{17}, Off: []int{27}},
				ByteReplacementType: ByteReplacementBitwiseOr,
				ByteReplacements:    []ByteReplacement{{Index: 0, Value: 0x80}},
			},
		},
	})
	ep := protocol.EndpointDescriptor{Address: 0x83}

	t.Run("conditions hold", func(t *testing.T) {
		sampler := fakeSampler{low: map[int]bool{17: true}}
		e := NewEngine(rs, sampler)
		io := buffer.NewFrom(1, []byte{0x01}, 1)
		e.InjectDataEp(io, ep, protocol.ClassInt)
		if io.Data[0] != 0x81 {
			t.Errorf("Data[0] = %#x, want 0x81", io.Data[0])
		}
	})

	t.Run("on pin not active", func(t *testing.T) {
		sampler := fakeSampler{low: map[int]bool{}}
		e := NewEngine(rs, sampler)
		io := buffer.NewFrom(1, []byte{0x01}, 1)
		e.InjectDataEp(io, ep, protocol.ClassInt)
		if io.Data[0] != 0x01 {
			t.Errorf("Data[0] = %#x, want unchanged 0x01", io.Data[0])
		}
	})

	t.Run("off pin active", func(t *testing.T) {
		sampler := fakeSampler{low: map[int]bool{17: true, 27: true}}
		e := NewEngine(rs, sampler)
		io := buffer.NewFrom(1, []byte{0x01}, 1)
		e.InjectDataEp(io, ep, protocol.ClassInt)
		if io.Data[0] != 0x01 {
			t.Errorf("Data[0] = %#x, want unchanged 0x01", io.Data[0])
		}
	})
}

// S6: OUT rewrite length propagation.
func TestInjectControl_OutLengthPropagation(t *testing.T) {
	rs := mustRuleSet(t, &RuleSet{
		Control: ControlRuleSet{
			Modify: []ControlRule{
				{
					Enable: true, BRequestType: 0x00, BRequest: 0x01, WValue: 0, WIndex: 0, WLength: 4,
					ContentPattern: []string{"41414141"}, Replacement: "414141414141",
				},
			},
		},
	})
	e := NewEngine(rs, nil)

	setup := &protocol.SetupPacket{BRequestType: 0x00, BRequest: 0x01, WValue: 0, WIndex: 0, WLength: 4}
	io := buffer.NewFrom(0, []byte{0x41, 0x41, 0x41, 0x41}, 4)

	disposition := e.InjectControl(setup, io)
	if disposition != buffer.DispositionNone {
		t.Fatalf("disposition = %v, want DispositionNone", disposition)
	}
	if io.Length != 6 {
		t.Fatalf("io.Length = %d, want 6", io.Length)
	}
	if setup.WLength != 6 {
		t.Errorf("setup.WLength = %d, want 6", setup.WLength)
	}
}

// Invariant #2: idempotent non-matching injection.
func TestInjectDataEp_NoMatchIsIdempotent(t *testing.T) {
	rs := mustRuleSet(t, &RuleSet{
		Bulk: []EndpointRule{
			{Enable: true, EpAddress: 0x81, Type: RuleTypeDefault, ContentPattern: []string{"FF"}, Replacement: "00"},
		},
	})
	e := NewEngine(rs, nil)

	original := []byte{0x01, 0x02, 0x03}
	io := buffer.NewFrom(1, original, len(original))
	ep := protocol.EndpointDescriptor{Address: 0x81}

	e.InjectDataEp(io, ep, protocol.ClassBulk)

	if string(io.Bytes()) != string(original) {
		t.Errorf("Bytes() = %x, want unchanged %x", io.Bytes(), original)
	}
}

// Invariant #3: control matcher exactness.
func TestInjectControl_ExactMatchRequired(t *testing.T) {
	rs := mustRuleSet(t, &RuleSet{
		Control: ControlRuleSet{
			Stall: []ControlRule{
				{Enable: true, BRequestType: 0x80, BRequest: 0x06, WValue: 0x0100, WIndex: 0x0000, WLength: 0x0012},
			},
		},
	})
	e := NewEngine(rs, nil)

	setup := &protocol.SetupPacket{BRequestType: 0x80, BRequest: 0x06, WValue: 0x0100, WIndex: 0x0000, WLength: 0x0099}
	io := buffer.New()

	got := e.InjectControl(setup, io)
	if got != buffer.DispositionNone {
		t.Errorf("disposition = %v, want DispositionNone for mismatched wLength", got)
	}
}

// Invariant #5: disposition precedence is last-write-wins across
// modify -> ignore -> stall.
func TestInjectControl_DispositionPrecedence(t *testing.T) {
	setup := protocol.SetupPacket{BRequestType: 0x80, BRequest: 0x06}
	rs := mustRuleSet(t, &RuleSet{
		Control: ControlRuleSet{
			Ignore: []ControlRule{{Enable: true, BRequestType: setup.BRequestType, BRequest: setup.BRequest}},
			Stall:  []ControlRule{{Enable: true, BRequestType: setup.BRequestType, BRequest: setup.BRequest}},
		},
	})
	e := NewEngine(rs, nil)

	io := buffer.New()
	got := e.InjectControl(&setup, io)
	if got != buffer.DispositionStall {
		t.Errorf("disposition = %v, want DispositionStall (stall iterates after ignore)", got)
	}
}

// Default rule breaks on first modification; later rules for the same
// endpoint are not evaluated.
func TestInjectDataEp_DefaultBreaksOnFirstModification(t *testing.T) {
	rs := mustRuleSet(t, &RuleSet{
		Bulk: []EndpointRule{
			{Enable: true, EpAddress: 0x81, Type: RuleTypeDefault, ContentPattern: []string{"41"}, Replacement: "42"},
			{Enable: true, EpAddress: 0x81, Type: RuleTypeDefault, ContentPattern: []string{"42"}, Replacement: "43"},
		},
	})
	e := NewEngine(rs, nil)

	io := buffer.NewFrom(1, []byte{0x41}, 1)
	ep := protocol.EndpointDescriptor{Address: 0x81}

	e.InjectDataEp(io, ep, protocol.ClassBulk)

	if io.Data[0] != 0x42 {
		t.Errorf("Data[0] = %#x, want 0x42 (second rule must not run)", io.Data[0])
	}
}

// Multiple GPIO rules for the same endpoint both apply, unlike Default
// rules.
func TestInjectDataEp_MultipleGpioRulesApply(t *testing.T) {
	rs := mustRuleSet(t, &RuleSet{
		Int: []EndpointRule{
			{Enable: true, EpAddress: 0x83, Type: RuleTypeRaspberryPiGpio, ByteReplacements: []ByteReplacement{{Index: 0, Value: 0x01}}},
			{Enable: true, EpAddress: 0x83, Type: RuleTypeRaspberryPiGpio, ByteReplacements: []ByteReplacement{{Index: 0, Value: 0x02}}, ByteReplacementType: ByteReplacementBitwiseOr},
		},
	})
	e := NewEngine(rs, fakeSampler{})
	io := buffer.NewFrom(1, []byte{0x00}, 1)
	ep := protocol.EndpointDescriptor{Address: 0x83}

	e.InjectDataEp(io, ep, protocol.ClassInt)

	if io.Data[0] != 0x03 {
		t.Errorf("Data[0] = %#x, want 0x03 (both rules applied)", io.Data[0])
	}
}

func TestDecodeHexRejectsOddLength(t *testing.T) {
	if _, err := decodeHex("abc"); err == nil {
		t.Error("decodeHex(\"abc\") error = nil, want error for odd length")
	}
}

func TestDecodeHexRejectsNonHex(t *testing.T) {
	if _, err := decodeHex("zz"); err == nil {
		t.Error("decodeHex(\"zz\") error = nil, want error for non-hex")
	}
}
