package buffer

import "testing"

func TestNew(t *testing.T) {
	tb := New()
	if tb.Length != 0 {
		t.Errorf("Length = %d, want 0", tb.Length)
	}
	if tb.Flags != DispositionNone {
		t.Errorf("Flags = %v, want DispositionNone", tb.Flags)
	}
}

func TestNewFrom(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	tb := NewFrom(5, data, len(data))
	if tb.EndpointIndex != 5 {
		t.Errorf("EndpointIndex = %d, want 5", tb.EndpointIndex)
	}
	if tb.Length != 3 {
		t.Errorf("Length = %d, want 3", tb.Length)
	}
	if got := tb.Bytes(); string(got) != string(data) {
		t.Errorf("Bytes() = %v, want %v", got, data)
	}
}

func TestNewFromTruncates(t *testing.T) {
	data := make([]byte, MaxLength+10)
	tb := NewFrom(0, data, len(data))
	if tb.Length != MaxLength {
		t.Errorf("Length = %d, want %d", tb.Length, MaxLength)
	}
}

func TestClone(t *testing.T) {
	tb := NewFrom(2, []byte{0xAA, 0xBB}, 2)
	tb.Flags = DispositionStall

	clone := tb.Clone()
	if clone.EndpointIndex != tb.EndpointIndex || clone.Length != tb.Length || clone.Flags != tb.Flags {
		t.Fatal("clone header mismatch")
	}
	if string(clone.Bytes()) != string(tb.Bytes()) {
		t.Fatal("clone payload mismatch")
	}

	// Mutating the clone must not affect the original.
	clone.Data[0] = 0xFF
	if tb.Data[0] == 0xFF {
		t.Error("clone shares backing array with original")
	}
}

func TestSetBytes(t *testing.T) {
	tb := New()
	tb.SetBytes([]byte{1, 2, 3, 4})
	if tb.Length != 4 {
		t.Errorf("Length = %d, want 4", tb.Length)
	}

	tb.SetBytes([]byte{9})
	if tb.Length != 1 {
		t.Errorf("Length = %d, want 1 after shrink", tb.Length)
	}
	if tb.Data[0] != 9 {
		t.Errorf("Data[0] = %x, want 9", tb.Data[0])
	}
}

func TestSetBytesTruncates(t *testing.T) {
	tb := New()
	big := make([]byte, MaxLength+5)
	tb.SetBytes(big)
	if tb.Length != MaxLength {
		t.Errorf("Length = %d, want %d", tb.Length, MaxLength)
	}
}
