package inject

import (
	"encoding/hex"
	"fmt"

	"github.com/ardnew/usbproxy/pkg"
)

// decodeHex converts a hex-ASCII string to raw bytes, rejecting odd
// length or non-hex characters. Centralizing this at config load time
// (rather than at match time) means a malformed rule fails fast instead
// of silently never matching.
func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: %q has odd length", pkg.ErrInvalidHex, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", pkg.ErrInvalidHex, s, err)
	}
	return b, nil
}

// decodeHexAll decodes a slice of hex-ASCII strings, stopping at the
// first invalid entry.
func decodeHexAll(ss []string) ([][]byte, error) {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		b, err := decodeHex(s)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
