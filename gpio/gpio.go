// Package gpio provides the GpioReader collaborator interface and a
// GpioSampler that scans the injection rule set at configuration time to
// find which pins are actually referenced, then answers on-demand
// activity queries against just that set.
package gpio

import "sync"

// GpioReader is the external collaborator that performs the actual pin
// I/O. A pin reads active at logic LOW, since pull-ups are enabled
// externally by SetInputPullup.
type GpioReader interface {
	// Read returns true if pin is currently at logic LOW (active).
	Read(pin int) bool

	// SetInputPullup configures pin as an input with its pull-up
	// resistor enabled.
	SetInputPullup(pin int) error
}

// GpioSampler is an on-demand reader of the GPIO pins referenced by the
// loaded injection rule set.
type GpioSampler struct {
	reader GpioReader

	mu       sync.RWMutex
	usedPins map[int]struct{}
}

// New returns a GpioSampler that initializes every pin in usedPins as a
// pulled-up input via reader. Pins that fail to initialize are still
// tracked; GPIO misreads are transient and silently ignored per the
// proxy's error-handling design, so initialization failures don't abort
// startup.
func New(reader GpioReader, usedPins []int) *GpioSampler {
	s := &GpioSampler{
		reader:   reader,
		usedPins: make(map[int]struct{}, len(usedPins)),
	}
	for _, p := range usedPins {
		s.usedPins[p] = struct{}{}
		_ = reader.SetInputPullup(p)
	}
	return s
}

// Read polls a single pin through the underlying GpioReader.
func (s *GpioSampler) Read(pin int) bool {
	return s.reader.Read(pin)
}

// AnyUsedActive returns true iff at least one pin in the used-pin set
// reads LOW. Used by the endpoint pump to decide whether to perform an
// artificial replay this iteration.
func (s *GpioSampler) AnyUsedActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for pin := range s.usedPins {
		if s.reader.Read(pin) {
			return true
		}
	}
	return false
}

// AllActive reports whether every pin in pins currently reads LOW. An
// empty list is vacuously true.
func (s *GpioSampler) AllActive(pins []int) bool {
	for _, pin := range pins {
		if !s.reader.Read(pin) {
			return false
		}
	}
	return true
}

// AllInactive reports whether every pin in pins currently reads HIGH. An
// empty list is vacuously true.
func (s *GpioSampler) AllInactive(pins []int) bool {
	for _, pin := range pins {
		if s.reader.Read(pin) {
			return false
		}
	}
	return true
}
