//go:build linux
// +build linux

package gpio

import (
	"fmt"
	"strconv"
	"sync"

	gpioconn "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Periph implements GpioReader on periph.io/x/conn's pin registry,
// replacing the original proxy's wiringPi calls: a pin reads active at
// logic LOW once configured as a pulled-up input, matching wiringPi's
// INPUT_PULLUP convention.
type Periph struct {
	mu   sync.Mutex
	pins map[int]gpioconn.PinIO
}

// NewPeriph initializes the periph.io host drivers and returns a Periph
// reader. Call once per process before constructing any GpioSampler.
func NewPeriph() (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &Periph{pins: make(map[int]gpioconn.PinIO)}, nil
}

func (p *Periph) pin(pin int) (gpioconn.PinIO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pio, ok := p.pins[pin]; ok {
		return pio, nil
	}

	name := "GPIO" + strconv.Itoa(pin)
	pio := gpioreg.ByName(name)
	if pio == nil {
		return nil, fmt.Errorf("gpio pin %d not found by name %q", pin, name)
	}
	p.pins[pin] = pio
	return pio, nil
}

// SetInputPullup configures pin as a pulled-up input with no edge
// detection; the pump samples it by polling, it never waits on edges.
func (p *Periph) SetInputPullup(pin int) error {
	pio, err := p.pin(pin)
	if err != nil {
		return err
	}
	return pio.In(gpioconn.PullUp, gpioconn.NoEdge)
}

// Read returns true if pin currently reads logic LOW.
func (p *Periph) Read(pin int) bool {
	pio, err := p.pin(pin)
	if err != nil {
		return false
	}
	return pio.Read() == gpioconn.Low
}

var _ GpioReader = (*Periph)(nil)
