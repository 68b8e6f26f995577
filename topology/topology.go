// Package topology models the device's configuration/interface/altsetting
// tree as addressed by small integer indices, and tracks which
// configuration and altsettings are currently active.
package topology

import (
	"sync"

	"github.com/ardnew/usbproxy/protocol"
)

// Endpoint is a single endpoint within an Altsetting. It does not carry
// its running EndpointPump: the ep0 controller tracks pumps in its own
// registry, keyed by endpoint address.
type Endpoint struct {
	Descriptor protocol.EndpointDescriptor

	// PumpHandle is not assigned by the ep0 controller and stays nil.
	PumpHandle any
}

// Altsetting is an alternate setting within an Interface, selecting its
// own set of endpoints.
type Altsetting struct {
	Value     uint8 // bAlternateSetting
	Endpoints []Endpoint
}

// Interface is one USB interface within a Config, addressed by its
// ordinal position and tracking its currently selected altsetting.
type Interface struct {
	Number       uint8 // bInterfaceNumber
	Altsettings  []Altsetting
	CurrentAlt   int // index into Altsettings, initially 0
}

// Config is one USB configuration within the DeviceTopology.
type Config struct {
	Value      uint8 // bConfigurationValue
	Interfaces []Interface
}

// DeviceTopology is the indexed tree of configs/interfaces/altsettings/
// endpoints built once at startup by the external enumerator. The
// Ep0Controller mutates CurrentConfig and each Interface's CurrentAlt in
// response to Set-Configuration/Set-Interface requests; it never mutates
// the tree shape itself.
type DeviceTopology struct {
	mu sync.RWMutex

	Configs []Config

	// CurrentConfig is the index into Configs, or -1 if no
	// Set-Configuration has been processed yet.
	CurrentConfig int
}

// New returns a DeviceTopology over configs with no configuration
// selected.
func New(configs []Config) *DeviceTopology {
	return &DeviceTopology{
		Configs:       configs,
		CurrentConfig: -1,
	}
}

// ConfigIndexByValue returns the index of the Config whose Value equals
// bConfigurationValue, or -1 if none matches.
func (t *DeviceTopology) ConfigIndexByValue(value uint8) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, c := range t.Configs {
		if c.Value == value {
			return i
		}
	}
	return -1
}

// Current returns the currently selected Config and whether one is
// selected.
func (t *DeviceTopology) Current() (Config, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.CurrentConfig < 0 || t.CurrentConfig >= len(t.Configs) {
		return Config{}, false
	}
	return t.Configs[t.CurrentConfig], true
}

// SetCurrentConfig sets CurrentConfig to index idx.
func (t *DeviceTopology) SetCurrentConfig(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CurrentConfig = idx
}

// CurrentConfigIndex returns the index of the currently selected config,
// or -1 if none is selected yet.
func (t *DeviceTopology) CurrentConfigIndex() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.CurrentConfig
}

// InterfaceIndexByNumber returns the index of the interface within the
// given config whose Number equals bInterfaceNumber, or -1 if none.
func (c Config) InterfaceIndexByNumber(number uint8) int {
	for i, iface := range c.Interfaces {
		if iface.Number == number {
			return i
		}
	}
	return -1
}

// AltsettingIndexByValue returns the index of the altsetting within this
// interface whose Value equals bAlternateSetting, or -1 if none.
func (i Interface) AltsettingIndexByValue(value uint8) int {
	for idx, alt := range i.Altsettings {
		if alt.Value == value {
			return idx
		}
	}
	return -1
}

// CurrentAltsetting returns the interface's currently selected
// Altsetting.
func (i Interface) CurrentAltsetting() Altsetting {
	if i.CurrentAlt < 0 || i.CurrentAlt >= len(i.Altsettings) {
		return Altsetting{}
	}
	return i.Altsettings[i.CurrentAlt]
}

// SetInterfaceAlt updates the CurrentAlt of the interface at ifaceIdx
// within the given config.
func (t *DeviceTopology) SetInterfaceAlt(configIdx, ifaceIdx, altIdx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if configIdx < 0 || configIdx >= len(t.Configs) {
		return
	}
	ifaces := t.Configs[configIdx].Interfaces
	if ifaceIdx < 0 || ifaceIdx >= len(ifaces) {
		return
	}
	ifaces[ifaceIdx].CurrentAlt = altIdx
}

// ConfigAt returns the config at idx, synchronized against concurrent
// reconfiguration.
func (t *DeviceTopology) ConfigAt(idx int) (Config, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || idx >= len(t.Configs) {
		return Config{}, false
	}
	return t.Configs[idx], true
}
