package deviceside

import (
	"github.com/google/gousb"

	"github.com/ardnew/usbproxy/protocol"
	"github.com/ardnew/usbproxy/topology"
)

// Topology builds a topology.DeviceTopology from the descriptors gousb
// already parsed while opening the device, standing in for the
// downstream-enumeration step the core intentionally leaves external.
// gousb.TransferType's constants share their numeric values with the USB
// bmAttributes transfer-type bits, so no translation table is needed.
func (g *Gousb) Topology() []topology.Config {
	desc := g.device.Desc

	configs := make([]topology.Config, 0, len(desc.Configs))
	for _, cfg := range desc.Configs {
		ifaces := make([]topology.Interface, 0, len(cfg.Interfaces))
		for _, iface := range cfg.Interfaces {
			alts := make([]topology.Altsetting, 0, len(iface.AltSettings))
			for _, alt := range iface.AltSettings {
				endpoints := make([]topology.Endpoint, 0, len(alt.Endpoints))
				for _, ep := range alt.Endpoints {
					endpoints = append(endpoints, topology.Endpoint{
						Descriptor: protocol.EndpointDescriptor{
							Address:       uint8(ep.Address),
							Attributes:    uint8(ep.TransferType),
							MaxPacketSize: uint16(ep.MaxPacketSize),
						},
					})
				}
				alts = append(alts, topology.Altsetting{
					Value:     uint8(alt.Alternate),
					Endpoints: endpoints,
				})
			}
			ifaces = append(ifaces, topology.Interface{
				Number:      uint8(iface.Number),
				Altsettings: alts,
			})
		}
		configs = append(configs, topology.Config{
			Value:      uint8(cfg.Number),
			Interfaces: ifaces,
		})
	}
	return configs
}
