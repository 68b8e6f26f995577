// Package runtime implements ProxyRuntime, the top-level orchestrator
// owning the device topology, the shutdown signal, and the Ep0Controller.
package runtime

import (
	"context"
	"sync/atomic"

	"github.com/ardnew/usbproxy/deviceside"
	"github.com/ardnew/usbproxy/ep0"
	"github.com/ardnew/usbproxy/gadgetside"
	"github.com/ardnew/usbproxy/gpio"
	"github.com/ardnew/usbproxy/inject"
	"github.com/ardnew/usbproxy/pkg"
	"github.com/ardnew/usbproxy/pump"
	"github.com/ardnew/usbproxy/topology"
)

// ProxyRuntime owns the topology, the injection engine, and the single
// Ep0Controller goroutine for the process's lifetime. Cancelling its
// context is the sole shutdown signal; every pump and the controller
// observe it cooperatively at their next loop boundary.
type ProxyRuntime struct {
	topology *topology.DeviceTopology
	engine   *inject.Engine
	enabled  *atomic.Bool
	gadget   gadgetside.GadgetSide
	device   deviceside.DeviceSide

	controller *ep0.Controller

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a ProxyRuntime. rules is the compiled injection rule set;
// gpioReader may be nil, in which case GpioSampler is never consulted and
// RaspberryPiGpio rules are skipped (matching inject.Engine's documented
// nil-sampler behavior). injectionEnabled sets the initial state of the
// runtime toggle controlling whether injection is applied at all.
func New(
	gadget gadgetside.GadgetSide,
	device deviceside.DeviceSide,
	rules *inject.RuleSet,
	gpioReader gpio.GpioReader,
	injectionEnabled bool,
	configs []topology.Config,
) *ProxyRuntime {
	// sampler stays a nil interface value (not a typed nil pointer) when
	// no GPIO reader or no pins are in use, so the nil checks in
	// inject.Engine and pump.EndpointPump behave correctly.
	var engineSampler inject.Sampler
	var pumpSampler pump.Sampler
	if gpioReader != nil {
		if pins := rules.UsedGpioPins(); len(pins) > 0 {
			s := gpio.New(gpioReader, pins)
			engineSampler = s
			pumpSampler = s
		}
	}

	engine := inject.NewEngine(rules, engineSampler)
	topo := topology.New(configs)

	enabled := &atomic.Bool{}
	enabled.Store(injectionEnabled)

	controller := ep0.New(gadget, device, engine, topo, pumpSampler, enabled)

	return &ProxyRuntime{
		topology:   topo,
		engine:     engine,
		enabled:    enabled,
		gadget:     gadget,
		device:     device,
		controller: controller,
		done:       make(chan struct{}),
	}
}

// SetInjectionEnabled toggles whether injection rules are applied,
// observed by the controller and every running pump at their next
// transfer.
func (r *ProxyRuntime) SetInjectionEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

// InjectionEnabled reports the current injection toggle state.
func (r *ProxyRuntime) InjectionEnabled() bool {
	return r.enabled.Load()
}

// Run starts the Ep0Controller and blocks until ctx is cancelled or the
// gadget transport reports closure. It never returns an error; this is a
// long-running daemon, matching the controller's own error handling.
func (r *ProxyRuntime) Run(ctx context.Context) {
	defer close(r.done)

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer cancel()

	pkg.LogInfo(pkg.ComponentRuntime, "starting ep0 controller")
	r.controller.Run(ctx)
	pkg.LogInfo(pkg.ComponentRuntime, "ep0 controller stopped")
}

// Stop cancels the runtime's context and waits for Run to return.
func (r *ProxyRuntime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

// Topology exposes the runtime's device topology, primarily for tests and
// diagnostics.
func (r *ProxyRuntime) Topology() *topology.DeviceTopology {
	return r.topology
}
