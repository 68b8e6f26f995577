// Package pump implements the per-endpoint bidirectional EndpointPump:
// a reader goroutine and a writer goroutine coupled by a bounded FIFO
// queue, moving payloads between the gadget side and the device side
// while applying the injection engine.
package pump

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/usbproxy/buffer"
	"github.com/ardnew/usbproxy/deviceside"
	"github.com/ardnew/usbproxy/gadgetside"
	"github.com/ardnew/usbproxy/inject"
	"github.com/ardnew/usbproxy/pkg"
	"github.com/ardnew/usbproxy/protocol"
)

// QueueCapacity is the bound enforced on the IN-reader side of every
// pump's queue.
const QueueCapacity = 32

// pollInterval is the idle-retry delay used when the IN reader finds the
// queue full. The writer does not poll: it blocks on the queue and on
// ctx.Done().
const pollInterval = 100 * time.Microsecond

// receiveTimeout bounds DeviceSide.Receive on the IN path.
const receiveTimeout = 20 * time.Millisecond

// Sampler is the subset of gpio.GpioSampler the pump needs for the
// artificial-replay path.
type Sampler interface {
	AnyUsedActive() bool
}

// EndpointPump moves payloads for one non-EP0 endpoint between the
// gadget side and the device side, applying injection in both
// directions.
type EndpointPump struct {
	descriptor    protocol.EndpointDescriptor
	class         protocol.TransferClass
	endpointIndex int

	device  deviceside.DeviceSide
	gadget  gadgetside.GadgetSide
	engine  *inject.Engine
	sampler Sampler // nil if no GPIO rules are configured
	enabled *atomic.Bool

	queue chan *buffer.TransferBuffer

	mu          sync.Mutex
	lastMessage *buffer.TransferBuffer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a pump for descriptor, bound to endpointIndex as
// returned by GadgetSide.EpEnable. enabled gates whether injection is
// applied at all; sampler may be nil.
func New(
	descriptor protocol.EndpointDescriptor,
	endpointIndex int,
	device deviceside.DeviceSide,
	gadget gadgetside.GadgetSide,
	engine *inject.Engine,
	sampler Sampler,
	enabled *atomic.Bool,
) *EndpointPump {
	return &EndpointPump{
		descriptor:    descriptor,
		class:         descriptor.Class(),
		endpointIndex: endpointIndex,
		device:        device,
		gadget:        gadget,
		engine:        engine,
		sampler:       sampler,
		enabled:       enabled,
		queue:         make(chan *buffer.TransferBuffer, QueueCapacity),
	}
}

// Start launches the reader and writer goroutines. ctx governs their
// lifetime in addition to Stop.
func (p *EndpointPump) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(2)
	go p.readLoop(ctx)
	go p.writeLoop(ctx)
}

// Stop signals both goroutines to exit at their next loop boundary,
// waits for them to finish, then disables the endpoint. Disable is
// best-effort: a failure is logged, not propagated.
func (p *EndpointPump) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	if err := p.gadget.EpDisable(p.endpointIndex); err != nil {
		pkg.LogWarn(pkg.ComponentPump, "endpoint disable failed",
			"address", p.descriptor.Address, "error", err)
	}
}

func (p *EndpointPump) readLoop(ctx context.Context) {
	defer p.wg.Done()

	if p.descriptor.IsIn() {
		p.readLoopIn(ctx)
	} else {
		p.readLoopOut(ctx)
	}
}

func (p *EndpointPump) readLoopIn(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if len(p.queue) >= QueueCapacity {
			time.Sleep(pollInterval)
			continue
		}

		io := buffer.New()
		io.EndpointIndex = p.endpointIndex
		n, err := p.device.Receive(ctx, p.descriptor.Address, p.descriptor.Attributes, p.descriptor.MaxPacketSize, io.Data[:], receiveTimeout)
		if err != nil {
			pkg.LogWarn(pkg.ComponentPump, "device receive failed",
				"address", p.descriptor.Address, "error", err)
		} else if n > 0 {
			io.Length = n
			p.applyInjection(io)
			p.enqueueAndCache(ctx, io)
		}

		p.maybeReplay()
	}
}

func (p *EndpointPump) readLoopOut(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		io := buffer.New()
		io.EndpointIndex = p.endpointIndex
		n, err := p.gadget.EpRead(p.endpointIndex, io.Data[:])
		if err != nil {
			pkg.LogWarn(pkg.ComponentPump, "gadget ep read failed",
				"address", p.descriptor.Address, "error", err)
			continue
		}
		io.Length = n
		p.applyInjection(io)
		p.enqueueAndCache(ctx, io)
	}
}

// maybeReplay re-enqueues the cached buffer for this endpoint when the
// GPIO sampler reports an active used pin, without updating the cache.
func (p *EndpointPump) maybeReplay() {
	if p.sampler == nil || !p.sampler.AnyUsedActive() {
		return
	}

	p.mu.Lock()
	cached := p.lastMessage
	p.mu.Unlock()
	if cached == nil {
		return
	}

	replay := cached.Clone()
	p.applyInjection(replay)

	select {
	case p.queue <- replay:
	default:
		// Queue is at capacity; the replay is dropped rather than
		// blocking the reader loop, consistent with the IN reader's
		// sole backpressure mechanism.
	}
}

func (p *EndpointPump) applyInjection(io *buffer.TransferBuffer) {
	if p.enabled != nil && !p.enabled.Load() {
		return
	}
	p.engine.InjectDataEp(io, p.descriptor, p.class)
}

// enqueueAndCache caches io as the endpoint's last message, then enqueues
// it for the writer. The send is ctx-guarded: if writeLoop has already
// exited on ctx.Done(), a reader stuck mid-send on a full queue must not
// block Stop() forever waiting on the abandoned writer.
func (p *EndpointPump) enqueueAndCache(ctx context.Context, io *buffer.TransferBuffer) {
	p.mu.Lock()
	p.lastMessage = io
	p.mu.Unlock()

	select {
	case p.queue <- io:
	case <-ctx.Done():
	}
}

// writeLoop dequeues under the channel's own synchronization, which
// already expresses the "sleep while empty, else dequeue" behavior
// without a busy poll.
func (p *EndpointPump) writeLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case io := <-p.queue:
			p.write(ctx, io)
		}
	}
}

func (p *EndpointPump) write(ctx context.Context, io *buffer.TransferBuffer) {
	var err error
	if p.descriptor.IsIn() {
		_, err = p.gadget.EpWrite(p.endpointIndex, io.Bytes())
	} else {
		err = p.device.Send(ctx, p.descriptor.Address, p.descriptor.Attributes, io.Bytes())
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentPump, "transfer write failed",
			"address", p.descriptor.Address, "error", err)
	}
}
