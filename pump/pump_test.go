package pump

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ardnew/usbproxy/buffer"
	"github.com/ardnew/usbproxy/gadgetside"
	"github.com/ardnew/usbproxy/inject"
	"github.com/ardnew/usbproxy/protocol"
)

// fakeDevice implements deviceside.DeviceSide with an in-memory byte
// stream for Receive and a recorder for Send.
type fakeDevice struct {
	recvData  []byte
	recvCount int32

	sent [][]byte
}

func (f *fakeDevice) Control(ctx context.Context, setup protocol.SetupPacket, data []byte, timeout time.Duration) (int, error) {
	return 0, nil
}

func (f *fakeDevice) Send(ctx context.Context, addr, attrs uint8, data []byte) error {
	cp := append([]byte(nil), data...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeDevice) Receive(ctx context.Context, addr, attrs uint8, maxPacket uint16, data []byte, timeout time.Duration) (int, error) {
	atomic.AddInt32(&f.recvCount, 1)
	n := copy(data, f.recvData)
	return n, nil
}

func (f *fakeDevice) SetConfiguration(value uint8) error                { return nil }
func (f *fakeDevice) SetInterfaceAltSetting(number, alt uint8) error     { return nil }
func (f *fakeDevice) ClaimInterface(number uint8) error                 { return nil }
func (f *fakeDevice) ReleaseInterface(number uint8) error               { return nil }

// fakeGadget implements gadgetside.GadgetSide, recording EpWrite calls
// and serving EpRead from a queue.
type fakeGadget struct {
	outQueue chan []byte
	written  [][]byte
	disabled bool
}

func newFakeGadget() *fakeGadget {
	return &fakeGadget{outQueue: make(chan []byte, 64)}
}

func (g *fakeGadget) FetchEvent() (gadgetside.Event, error) { return gadgetside.Event{}, nil }

func (g *fakeGadget) Ep0Read(data []byte) (int, error)  { return 0, nil }
func (g *fakeGadget) Ep0Write(data []byte) (int, error) { return 0, nil }
func (g *fakeGadget) Ep0Stall() error                   { return nil }
func (g *fakeGadget) Configure() error                  { return nil }

func (g *fakeGadget) EpEnable(descriptor protocol.EndpointDescriptor) (int, error) { return 1, nil }

func (g *fakeGadget) EpDisable(endpointIndex int) error {
	g.disabled = true
	return nil
}

func (g *fakeGadget) EpRead(endpointIndex int, data []byte) (int, error) {
	b := <-g.outQueue
	return copy(data, b), nil
}

func (g *fakeGadget) EpWrite(endpointIndex int, data []byte) (int, error) {
	cp := append([]byte(nil), data...)
	g.written = append(g.written, cp)
	return len(data), nil
}

func emptyEngine() *inject.Engine {
	rs := &inject.RuleSet{}
	if err := rs.Compile(); err != nil {
		panic(err)
	}
	return inject.NewEngine(rs, nil)
}

func TestEndpointPump_INReaderRespectsQueueBound(t *testing.T) {
	descriptor := protocol.EndpointDescriptor{Address: 0x81, Attributes: protocol.AttrTransferTypeBulk}
	device := &fakeDevice{recvData: []byte{0xAA, 0xBB}}

	p := New(descriptor, 1, device, newFakeGadget(), emptyEngine(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.readLoopIn(ctx)
		close(done)
	}()

	// Let the reader run long enough to fill the queue well past its
	// capacity if unbounded; nothing drains it since the writer isn't
	// started.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if len(p.queue) > QueueCapacity {
		t.Errorf("queue length = %d, want <= %d", len(p.queue), QueueCapacity)
	}
}

func TestEndpointPump_OUTPreservesFIFOOrder(t *testing.T) {
	descriptor := protocol.EndpointDescriptor{Address: 0x02, Attributes: protocol.AttrTransferTypeBulk}
	device := &fakeDevice{}
	gadget := newFakeGadget()

	p := New(descriptor, 1, device, gadget, emptyEngine(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.readLoopOut(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.writeLoop(ctx)
	}()

	packets := [][]byte{{1, 2}, {3, 4}, {5, 6}}
	for _, pkt := range packets {
		gadget.outQueue <- pkt
	}

	deadline := time.After(time.Second)
	for len(device.sent) < len(packets) {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for forwarded packets")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// EpRead has no timeout in the real interface either; closing the
	// channel mimics the fd-close unblock a real shutdown relies on.
	close(gadget.outQueue)
	cancel()
	p.wg.Wait()

	for i, pkt := range packets {
		if string(device.sent[i]) != string(pkt) {
			t.Errorf("sent[%d] = %v, want %v (FIFO order violated)", i, device.sent[i], pkt)
		}
	}
}

func TestEndpointPump_GpioReplay(t *testing.T) {
	descriptor := protocol.EndpointDescriptor{Address: 0x81, Attributes: protocol.AttrTransferTypeInterupt}
	device := &fakeDevice{recvData: []byte{0x01}}
	p := New(descriptor, 1, device, newFakeGadget(), emptyEngine(), alwaysActiveSampler{}, nil)

	p.mu.Lock()
	p.lastMessage = buffer.NewFrom(1, []byte{0x99}, 1)
	p.mu.Unlock()

	before := len(p.queue)
	p.maybeReplay()
	after := len(p.queue)

	if after != before+1 {
		t.Errorf("queue length after replay = %d, want %d", after, before+1)
	}
}

type alwaysActiveSampler struct{}

func (alwaysActiveSampler) AnyUsedActive() bool { return true }

// TestEndpointPump_OUTReaderUnblocksOnCtxDoneWithAbandonedWriter
// reproduces the shutdown race fixed in enqueueAndCache: writeLoop exits
// first (its own ctx.Done() case fires), leaving readLoopOut blocked
// mid-send on a full queue. Without the ctx-guard on the queue send,
// readLoopOut would never notice its own ctx was also cancelled and
// Stop()'s wg.Wait() would hang forever.
func TestEndpointPump_OUTReaderUnblocksOnCtxDoneWithAbandonedWriter(t *testing.T) {
	descriptor := protocol.EndpointDescriptor{Address: 0x02, Attributes: protocol.AttrTransferTypeBulk}
	device := &fakeDevice{}
	gadget := newFakeGadget()

	p := New(descriptor, 1, device, gadget, emptyEngine(), nil, nil)

	// Enough packets to fill the queue past capacity with nobody draining
	// it, so readLoopOut is guaranteed to be blocked on the queue send
	// once ctx is cancelled.
	for i := 0; i < QueueCapacity+8; i++ {
		gadget.outQueue <- []byte{byte(i)}
	}

	ctx, cancel := context.WithCancel(context.Background())

	readerDone := make(chan struct{})
	go func() {
		p.readLoopOut(ctx)
		close(readerDone)
	}()

	// Give the reader time to fill the queue and block on the next send;
	// no writer is ever started, mirroring writeLoop having already
	// exited on this same ctx.
	time.Sleep(20 * time.Millisecond)

	cancel()

	select {
	case <-readerDone:
	case <-time.After(time.Second):
		t.Fatal("readLoopOut did not return after ctx cancellation while blocked on a full queue")
	}
}
