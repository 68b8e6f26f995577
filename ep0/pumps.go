package ep0

import (
	"sync"

	"github.com/ardnew/usbproxy/pump"
)

// pumpRegistry tracks the EndpointPumps currently running, keyed by
// endpoint address, so Set-Configuration/Set-Interface handling can stop
// exactly the pumps belonging to an interface's current altsetting.
type pumpRegistry struct {
	mu    sync.Mutex
	pumps map[uint8]*pump.EndpointPump
}

func newPumpRegistry() *pumpRegistry {
	return &pumpRegistry{pumps: make(map[uint8]*pump.EndpointPump)}
}

func (r *pumpRegistry) set(address uint8, p *pump.EndpointPump) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pumps[address] = p
}

func (r *pumpRegistry) stop(address uint8) {
	r.mu.Lock()
	p, ok := r.pumps[address]
	if ok {
		delete(r.pumps, address)
	}
	r.mu.Unlock()

	if ok {
		p.Stop()
	}
}

func (r *pumpRegistry) stopAll() {
	r.mu.Lock()
	pumps := make([]*pump.EndpointPump, 0, len(r.pumps))
	for addr, p := range r.pumps {
		pumps = append(pumps, p)
		delete(r.pumps, addr)
	}
	r.mu.Unlock()

	for _, p := range pumps {
		p.Stop()
	}
}

func (r *pumpRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pumps)
}
