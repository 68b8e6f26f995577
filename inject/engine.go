package inject

import (
	"bytes"

	"github.com/ardnew/usbproxy/buffer"
	"github.com/ardnew/usbproxy/gpio"
	"github.com/ardnew/usbproxy/protocol"
)

// Sampler is the subset of gpio.GpioSampler the engine needs to evaluate
// RaspberryPiGpio rule conditions. Defined here so the engine can be
// exercised with a fake in tests without importing the gpio package's
// concrete reader.
type Sampler interface {
	AllActive(pins []int) bool
	AllInactive(pins []int) bool
}

// Engine is a stateless evaluator: given a compiled RuleSet and a GPIO
// sampler, it pattern-matches and mutates transfer buffers. It holds no
// per-transfer state between calls.
type Engine struct {
	rules   *RuleSet
	sampler Sampler
}

// NewEngine returns an Engine evaluating rules, consulting sampler for
// RaspberryPiGpio conditions. sampler may be nil if the rule set has no
// GPIO rules; RaspberryPiGpio rules are then always skipped.
func NewEngine(rules *RuleSet, sampler Sampler) *Engine {
	return &Engine{rules: rules, sampler: sampler}
}

var _ Sampler = (*gpio.GpioSampler)(nil)

// injectData is the shared modify subroutine. It repeatedly locates each
// pattern's first occurrence in io's payload and splices in replacement,
// restarting the search from the buffer start after every substitution
// so newly created occurrences may also match. A substitution is skipped
// (and scanning for that pattern stops) if it would grow the payload to
// buffer.MaxLength bytes or more.
func injectData(io *buffer.TransferBuffer, patterns [][]byte, replacement []byte) bool {
	modified := false
	work := append([]byte(nil), io.Bytes()...)

	for _, pattern := range patterns {
		if len(pattern) == 0 {
			continue
		}
		for {
			idx := bytes.Index(work, pattern)
			if idx < 0 {
				break
			}
			newLen := len(work) - len(pattern) + len(replacement)
			if newLen >= buffer.MaxLength {
				break
			}
			spliced := make([]byte, 0, newLen)
			spliced = append(spliced, work[:idx]...)
			spliced = append(spliced, replacement...)
			spliced = append(spliced, work[idx+len(pattern):]...)
			work = spliced
			modified = true
		}
	}

	if modified {
		io.SetBytes(work)
	}
	return modified
}

// InjectControl evaluates the control rule set against setup, mutating
// io in place for modify matches and returning the final disposition.
// Categories are evaluated in fixed order modify, ignore, stall; within
// a category, rules are evaluated in configured order. The returned
// disposition is the last one assigned across the whole iteration
// (ignore/stall rules only), defaulting to DispositionNone.
func (e *Engine) InjectControl(setup *protocol.SetupPacket, io *buffer.TransferBuffer) buffer.Disposition {
	disposition := buffer.DispositionNone

	for _, r := range e.rules.Control.Modify {
		if !r.Enable || !r.setup().Equal(*setup) {
			continue
		}
		if injectData(io, r.pattern, r.replacement) && !setup.IsIn() {
			setup.WLength = uint16(io.Length)
		}
	}

	for _, r := range e.rules.Control.Ignore {
		if !r.Enable || !r.setup().Equal(*setup) {
			continue
		}
		disposition = buffer.DispositionIgnore
	}

	for _, r := range e.rules.Control.Stall {
		if !r.Enable || !r.setup().Equal(*setup) {
			continue
		}
		disposition = buffer.DispositionStall
	}

	return disposition
}

// InjectDataEp evaluates the non-control rule list for class against io,
// which arrived on or is headed to ep. Default rules apply inject_data
// and stop at the first one that actually modifies the buffer;
// RaspberryPiGpio rules evaluate their pin condition and, if it holds,
// apply byte replacements without stopping, so later GPIO rules may
// further mutate the same buffer.
func (e *Engine) InjectDataEp(io *buffer.TransferBuffer, ep protocol.EndpointDescriptor, class protocol.TransferClass) {
	for _, r := range e.rules.forClass(class) {
		if !r.Enable || r.EpAddress != ep.Address {
			continue
		}

		switch r.effectiveType() {
		case RuleTypeRaspberryPiGpio:
			if e.sampler == nil {
				continue
			}
			if !e.sampler.AllActive(r.Gpio.On) || !e.sampler.AllInactive(r.Gpio.Off) {
				continue
			}
			for _, br := range r.ByteReplacements {
				if br.Index < 0 || br.Index >= io.Length {
					continue
				}
				if r.effectiveByteReplacementType() == ByteReplacementBitwiseOr {
					io.Data[br.Index] |= br.Value
				} else {
					io.Data[br.Index] = br.Value
				}
			}

		default: // RuleTypeDefault
			if injectData(io, r.pattern, r.replacement) {
				return
			}
		}
	}
}
