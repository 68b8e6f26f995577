package inject

// Compile decodes every hex-ASCII field in the rule set into raw bytes,
// rejecting odd-length or non-hex strings at load time rather than at
// match time. It must be called once after JSON decoding and before the
// rule set is handed to an Engine.
func (rs *RuleSet) Compile() error {
	for _, list := range [][]ControlRule{rs.Control.Modify} {
		for i := range list {
			if err := compileControlRule(&list[i]); err != nil {
				return err
			}
		}
	}
	for _, list := range [][]EndpointRule{rs.Int, rs.Bulk, rs.Isoc} {
		for i := range list {
			if err := compileEndpointRule(&list[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func compileControlRule(r *ControlRule) error {
	patterns, err := decodeHexAll(r.ContentPattern)
	if err != nil {
		return err
	}
	r.pattern = patterns
	if r.Replacement != "" {
		repl, err := decodeHex(r.Replacement)
		if err != nil {
			return err
		}
		r.replacement = repl
	}
	return nil
}

func compileEndpointRule(r *EndpointRule) error {
	if r.effectiveType() != RuleTypeDefault {
		return nil
	}
	patterns, err := decodeHexAll(r.ContentPattern)
	if err != nil {
		return err
	}
	r.pattern = patterns
	if r.Replacement != "" {
		repl, err := decodeHex(r.Replacement)
		if err != nil {
			return err
		}
		r.replacement = repl
	}
	return nil
}

// UsedGpioPins returns the set of every pin index referenced by any
// gpio.on or gpio.off list across the int-class RaspberryPiGpio rules.
// Used by the GpioSampler to decide which pins to initialize as
// pulled-up inputs. Only int rules are scanned; bulk/isoc rules never
// carry GPIO conditions for this purpose.
func (rs *RuleSet) UsedGpioPins() []int {
	seen := make(map[int]struct{})
	for _, r := range rs.Int {
		if r.effectiveType() != RuleTypeRaspberryPiGpio {
			continue
		}
		for _, p := range r.Gpio.On {
			seen[p] = struct{}{}
		}
		for _, p := range r.Gpio.Off {
			seen[p] = struct{}{}
		}
	}
	pins := make([]int, 0, len(seen))
	for p := range seen {
		pins = append(pins, p)
	}
	return pins
}
