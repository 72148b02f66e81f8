// Package protocol holds the static description of a protocol: its
// handshake and the ordered list of modes with their handlers and
// serializers.
//
// A Protocol is built once, validated with Validate before first use and
// treated as read-only afterwards. Validation collects every configuration
// mistake (missing serializer, mismatched registration, ...) so they surface
// at startup instead of as dispatch failures mid-stream.
package protocol

import (
	"fmt"
)

// Protocol describes a handshake and a set of modes.
type Protocol struct {
	// Name identifies the protocol in logs, metrics and discovery records.
	Name string

	// Handshake is the opening exchange. Use NoHandshake to skip it.
	Handshake *Handshake

	// Modes are indexed by their Number, starting at 0.
	Modes []*Mode
}

// New creates a protocol.
func New(name string, handshake *Handshake, modes ...*Mode) *Protocol {
	return &Protocol{Name: name, Handshake: handshake, Modes: modes}
}

// Mode returns mode n.
func (p *Protocol) Mode(n int) (*Mode, error) {
	if n < 0 || n >= len(p.Modes) || p.Modes[n] == nil {
		return nil, fmt.Errorf("%w: %d (protocol has %d modes)", ErrUnknownMode, n, len(p.Modes))
	}
	return p.Modes[n], nil
}

// Validate checks the whole protocol. It returns nil or a *ConfigError
// listing every problem found.
//
// The handshake's message types must be serializable in mode 0, which is
// the wire format used while handshaking regardless of the mode selected
// afterwards.
func (p *Protocol) Validate() error {
	var problems []string

	var mode0 *Mode
	if len(p.Modes) == 0 {
		problems = append(problems, "at least one mode is required")
	} else {
		mode0 = p.Modes[0]
	}

	if p.Handshake == nil {
		problems = append(problems, "handshake is nil (use NoHandshake)")
	} else {
		problems = append(problems, p.Handshake.validate(mode0)...)
	}

	for i, m := range p.Modes {
		if m == nil {
			problems = append(problems, fmt.Sprintf("mode %d: nil", i))
			continue
		}
		if m.Number != i {
			problems = append(problems, fmt.Sprintf("mode %d: number %d breaks contiguous numbering", i, m.Number))
		}
		for _, err := range m.Validate() {
			problems = append(problems, fmt.Sprintf("mode %d: %v", i, err))
		}
	}

	if len(problems) > 0 {
		return &ConfigError{Protocol: p.Name, Problems: problems}
	}
	return nil
}
