package cable

import (
	"fmt"
	"strings"
)

// Signal is a bitmask over the JTAG lines a cable can drive or sample.
type Signal uint8

const (
	SignalTCK Signal = 1 << iota
	SignalTMS
	SignalTDI
	SignalTDO
	SignalTRST
	SignalRESET

	// SignalNone is the empty vector.
	SignalNone Signal = 0
	// SignalAll covers every named line.
	SignalAll = SignalTCK | SignalTMS | SignalTDI | SignalTDO | SignalTRST | SignalRESET
)

var signalNames = []struct {
	sig  Signal
	name string
}{
	{SignalTCK, "TCK"},
	{SignalTMS, "TMS"},
	{SignalTDI, "TDI"},
	{SignalTDO, "TDO"},
	{SignalTRST, "TRST"},
	{SignalRESET, "RESET"},
}

// Has reports whether every bit of other is set in s.
func (s Signal) Has(other Signal) bool {
	return other != 0 && s&other == other
}

func (s Signal) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	for _, n := range signalNames {
		if s&n.sig != 0 {
			parts = append(parts, n.name)
		}
	}
	if rest := s &^ SignalAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02X", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseSignal resolves a line name. SRST is accepted as an alias of RESET.
func ParseSignal(name string) (Signal, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "SRST" {
		return SignalRESET, nil
	}
	for _, n := range signalNames {
		if n.name == upper {
			return n.sig, nil
		}
	}
	return 0, fmt.Errorf("cable: unknown signal %q", name)
}

// Level returns sig when on is true and SignalNone otherwise.
func Level(sig Signal, on bool) Signal {
	if on {
		return sig
	}
	return SignalNone
}

// Shadow remembers the last value written to each line of a cable whose
// pins cannot be read back. Drivers embed it and call Apply after every
// confirmed write.
type Shadow struct {
	writable Signal
	value    Signal
}

// NewShadow returns a shadow that accepts writes to the writable lines only.
func NewShadow(writable Signal, initial Signal) Shadow {
	return Shadow{writable: writable, value: initial & writable}
}

// Writable reports the lines this shadow tracks.
func (s *Shadow) Writable() Signal {
	return s.writable
}

// Apply merges val into the shadow for the lines selected by mask and
// returns the previous value of those lines. Lines outside the writable
// set are ignored.
func (s *Shadow) Apply(mask, val Signal) Signal {
	mask &= s.writable
	prev := s.value & mask
	s.value = (s.value &^ mask) | (val & mask)
	return prev
}

// Clear drops the given lines to low.
func (s *Shadow) Clear(lines Signal) {
	s.value &^= lines
}

// Get returns the shadow value restricted to sig.
func (s *Shadow) Get(sig Signal) Signal {
	return s.value & sig
}

// Value returns the whole shadow vector.
func (s *Shadow) Value() Signal {
	return s.value
}
