// Package tapreg implements the sized bit registers shifted through a JTAG
// chain.
//
// Bit 0 is the least significant bit and the first bit shifted out towards
// TDO. String forms are written most significant bit first, so a register
// holding the value 6 in four bits prints as "0110".
//
// Range accessors take optional bounds: none selects the full register, one
// selects a single bit, two select [msb:lsb]. When msb < lsb the field is
// read in the reversed direction, starting at msb.
package tapreg

import (
	"fmt"
	"strings"
)

// Register is a fixed-width bit vector.
type Register struct {
	bits []bool
}

// New returns an all-zero register of n bits.
func New(n int) *Register {
	if n < 0 {
		n = 0
	}
	return &Register{bits: make([]bool, n)}
}

// Parse builds a register from a string of '0' and '1', most significant
// bit first. Underscores are ignored.
func Parse(s string) (*Register, error) {
	s = strings.ReplaceAll(s, "_", "")
	r := New(len(s))
	if err := r.SetString(s); err != nil {
		return nil, err
	}
	return r, nil
}

// FromUint returns an n-bit register holding v.
func FromUint(v uint64, n int) *Register {
	r := New(n)
	for i := 0; i < n && i < 64; i++ {
		r.bits[i] = v>>uint(i)&1 == 1
	}
	return r
}

// Len returns the width in bits.
func (r *Register) Len() int { return len(r.bits) }

// Bits exposes the underlying bits, bit 0 first. Writes through the slice
// change the register.
func (r *Register) Bits() []bool { return r.bits }

// Bit returns bit i.
func (r *Register) Bit(i int) bool { return r.bits[i] }

// SetBit sets bit i.
func (r *Register) SetBit(i int, v bool) { r.bits[i] = v }

// Fill sets every bit to v.
func (r *Register) Fill(v bool) {
	for i := range r.bits {
		r.bits[i] = v
	}
}

// Clone returns an independent copy.
func (r *Register) Clone() *Register {
	return &Register{bits: append([]bool(nil), r.bits...)}
}

// Equal reports whether both registers have the same width and bits.
func (r *Register) Equal(o *Register) bool {
	if r.Len() != o.Len() {
		return false
	}
	for i := range r.bits {
		if r.bits[i] != o.bits[i] {
			return false
		}
	}
	return true
}

func (r *Register) String() string {
	s, _ := r.Field()
	return s
}

// span resolves bounds into the first and last bit index visited.
func (r *Register) span(bounds []int) (from, to int, err error) {
	switch len(bounds) {
	case 0:
		if r.Len() == 0 {
			return 0, -1, nil
		}
		return r.Len() - 1, 0, nil
	case 1:
		from, to = bounds[0], bounds[0]
	case 2:
		from, to = bounds[0], bounds[1]
	default:
		return 0, 0, fmt.Errorf("tapreg: %d bounds given, want at most 2", len(bounds))
	}
	for _, b := range []int{from, to} {
		if b < 0 || b >= r.Len() {
			return 0, 0, fmt.Errorf("tapreg: bit %d outside %d-bit register", b, r.Len())
		}
	}
	return from, to, nil
}

// indices lists the bit positions of a field, most significant first.
func (r *Register) indices(bounds []int) ([]int, error) {
	from, to, err := r.span(bounds)
	if err != nil {
		return nil, err
	}
	if to < from && len(bounds) == 0 && r.Len() == 0 {
		return nil, nil
	}
	step := -1
	if from < to {
		step = 1
	}
	idx := make([]int, 0, abs(to-from)+1)
	for i := from; ; i += step {
		idx = append(idx, i)
		if i == to {
			break
		}
	}
	return idx, nil
}

// Field returns the selected bits as a '0'/'1' string.
func (r *Register) Field(bounds ...int) (string, error) {
	idx, err := r.indices(bounds)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(idx))
	for _, i := range idx {
		if r.bits[i] {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String(), nil
}

// SetString writes s into the selected field. s must be exactly as wide as
// the field.
func (r *Register) SetString(s string, bounds ...int) error {
	idx, err := r.indices(bounds)
	if err != nil {
		return err
	}
	if len(s) != len(idx) {
		return fmt.Errorf("tapreg: %d characters for a %d-bit field", len(s), len(idx))
	}
	vals := make([]bool, len(s))
	for k := 0; k < len(s); k++ {
		switch s[k] {
		case '0':
		case '1':
			vals[k] = true
		default:
			return fmt.Errorf("tapreg: invalid bit %q in %q", s[k], s)
		}
	}
	for k, i := range idx {
		r.bits[i] = vals[k]
	}
	return nil
}

// Uint reads the selected field as an unsigned integer.
func (r *Register) Uint(bounds ...int) (uint64, error) {
	idx, err := r.indices(bounds)
	if err != nil {
		return 0, err
	}
	if len(idx) > 64 {
		return 0, fmt.Errorf("tapreg: %d-bit field does not fit in 64 bits", len(idx))
	}
	var v uint64
	for _, i := range idx {
		v <<= 1
		if r.bits[i] {
			v |= 1
		}
	}
	return v, nil
}

// SetUint writes v into the selected field. v must fit in the field.
func (r *Register) SetUint(v uint64, bounds ...int) error {
	idx, err := r.indices(bounds)
	if err != nil {
		return err
	}
	if len(idx) > 64 {
		return fmt.Errorf("tapreg: %d-bit field does not fit in 64 bits", len(idx))
	}
	if len(idx) < 64 && v>>uint(len(idx)) != 0 {
		return fmt.Errorf("tapreg: value %#x does not fit in %d bits", v, len(idx))
	}
	for k := len(idx) - 1; k >= 0; k-- {
		r.bits[idx[k]] = v&1 == 1
		v >>= 1
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
