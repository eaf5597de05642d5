// Package bitpack converts between []bool bit sequences and the byte
// layouts used on cable wires.
//
// Bit 0 of a sequence is always the first bit on the wire. The packing
// functions only decide where that bit lands inside a byte.
package bitpack

// PackMSB packs bits into bytes with bit 0 in the most significant position
// of byte 0. The returned slice is len(bits) rounded up to whole bytes.
func PackMSB(bits []bool) []byte {
	out := make([]byte, Bytes(len(bits)))
	for i, b := range bits {
		if b {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

// PackMSBInto is PackMSB writing into dst, which must hold Bytes(len(bits))
// bytes. Bits of dst not covered by bits are cleared.
func PackMSBInto(dst []byte, bits []bool) {
	clear(dst[:Bytes(len(bits))])
	for i, b := range bits {
		if b {
			dst[i/8] |= 0x80 >> (i % 8)
		}
	}
}

// UnpackMSB extracts n bits laid out by PackMSB into out.
func UnpackMSB(out []bool, data []byte, n int) {
	for i := 0; i < n; i++ {
		out[i] = data[i/8]&(0x80>>(i%8)) != 0
	}
}

// PackLSB packs bits into bytes with bit 0 in the least significant position
// of byte 0.
func PackLSB(bits []bool) []byte {
	out := make([]byte, Bytes(len(bits)))
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// UnpackLSB extracts n bits laid out by PackLSB into out.
func UnpackLSB(out []bool, data []byte, n int) {
	for i := 0; i < n; i++ {
		out[i] = data[i/8]&(1<<(i%8)) != 0
	}
}

// Bytes returns the number of bytes needed for n bits.
func Bytes(n int) int {
	return (n + 7) / 8
}

// PackNibbles packs 4-bit steps two per byte: even steps in the low nibble,
// odd steps in the high nibble. When steps does not fill size*2 slots, the
// last step is repeated so the wire holds its level until the end of the
// buffer.
func PackNibbles(steps []byte, size int) []byte {
	out := make([]byte, size)
	if len(steps) == 0 {
		return out
	}
	last := steps[len(steps)-1] & 0x0F
	for i := 0; i < size*2; i++ {
		v := last
		if i < len(steps) {
			v = steps[i] & 0x0F
		}
		if i%2 == 0 {
			out[i/2] |= v
		} else {
			out[i/2] |= v << 4
		}
	}
	return out
}

// Nibble returns step i from a buffer packed by PackNibbles.
func Nibble(data []byte, i int) byte {
	b := data[i/2]
	if i%2 == 0 {
		return b & 0x0F
	}
	return b >> 4
}

// FromUint returns the n least significant bits of v, LSB first.
func FromUint(v uint64, n int) []bool {
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = i < 64 && v&(1<<uint(i)) != 0
	}
	return bits
}

// ToUint folds up to 64 bits, bit 0 first, into an integer.
func ToUint(bits []bool) uint64 {
	var v uint64
	for i, b := range bits {
		if b && i < 64 {
			v |= 1 << uint(i)
		}
	}
	return v
}
