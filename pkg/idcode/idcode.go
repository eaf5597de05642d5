// Package idcode decodes IEEE 1149.1 device identification registers.
package idcode

import (
	"fmt"
	"strings"
)

// ID is a decoded 32-bit IDCODE.
//
//	[31:28] version  [27:12] part  [11:8] JEP106 bank  [7:1] JEP106 id  [0] 1
type ID struct {
	Raw     uint32
	Version uint8
	Part    uint16
	Bank    uint8
	Maker   uint8
}

// Decode splits raw into its fields. Values without the marker bit, and the
// all-ones end-of-chain pattern, are rejected.
func Decode(raw uint32) (ID, error) {
	if raw&1 == 0 {
		return ID{}, fmt.Errorf("idcode: %#08x lacks the marker bit", raw)
	}
	if raw == 0xFFFFFFFF {
		return ID{}, fmt.Errorf("idcode: %#08x is the end-of-chain pattern", raw)
	}
	return ID{
		Raw:     raw,
		Version: uint8(raw >> 28),
		Part:    uint16(raw >> 12),
		Bank:    uint8(raw>>8) & 0xF,
		Maker:   uint8(raw>>1) & 0x7F,
	}, nil
}

// Manufacturer looks the JEP106 fields up.
func (id ID) Manufacturer() Manufacturer {
	m, _ := LookupManufacturer(id.Bank, id.Maker)
	return m
}

func (id ID) String() string {
	return fmt.Sprintf("%#08x (%s, part %#04x, version %d)", id.Raw, id.Manufacturer(), id.Part, id.Version)
}

// Match reports whether raw matches an MSB-first pattern of '0', '1' and
// 'X' (don't care) such as the IDCODE_REGISTER attribute of a BSDL file.
func Match(pattern string, raw uint32) (bool, error) {
	pattern = strings.ToUpper(strings.ReplaceAll(pattern, " ", ""))
	if len(pattern) != 32 {
		return false, fmt.Errorf("idcode: pattern %q is %d bits, want 32", pattern, len(pattern))
	}
	for i := 0; i < 32; i++ {
		bit := raw>>uint(31-i)&1 == 1
		switch pattern[i] {
		case 'X':
		case '1':
			if !bit {
				return false, nil
			}
		case '0':
			if bit {
				return false, nil
			}
		default:
			return false, fmt.Errorf("idcode: invalid character %q in pattern", pattern[i])
		}
	}
	return true, nil
}
