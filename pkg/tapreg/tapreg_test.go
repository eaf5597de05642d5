package tapreg

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAndString(t *testing.T) {
	r, err := Parse("0110")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if diff := cmp.Diff([]bool{false, true, true, false}, r.Bits()); diff != "" {
		t.Fatalf("bits mismatch (-want +got):\n%s", diff)
	}
	if got := r.String(); got != "0110" {
		t.Fatalf("String() = %q, want %q", got, "0110")
	}
	if _, err := Parse("01x"); err == nil {
		t.Fatalf("expected error for invalid character")
	}
	if r, _ := Parse("1111_0000"); r.Len() != 8 {
		t.Fatalf("underscores not ignored: len %d", r.Len())
	}
}

func TestFields(t *testing.T) {
	r := FromUint(0xA5, 8) // 1010 0101
	cases := []struct {
		name   string
		bounds []int
		want   string
		value  uint64
	}{
		{"full", nil, "10100101", 0xA5},
		{"bit", []int{2}, "1", 1},
		{"high nibble", []int{7, 4}, "1010", 0xA},
		{"reversed", []int{0, 3}, "1010", 0xA},
		{"low nibble", []int{3, 0}, "0101", 0x5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Field(tc.bounds...)
			if err != nil {
				t.Fatalf("Field returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Field(%v) = %q, want %q", tc.bounds, got, tc.want)
			}
			v, err := r.Uint(tc.bounds...)
			if err != nil {
				t.Fatalf("Uint returned error: %v", err)
			}
			if v != tc.value {
				t.Fatalf("Uint(%v) = %#x, want %#x", tc.bounds, v, tc.value)
			}
		})
	}
}

func TestSetters(t *testing.T) {
	r := New(8)
	if err := r.SetUint(0x3, 7, 6); err != nil {
		t.Fatalf("SetUint returned error: %v", err)
	}
	if err := r.SetString("01", 1, 0); err != nil {
		t.Fatalf("SetString returned error: %v", err)
	}
	if got := r.String(); got != "11000001" {
		t.Fatalf("String() = %q, want %q", got, "11000001")
	}
	if err := r.SetUint(0x4, 1, 0); err == nil {
		t.Fatalf("expected error for value wider than field")
	}
	if err := r.SetString("1", 1, 0); err == nil {
		t.Fatalf("expected error for short string")
	}
	if _, err := r.Field(8); err == nil {
		t.Fatalf("expected error for bit outside register")
	}
	if _, err := r.Field(1, 2, 3); err == nil {
		t.Fatalf("expected error for three bounds")
	}
}

func TestWideRegister(t *testing.T) {
	r := New(70)
	if _, err := r.Uint(); err == nil {
		t.Fatalf("expected error reading 70 bits as integer")
	}
	if err := r.SetUint(^uint64(0), 63, 0); err != nil {
		t.Fatalf("SetUint returned error: %v", err)
	}
	if v, _ := r.Uint(63, 0); v != ^uint64(0) {
		t.Fatalf("Uint(63, 0) = %#x", v)
	}
	if r.Bit(64) {
		t.Fatalf("bit 64 set")
	}
}

func TestCloneEqualFill(t *testing.T) {
	r := FromUint(0x5, 4)
	c := r.Clone()
	if !r.Equal(c) {
		t.Fatalf("clone differs")
	}
	c.Fill(true)
	if r.Equal(c) {
		t.Fatalf("clone shares storage")
	}
	if c.String() != "1111" {
		t.Fatalf("Fill(true) = %q", c.String())
	}
	if r.Equal(New(5)) {
		t.Fatalf("registers of different width compare equal")
	}
	if New(0).String() != "" {
		t.Fatalf("empty register not empty")
	}
}
