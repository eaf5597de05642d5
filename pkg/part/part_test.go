package part

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewHasBypass(t *testing.T) {
	p, err := New("chip", 5)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	in := p.Active()
	if in == nil || in.Name != BypassInstruction {
		t.Fatalf("active = %v, want BYPASS", in)
	}
	if got := in.Opcode.String(); got != "11111" {
		t.Fatalf("BYPASS opcode = %q", got)
	}
	if in.Register.Name != Bypass || in.Register.Len() != 1 {
		t.Fatalf("BYPASS selects %s[%d]", in.Register.Name, in.Register.Len())
	}
	if _, err := New("bad", 0); err == nil {
		t.Fatalf("expected error for zero IR length")
	}
}

func TestAddInstruction(t *testing.T) {
	p, _ := New("chip", 4)
	if _, err := p.AddRegister("SCRATCH", 8); err != nil {
		t.Fatalf("AddRegister returned error: %v", err)
	}
	if _, err := p.AddRegister("scratch", 8); err == nil {
		t.Fatalf("expected duplicate register error")
	}
	if _, err := p.AddRegister("EMPTY", 0); err == nil {
		t.Fatalf("expected zero length error")
	}
	in, err := p.AddInstruction("WRITE", "0010", "SCRATCH")
	if err != nil {
		t.Fatalf("AddInstruction returned error: %v", err)
	}
	if v, _ := in.Opcode.Uint(); v != 0x2 {
		t.Fatalf("opcode = %#x, want 0x2", v)
	}
	cases := []struct {
		name, opcode, reg string
	}{
		{"SHORT", "001", "SCRATCH"},
		{"BADBIT", "00z1", "SCRATCH"},
		{"NOREG", "0011", "MISSING"},
		{"write", "0011", "SCRATCH"},
	}
	for _, tc := range cases {
		if _, err := p.AddInstruction(tc.name, tc.opcode, tc.reg); err == nil {
			t.Fatalf("AddInstruction(%s, %s, %s): expected error", tc.name, tc.opcode, tc.reg)
		}
	}

	if err := p.SetInstruction("write"); err != nil {
		t.Fatalf("SetInstruction returned error: %v", err)
	}
	if p.Active() != in {
		t.Fatalf("active = %s, want WRITE", p.Active().Name)
	}
	if err := p.SetInstruction("NOPE"); err == nil {
		t.Fatalf("expected unknown instruction error")
	}
	other, _ := New("other", 4)
	if err := p.SetActive(other.Active()); err == nil {
		t.Fatalf("expected error for foreign instruction")
	}
}

func TestFromBSDL(t *testing.T) {
	p, err := FromBSDL(parse(t, simpleBSDL("DEMO", "00000000000000000000000000000011")))
	if err != nil {
		t.Fatalf("FromBSDL returned error: %v", err)
	}
	if p.Name != "DEMO" || p.IRLength != 4 {
		t.Fatalf("part %s irlen %d", p.Name, p.IRLength)
	}
	var regs []string
	for _, r := range p.Registers() {
		regs = append(regs, r.Name)
	}
	if diff := cmp.Diff([]string{Bypass, DeviceID, Boundary, "SCRATCH"}, regs); diff != "" {
		t.Fatalf("registers mismatch (-want +got):\n%s", diff)
	}
	got := map[string]string{}
	for _, in := range p.Instructions() {
		got[in.Name] = in.Opcode.String() + " " + in.Register.Name
	}
	want := map[string]string{
		"BYPASS": "1111 BR",
		"IDCODE": "0001 DIR",
		"EXTEST": "0000 BSR",
		"DATA":   "0010 SCRATCH",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("instructions mismatch (-want +got):\n%s", diff)
	}
	if p.Register(Boundary).Len() != 3 {
		t.Fatalf("BSR length = %d, want 3", p.Register(Boundary).Len())
	}
}
