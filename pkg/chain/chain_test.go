package chain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/OpenTraceLab/jtagcable/pkg/bsdl"
	"github.com/OpenTraceLab/jtagcable/pkg/cable"
	"github.com/OpenTraceLab/jtagcable/pkg/cable/sim"
	"github.com/OpenTraceLab/jtagcable/pkg/part"
	"github.com/OpenTraceLab/jtagcable/pkg/tap"
)

func newChain(t *testing.T, devs ...sim.Device) (*Chain, *sim.Driver) {
	t.Helper()
	drv, err := sim.New(devs...)
	if err != nil {
		t.Fatalf("sim.New returned error: %v", err)
	}
	c := cable.New(cable.DriverSpec{Name: "sim"}, drv, nil)
	if err := c.Init(); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	ch := New(c)
	t.Cleanup(func() { ch.Close() })
	return ch, drv
}

// simPart describes a simulated device.
func simPart(t *testing.T, name string) *part.Part {
	t.Helper()
	p, err := part.New(name, sim.DefaultIRLength)
	if err != nil {
		t.Fatalf("part.New returned error: %v", err)
	}
	steps := []error{}
	_, err = p.AddRegister(part.DeviceID, 32)
	steps = append(steps, err)
	_, err = p.AddRegister("DATA", sim.DataLength)
	steps = append(steps, err)
	_, err = p.AddInstruction("IDCODE", "0001", part.DeviceID)
	steps = append(steps, err)
	_, err = p.AddInstruction("DATA", "0010", "DATA")
	steps = append(steps, err)
	if err := errors.Join(steps...); err != nil {
		t.Fatalf("building part: %v", err)
	}
	return p
}

func TestReadIDCodes(t *testing.T) {
	ch, _ := newChain(t,
		sim.Device{ID: 0x4BA00477, IRLen: 4},
		sim.Device{ID: 0, IRLen: 4},
		sim.Device{ID: 0x06413041, IRLen: 5},
	)
	ids, err := ch.ReadIDCodes(8)
	if err != nil {
		t.Fatalf("ReadIDCodes returned error: %v", err)
	}
	if diff := cmp.Diff([]uint32{0x4BA00477, 0, 0x06413041}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if ch.State() != tap.RunTestIdle {
		t.Fatalf("state = %s, want %s", ch.State(), tap.RunTestIdle)
	}

	ids, err = ch.ReadIDCodes(2)
	if err != nil {
		t.Fatalf("ReadIDCodes returned error: %v", err)
	}
	if diff := cmp.Diff([]uint32{0x4BA00477, 0}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if _, err := ch.ReadIDCodes(0); err == nil {
		t.Fatalf("expected error for max 0")
	}
}

func TestIRLength(t *testing.T) {
	ch, drv := newChain(t, sim.Device{ID: 0x4BA00477, IRLen: 4}, sim.Device{ID: 0x06413041, IRLen: 5})
	n, err := ch.IRLength()
	if err != nil {
		t.Fatalf("IRLength returned error: %v", err)
	}
	if n != 9 {
		t.Fatalf("IRLength = %d, want 9", n)
	}
	if drv.Instruction(0) != 0xF || drv.Instruction(1) != 0x1F {
		t.Fatalf("instructions %#x %#x, want all ones", drv.Instruction(0), drv.Instruction(1))
	}
}

const simBSDL = `
entity SIM_DP is
	attribute INSTRUCTION_LENGTH of SIM_DP : entity is 4;
	attribute INSTRUCTION_OPCODE of SIM_DP : entity is
		"BYPASS (1111), IDCODE (0001), DATA (0010)";
	attribute IDCODE_REGISTER of SIM_DP : entity is
		"0100" & "1011101000000000" & "01000111011" & "1";
	attribute REGISTER_ACCESS of SIM_DP : entity is "DATA[16] (DATA)";
end SIM_DP;
`

func TestDetect(t *testing.T) {
	d, err := bsdl.Parse("sim.bsd", strings.NewReader(simBSDL))
	if err != nil {
		t.Fatalf("bsdl.Parse returned error: %v", err)
	}
	repo := part.NewMemoryRepository()
	if err := repo.Add(d); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	ch, _ := newChain(t, sim.Device{ID: 0x4BA00477, IRLen: 4}, sim.Device{ID: 0x06413041, IRLen: 5})
	parts, err := ch.Detect(4, repo)
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	var got []string
	for _, p := range parts {
		got = append(got, fmt.Sprintf("%s/%d/%#x", p.Name, p.IRLength, p.ID))
	}
	want := []string{"SIM_DP/4/0x4ba00477", "unknown-06413041/5/0x6413041"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("parts mismatch (-want +got):\n%s", diff)
	}
	if len(ch.Parts()) != 2 {
		t.Fatalf("chain holds %d parts", len(ch.Parts()))
	}

	two, _ := newChain(t, sim.Device{ID: 0x3BA00477, IRLen: 4}, sim.Device{ID: 0x06413041, IRLen: 5})
	if _, err := two.Detect(4, repo); err == nil {
		t.Fatalf("expected error for two undescribed parts")
	}

	short, _ := newChain(t, sim.Device{ID: 0x4BA00477, IRLen: 6})
	if _, err := short.Detect(4, repo); err == nil {
		t.Fatalf("expected error for IR length mismatch")
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	ch, drv := newChain(t, sim.Device{ID: 0x4BA00477, IRLen: 4}, sim.Device{ID: 0x06413041, IRLen: 4})
	ch.SetParts([]*part.Part{simPart(t, "p0"), simPart(t, "p1")})
	if err := ch.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	h, err := ch.Register(1, "DATA", "DATA")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := h.SetInValue(0xBEEF); err != nil {
		t.Fatalf("SetInValue returned error: %v", err)
	}
	if err := h.ShiftDR(""); err != nil {
		t.Fatalf("ShiftDR returned error: %v", err)
	}
	if drv.Instruction(0) != 0xF || drv.Instruction(1) != sim.OpcodeDATA {
		t.Fatalf("instructions %#x %#x", drv.Instruction(0), drv.Instruction(1))
	}
	if drv.Data(1) != 0xBEEF {
		t.Fatalf("DATA latch = %#x, want 0xbeef", drv.Data(1))
	}
	if v, _ := h.OutValue(); v != 0 {
		t.Fatalf("captured %#x on first shift, want 0", v)
	}

	// The IR already holds DATA: the second shift is a bare DR scan of
	// 17 bits, 3 pulses to Shift-DR, 16 + 1 shifting, 2 back to idle.
	h.SetInValue(0x1234)
	before := drv.Pulses()
	if err := h.ShiftDR(""); err != nil {
		t.Fatalf("ShiftDR returned error: %v", err)
	}
	if got := drv.Pulses() - before; got != 22 {
		t.Fatalf("second ShiftDR took %d pulses, want 22", got)
	}
	if v, _ := h.OutValue(); v != 0xBEEF {
		t.Fatalf("captured %#x, want 0xbeef", v)
	}
	if s, _ := h.OutString(15, 12); s != "1011" {
		t.Fatalf("OutString(15, 12) = %q, want %q", s, "1011")
	}
	if drv.Data(1) != 0x1234 {
		t.Fatalf("DATA latch = %#x, want 0x1234", drv.Data(1))
	}
	if ch.State() != tap.RunTestIdle || drv.State() != tap.RunTestIdle {
		t.Fatalf("chain in %s, sim in %s", ch.State(), drv.State())
	}
}

func TestShiftIRCapturesPattern(t *testing.T) {
	ch, drv := newChain(t, sim.Device{ID: 0x4BA00477, IRLen: 4})
	ch.SetParts([]*part.Part{simPart(t, "p0")})
	h, err := ch.Register(0, "DATA", "DATA")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := h.ShiftIR(""); err != nil {
		t.Fatalf("ShiftIR returned error: %v", err)
	}
	if drv.Instruction(0) != sim.OpcodeDATA {
		t.Fatalf("instruction = %#x", drv.Instruction(0))
	}
	data := ch.Parts()[0].Instruction("DATA")
	if got := data.Out.String(); got != "0001" {
		t.Fatalf("captured IR = %q, want %q", got, "0001")
	}
	if ch.Loaded(0) != data {
		t.Fatalf("loaded instruction not tracked")
	}
}

func TestOverrideIsOneShot(t *testing.T) {
	ch, drv := newChain(t, sim.Device{ID: 0x4BA00477, IRLen: 4})
	ch.SetParts([]*part.Part{simPart(t, "p0")})
	if err := ch.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	h, err := ch.Register(0, "DATA", "")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := h.ShiftDR(""); !errors.Is(err, cable.ProtocolStateError) {
		t.Fatalf("ShiftDR without instruction = %v", err)
	}
	if err := h.ShiftIR(""); !errors.Is(err, cable.ProtocolStateError) {
		t.Fatalf("ShiftIR without instruction = %v", err)
	}
	if err := h.ShiftDR("IDCODE"); err == nil {
		t.Fatalf("expected error for instruction selecting another register")
	}

	h.SetInValue(0x55AA)
	if err := h.ShiftDR("DATA"); err != nil {
		t.Fatalf("ShiftDR(DATA) returned error: %v", err)
	}
	if drv.Data(0) != 0x55AA {
		t.Fatalf("DATA latch = %#x", drv.Data(0))
	}
	// DATA is still loaded, so no override is needed.
	if err := h.ShiftDR(""); err != nil {
		t.Fatalf("ShiftDR with DATA loaded returned error: %v", err)
	}
	if err := ch.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if err := h.ShiftDR(""); !errors.Is(err, cable.ProtocolStateError) {
		t.Fatalf("override was remembered: ShiftDR = %v", err)
	}
	if got := h.String(); got != fmt.Sprintf("<register chain=%p reg=DATA inst=(none)>", ch) {
		t.Fatalf("String() = %q", got)
	}
}

func TestHandleShiftActivatesPart(t *testing.T) {
	ch, drv := newChain(t,
		sim.Device{ID: 0x4BA00477, IRLen: 4},
		sim.Device{ID: 0x06413041, IRLen: 4},
	)
	ch.SetParts([]*part.Part{simPart(t, "p0"), simPart(t, "p1")})
	if err := ch.Reset(); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if got := ch.Active(); got != 0 {
		t.Fatalf("Active() = %d, want 0", got)
	}

	h1, err := ch.Register(1, "DATA", "DATA")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	h1.SetInValue(0x1234)
	if err := h1.ShiftDR(""); err != nil {
		t.Fatalf("ShiftDR returned error: %v", err)
	}
	if got := ch.Active(); got != 1 {
		t.Errorf("Active() after ShiftDR on part 1 = %d, want 1", got)
	}
	if got := drv.Data(1); got != 0x1234 {
		t.Errorf("part 1 DATA latch = %#x, want 0x1234", got)
	}

	h0, err := ch.Register(0, "DATA", "DATA")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := h0.ShiftIR(""); err != nil {
		t.Fatalf("ShiftIR returned error: %v", err)
	}
	if got := ch.Active(); got != 0 {
		t.Errorf("Active() after ShiftIR on part 0 = %d, want 0", got)
	}
}

func TestRegisterErrors(t *testing.T) {
	ch, _ := newChain(t, sim.Device{ID: 0x4BA00477, IRLen: 4})
	if err := ch.ShiftInstructions(false); !errors.Is(err, cable.ProtocolStateError) {
		t.Fatalf("ShiftInstructions on empty chain = %v", err)
	}
	ch.SetParts([]*part.Part{simPart(t, "p0")})
	cases := []struct {
		part      int
		reg, inst string
	}{
		{1, "DATA", ""},
		{0, "NOPE", ""},
		{0, "DATA", "NOPE"},
		{0, "DATA", "IDCODE"},
	}
	for _, tc := range cases {
		if _, err := ch.Register(tc.part, tc.reg, tc.inst); err == nil {
			t.Fatalf("Register(%d, %s, %s): expected error", tc.part, tc.reg, tc.inst)
		}
	}

	h, err := ch.Register(0, "DATA", "DATA")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if got := h.String(); got != fmt.Sprintf("<register chain=%p reg=DATA inst=DATA>", ch) {
		t.Fatalf("String() = %q", got)
	}
	if err := h.SetInString("1010", 3, 0); err != nil {
		t.Fatalf("SetInString returned error: %v", err)
	}
	if v, _ := h.InValue(); v != 0xA {
		t.Fatalf("InValue() = %#x, want 0xa", v)
	}
	if s, _ := h.InString(0, 3); s != "0101" {
		t.Fatalf("InString(0, 3) = %q, want %q", s, "0101")
	}

	ch.SetParts([]*part.Part{simPart(t, "p0")})
	if got := h.String(); got != "<register invalid>" {
		t.Fatalf("String() after SetParts = %q", got)
	}
	if err := h.ShiftDR(""); !errors.Is(err, cable.ProtocolStateError) {
		t.Fatalf("ShiftDR on stale handle = %v", err)
	}
	var zero RegisterHandle
	if got := zero.String(); got != "<register invalid>" {
		t.Fatalf("zero String() = %q", got)
	}
}
