// Package sim provides a cable driver backed by a simulated JTAG chain. It
// implements only the primitive operations, so transfers and flushes go
// through the generic layer exactly as they would for a minimal hardware
// driver.
//
// Params:
//
//	ids    comma separated IDCODEs, part 0 nearest TDO (0 = no IDCODE register)
//	irlen  comma separated IR lengths; a single value applies to every part
package sim

import (
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/jtagcable/internal/bitpack"
	"github.com/OpenTraceLab/jtagcable/pkg/cable"
	"github.com/OpenTraceLab/jtagcable/pkg/tap"
)

// Simulated instructions. All ones is BYPASS; unknown opcodes also select
// the bypass register.
const (
	OpcodeIDCODE = 0x1
	OpcodeDATA   = 0x2

	// DataLength is the width of the scratch register selected by DATA.
	DataLength = 16

	// DefaultID is used when no ids param is given (ARM JTAG-DP).
	DefaultID = 0x4BA00477
	// DefaultIRLength applies when irlen is not given.
	DefaultIRLength = 4
)

func init() {
	cable.Register(cable.DriverSpec{
		Name:        "sim",
		Description: "simulated JTAG chain",
		Kind:        cable.DeviceOther,
		Connect:     Connect,
	})
}

// Device configures one simulated part.
type Device struct {
	ID    uint32
	IRLen int
}

type part struct {
	Device
	ir    []bool // latched instruction, bit 0 first out
	shift []bool // register between TDI and TDO in the current scan
	data  []bool // DATA latch
}

// reset selects IDCODE, or BYPASS on parts without an IDCODE register.
func (p *part) reset() {
	if p.ID != 0 {
		p.ir = bitpack.FromUint(OpcodeIDCODE, p.IRLen)
		return
	}
	p.ir = bitpack.FromUint(^uint64(0), p.IRLen)
}

func (p *part) opcode() uint64 {
	return bitpack.ToUint(p.ir)
}

// capture loads the data register selected by the current instruction.
func (p *part) captureDR() {
	switch {
	case p.opcode() == OpcodeIDCODE && p.ID != 0:
		p.shift = bitpack.FromUint(uint64(p.ID), 32)
	case p.opcode() == OpcodeDATA:
		p.shift = append([]bool(nil), p.data...)
	default:
		p.shift = []bool{false}
	}
}

func (p *part) updateDR() {
	if p.opcode() == OpcodeDATA {
		copy(p.data, p.shift)
	}
}

// Driver simulates a chain of parts sharing TCK, TMS and TRST.
type Driver struct {
	devices []Device
	parts   []*part
	state   tap.State
	shadow  cable.Shadow
	hz      uint32
	pulses  int
	active  bool
	log     *slog.Logger
}

// Connect parses ids and irlen.
func Connect(p cable.Params) (cable.Driver, error) {
	ids, err := p.UintList("ids")
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		ids = []uint64{DefaultID}
	}
	lens, err := p.UintList("irlen")
	if err != nil {
		return nil, err
	}
	switch {
	case len(lens) == 0:
		lens = []uint64{DefaultIRLength}
		fallthrough
	case len(lens) == 1:
		for len(lens) < len(ids) {
			lens = append(lens, lens[0])
		}
	case len(lens) != len(ids):
		return nil, cable.Errorf(cable.ConfigurationError, "connect", "%d irlen values for %d ids", len(lens), len(ids))
	}
	devs := make([]Device, len(ids))
	for i := range ids {
		if ids[i] > 0xFFFFFFFF {
			return nil, cable.Errorf(cable.ConfigurationError, "connect", "id %#x wider than 32 bits", ids[i])
		}
		devs[i] = Device{ID: uint32(ids[i]), IRLen: int(lens[i])}
	}
	d, err := New(devs...)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// New returns a driver simulating devs, devs[0] nearest TDO.
func New(devs ...Device) (*Driver, error) {
	if len(devs) == 0 {
		return nil, cable.Errorf(cable.ConfigurationError, "connect", "empty chain")
	}
	for i, d := range devs {
		if d.IRLen < 2 || d.IRLen > 32 {
			return nil, cable.Errorf(cable.ConfigurationError, "connect", "part %d: irlen %d out of range 2..32", i, d.IRLen)
		}
		if d.ID != 0 && d.ID&1 == 0 {
			return nil, cable.Errorf(cable.ConfigurationError, "connect", "part %d: IDCODE %#08x lacks the marker bit", i, d.ID)
		}
	}
	return &Driver{
		devices: append([]Device(nil), devs...),
		log:     slog.Default().With("driver", "sim"),
	}, nil
}

// Init powers up the chain in Test-Logic-Reset.
func (d *Driver) Init() error {
	d.parts = make([]*part, len(d.devices))
	for i, dev := range d.devices {
		d.parts[i] = &part{Device: dev, data: make([]bool, DataLength)}
	}
	d.shadow = cable.NewShadow(
		cable.SignalTCK|cable.SignalTMS|cable.SignalTDI|cable.SignalTRST|cable.SignalRESET,
		cable.SignalTRST|cable.SignalRESET,
	)
	d.resetTAP()
	d.active = true
	d.log.Debug("chain powered", "parts", len(d.parts))
	return nil
}

// Done powers the chain down.
func (d *Driver) Done() error {
	d.active = false
	d.parts = nil
	return nil
}

func (d *Driver) resetTAP() {
	d.state = tap.TestLogicReset
	for _, p := range d.parts {
		p.reset()
		p.shift = nil
	}
}

// SetFrequency accepts any rate.
func (d *Driver) SetFrequency(hz uint32) (uint32, error) {
	d.hz = hz
	return hz, nil
}

// Clock applies n pulses. TRST held low keeps the chain in reset.
func (d *Driver) Clock(tms, tdi bool, n int) error {
	if !d.active {
		return cable.Errorf(cable.ProtocolStateError, "clock", "simulator not initialised")
	}
	d.shadow.Apply(cable.SignalTMS|cable.SignalTDI|cable.SignalTCK,
		cable.Level(cable.SignalTMS, tms)|cable.Level(cable.SignalTDI, tdi))
	for i := 0; i < n; i++ {
		d.pulse(tms, tdi)
	}
	return nil
}

// pulse acts on the current state, then advances it.
func (d *Driver) pulse(tms, tdi bool) {
	d.pulses++
	if d.shadow.Get(cable.SignalTRST) == 0 {
		d.resetTAP()
		return
	}
	switch d.state {
	case tap.TestLogicReset:
		d.resetTAP()
	case tap.CaptureIR:
		for _, p := range d.parts {
			p.shift = make([]bool, p.IRLen)
			p.shift[0] = true
		}
	case tap.CaptureDR:
		for _, p := range d.parts {
			p.captureDR()
		}
	case tap.ShiftIR, tap.ShiftDR:
		in := tdi
		for i := len(d.parts) - 1; i >= 0; i-- {
			in = shiftIn(d.parts[i].shift, in)
		}
	case tap.UpdateIR:
		for _, p := range d.parts {
			if p.shift != nil {
				copy(p.ir, p.shift)
			}
		}
	case tap.UpdateDR:
		for _, p := range d.parts {
			p.updateDR()
		}
	}
	d.state = tap.Next(d.state, tms)
}

// shiftIn pushes bit into the high end of reg and returns the bit leaving
// its low end.
func shiftIn(reg []bool, bit bool) bool {
	if len(reg) == 0 {
		return bit
	}
	out := reg[0]
	copy(reg, reg[1:])
	reg[len(reg)-1] = bit
	return out
}

// GetTDO reports the bit at the low end of part 0's active register while
// the chain is in a shift state, and low otherwise.
func (d *Driver) GetTDO() (bool, error) {
	if !d.active {
		return false, cable.Errorf(cable.ProtocolStateError, "get tdo", "simulator not initialised")
	}
	if d.state.Shifting() && len(d.parts[0].shift) > 0 {
		return d.parts[0].shift[0], nil
	}
	return false, nil
}

// SetSignal updates the lines. A rising TCK edge clocks the chain with the
// current TMS and TDI; TRST going low resets it.
func (d *Driver) SetSignal(mask, val cable.Signal) (cable.Signal, error) {
	if !d.active {
		return 0, cable.Errorf(cable.ProtocolStateError, "set signal", "simulator not initialised")
	}
	before := d.shadow.Value()
	prev := d.shadow.Apply(mask, val)
	after := d.shadow.Value()
	if before&cable.SignalTRST != 0 && after&cable.SignalTRST == 0 {
		d.resetTAP()
	}
	if before&cable.SignalTCK == 0 && after&cable.SignalTCK != 0 {
		d.pulse(after&cable.SignalTMS != 0, after&cable.SignalTDI != 0)
	}
	return prev, nil
}

// GetSignal answers from the shadow; TDO from the chain.
func (d *Driver) GetSignal(sig cable.Signal) (cable.Signal, error) {
	v := d.shadow.Get(sig)
	if sig&cable.SignalTDO != 0 {
		tdo, err := d.GetTDO()
		if err != nil {
			return 0, err
		}
		v |= cable.Level(cable.SignalTDO, tdo)
	}
	return v, nil
}

// Info describes the simulated chain.
func (d *Driver) Info() cable.Info {
	return cable.Info{
		Name:         "sim",
		Model:        fmt.Sprintf("%d part chain", len(d.devices)),
		SupportsTRST: true,
		SupportsSRST: true,
	}
}

// State returns the simulated TAP state.
func (d *Driver) State() tap.State { return d.state }

// Pulses returns the number of TCK pulses seen since connect.
func (d *Driver) Pulses() int { return d.pulses }

// Instruction returns the latched opcode of part i.
func (d *Driver) Instruction(i int) uint64 { return d.parts[i].opcode() }

// Data returns the DATA latch of part i.
func (d *Driver) Data(i int) uint64 { return bitpack.ToUint(d.parts[i].data) }
