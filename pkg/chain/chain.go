// Package chain drives the parts of a JTAG chain through one cable.
//
// Parts are ordered from TDO: part 0 is the device whose TDO pin reaches the
// cable, the last part receives the cable's TDI. Scans concatenate the
// per-part vectors in that order, so bit 0 of a combined vector belongs to
// part 0 and is the first bit shifted out.
package chain

import (
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/jtagcable/pkg/cable"
	"github.com/OpenTraceLab/jtagcable/pkg/part"
	"github.com/OpenTraceLab/jtagcable/pkg/tap"
)

// Chain owns a cable and the parts behind it. It is not safe for concurrent
// use.
type Chain struct {
	cable  *cable.Cable
	parts  []*part.Part
	loaded []*part.Instruction // last instruction shifted into each part, nil if unknown
	active int
	tap    *tap.Machine
	synced bool // tap mirrors the hardware
	log    *slog.Logger
}

// Option customises a Chain.
type Option func(*Chain)

// WithLogger sets the chain's logger.
func WithLogger(l *slog.Logger) Option {
	return func(ch *Chain) {
		if l != nil {
			ch.log = l
		}
	}
}

// New wraps an initialised cable. The TAP state is unknown until the first
// Reset or scan, which starts from Test-Logic-Reset.
func New(c *cable.Cable, opts ...Option) *Chain {
	ch := &Chain{
		cable: c,
		tap:   tap.NewMachine(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ch)
	}
	ch.log = ch.log.With("component", "chain")
	return ch
}

// Cable returns the chain's cable.
func (ch *Chain) Cable() *cable.Cable { return ch.cable }

// Close releases the cable.
func (ch *Chain) Close() error { return ch.cable.Free() }

// State returns the TAP state the chain believes the hardware is in.
func (ch *Chain) State() tap.State { return ch.tap.State() }

// SetParts replaces the part list. The instructions held by the hardware
// become unknown, so the next data scan reloads every IR.
func (ch *Chain) SetParts(parts []*part.Part) {
	ch.parts = append([]*part.Part(nil), parts...)
	ch.loaded = make([]*part.Instruction, len(parts))
	ch.active = 0
}

// Parts returns the parts, part 0 first.
func (ch *Chain) Parts() []*part.Part { return ch.parts }

// Part returns part i.
func (ch *Chain) Part(i int) (*part.Part, error) {
	if i < 0 || i >= len(ch.parts) {
		return nil, cable.Errorf(cable.ProtocolStateError, "part", "part %d out of range, chain has %d", i, len(ch.parts))
	}
	return ch.parts[i], nil
}

// SetActive selects the part register handles and the CLI act on.
func (ch *Chain) SetActive(i int) error {
	if _, err := ch.Part(i); err != nil {
		return err
	}
	ch.active = i
	return nil
}

// Active returns the index of the active part.
func (ch *Chain) Active() int { return ch.active }

// ActivePart returns the active part.
func (ch *Chain) ActivePart() (*part.Part, error) { return ch.Part(ch.active) }

// Loaded returns the instruction last shifted into part i, or nil.
func (ch *Chain) Loaded(i int) *part.Instruction {
	if i < 0 || i >= len(ch.loaded) {
		return nil
	}
	return ch.loaded[i]
}

// Reset pulses TRST when the cable has it, then forces Test-Logic-Reset
// with TMS and settles in Run-Test/Idle. Every part is left holding IDCODE,
// or BYPASS if it has no IDCODE instruction.
func (ch *Chain) Reset() error {
	if ch.cable.Info().SupportsTRST {
		ch.cable.DeferSetSignal(cable.SignalTRST, 0)
		ch.cable.DeferSetSignal(cable.SignalTRST, cable.SignalTRST)
	}
	ch.cable.DeferClock(true, false, len(tap.ResetTMS))
	ch.cable.DeferClock(false, false, 1)
	if err := ch.cable.Flush(cable.FlushCompletely); err != nil {
		ch.synced = false
		return fmt.Errorf("chain: reset: %w", err)
	}
	ch.tap.Reset()
	ch.tap.Clock(false)
	ch.synced = true
	for i, p := range ch.parts {
		ch.loaded[i] = p.Instruction("IDCODE")
		if ch.loaded[i] == nil {
			ch.loaded[i] = p.Instruction(part.BypassInstruction)
		}
	}
	ch.log.Debug("reset", "parts", len(ch.parts))
	return nil
}

// walk queues the TMS sequence that moves the TAP to target.
func (ch *Chain) walk(target tap.State) error {
	if !ch.synced {
		ch.cable.DeferClock(true, false, len(tap.ResetTMS))
		ch.tap.Reset()
		ch.synced = true
	}
	path, err := ch.tap.Walk(target)
	if err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	for _, tms := range path {
		ch.cable.DeferClock(tms, false, 1)
	}
	return nil
}

// scan shifts in through the given shift state and returns to
// Run-Test/Idle. The last bit goes out with TMS high, leaving Shift for
// Exit1. All of it is queued and run with one flush; when capture is set
// the returned slice holds the TDO bits in shift order.
func (ch *Chain) scan(shift tap.State, in []bool, capture bool) ([]bool, error) {
	if len(in) == 0 {
		return nil, cable.Errorf(cable.ProtocolStateError, "scan", "empty %s scan", shift)
	}
	if err := ch.walk(shift); err != nil {
		return nil, err
	}
	n := len(in)
	body := ch.cable.DeferTransfer(in[:n-1], capture)
	var last *cable.Pending
	if capture {
		last = ch.cable.DeferGetTDO()
	}
	ch.cable.DeferClock(true, in[n-1], 1)
	ch.tap.Clock(true)
	if err := ch.walk(tap.RunTestIdle); err != nil {
		return nil, err
	}
	if err := ch.cable.Flush(cable.FlushCompletely); err != nil {
		ch.synced = false
		return nil, fmt.Errorf("chain: %s scan: %w", shift, err)
	}
	ch.log.Debug("scan", "state", shift, "bits", n)
	if !capture {
		return nil, nil
	}
	out, err := body.Bits()
	if err != nil {
		return nil, err
	}
	tdo, err := last.TDO()
	if err != nil {
		return nil, err
	}
	return append(append(make([]bool, 0, n), out...), tdo), nil
}

func (ch *Chain) requireParts(op string) error {
	if len(ch.parts) == 0 {
		return cable.Errorf(cable.ProtocolStateError, op, "chain has no parts")
	}
	return nil
}

// ShiftInstructions loads every part's active instruction. With capture set
// the captured IR bits are stored in each instruction's Out register.
func (ch *Chain) ShiftInstructions(capture bool) error {
	if err := ch.requireParts("shift ir"); err != nil {
		return err
	}
	var in []bool
	for _, p := range ch.parts {
		in = append(in, p.Active().Opcode.Bits()...)
	}
	out, err := ch.scan(tap.ShiftIR, in, capture)
	if err != nil {
		ch.loaded = make([]*part.Instruction, len(ch.parts))
		return err
	}
	off := 0
	for i, p := range ch.parts {
		inst := p.Active()
		ch.loaded[i] = inst
		if capture {
			copy(inst.Out.Bits(), out[off:off+p.IRLength])
		}
		off += p.IRLength
	}
	return nil
}

// stale reports whether some part's active instruction is not the one the
// hardware holds.
func (ch *Chain) stale() bool {
	for i, p := range ch.parts {
		if ch.loaded[i] != p.Active() {
			return true
		}
	}
	return false
}

// ShiftDataRegisters scans the data registers selected by each part's
// active instruction, reloading the instruction registers first if they
// are out of date. With capture set the captured bits are stored in each
// register's Out.
func (ch *Chain) ShiftDataRegisters(capture bool) error {
	if err := ch.requireParts("shift dr"); err != nil {
		return err
	}
	if ch.stale() {
		if err := ch.ShiftInstructions(false); err != nil {
			return err
		}
	}
	var in []bool
	for _, p := range ch.parts {
		in = append(in, p.Active().Register.In.Bits()...)
	}
	out, err := ch.scan(tap.ShiftDR, in, capture)
	if err != nil || !capture {
		return err
	}
	off := 0
	for _, p := range ch.parts {
		dr := p.Active().Register
		copy(dr.Out.Bits(), out[off:off+dr.Len()])
		off += dr.Len()
	}
	return nil
}
