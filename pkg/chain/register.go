package chain

import (
	"fmt"

	"github.com/OpenTraceLab/jtagcable/pkg/cable"
	"github.com/OpenTraceLab/jtagcable/pkg/part"
)

// RegisterHandle binds a data register of one part to the instruction that
// selects it. The zero value is an invalid handle.
type RegisterHandle struct {
	chain *Chain
	part  int
	reg   *part.DataRegister
	inst  *part.Instruction
}

// Register returns a handle on data register dr of part p. inst names the
// instruction remembered for shifts and may be empty; when given it must
// select dr.
func (ch *Chain) Register(p int, dr, inst string) (*RegisterHandle, error) {
	pt, err := ch.Part(p)
	if err != nil {
		return nil, err
	}
	reg := pt.Register(dr)
	if reg == nil {
		return nil, fmt.Errorf("chain: part %s has no data register %s", pt.Name, dr)
	}
	h := &RegisterHandle{chain: ch, part: p, reg: reg}
	if inst != "" {
		if h.inst, err = h.lookup(inst); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *RegisterHandle) valid() error {
	if h == nil || h.chain == nil || h.reg == nil ||
		h.part >= len(h.chain.parts) || h.chain.parts[h.part].Register(h.reg.Name) != h.reg {
		return cable.Errorf(cable.ProtocolStateError, "register", "invalid register handle")
	}
	return nil
}

// lookup resolves an instruction name on the handle's part and checks it
// selects the handle's register.
func (h *RegisterHandle) lookup(name string) (*part.Instruction, error) {
	pt := h.chain.parts[h.part]
	in := pt.Instruction(name)
	if in == nil {
		return nil, fmt.Errorf("chain: part %s has no instruction %s", pt.Name, name)
	}
	if in.Register != h.reg {
		return nil, fmt.Errorf("chain: instruction %s selects %s, not %s", in.Name, in.Register.Name, h.reg.Name)
	}
	return in, nil
}

func (h *RegisterHandle) String() string {
	if h.valid() != nil {
		return "<register invalid>"
	}
	inst := "(none)"
	if h.inst != nil {
		inst = h.inst.Name
	}
	return fmt.Sprintf("<register chain=%p reg=%s inst=%s>", h.chain, h.reg.Name, inst)
}

// Name returns the data register's name.
func (h *RegisterHandle) Name() string { return h.reg.Name }

// Len returns the data register's width.
func (h *RegisterHandle) Len() int { return h.reg.Len() }

// InString returns the bits to be shifted in, MSB first.
func (h *RegisterHandle) InString(bounds ...int) (string, error) {
	if err := h.valid(); err != nil {
		return "", err
	}
	return h.reg.In.Field(bounds...)
}

// OutString returns the bits captured by the last shift, MSB first.
func (h *RegisterHandle) OutString(bounds ...int) (string, error) {
	if err := h.valid(); err != nil {
		return "", err
	}
	return h.reg.Out.Field(bounds...)
}

// InValue returns the bits to be shifted in as an integer.
func (h *RegisterHandle) InValue(bounds ...int) (uint64, error) {
	if err := h.valid(); err != nil {
		return 0, err
	}
	return h.reg.In.Uint(bounds...)
}

// OutValue returns the captured bits as an integer.
func (h *RegisterHandle) OutValue(bounds ...int) (uint64, error) {
	if err := h.valid(); err != nil {
		return 0, err
	}
	return h.reg.Out.Uint(bounds...)
}

// SetInString sets bits to be shifted in from an MSB-first string.
func (h *RegisterHandle) SetInString(s string, bounds ...int) error {
	if err := h.valid(); err != nil {
		return err
	}
	return h.reg.In.SetString(s, bounds...)
}

// SetInValue sets bits to be shifted in from an integer.
func (h *RegisterHandle) SetInValue(v uint64, bounds ...int) error {
	if err := h.valid(); err != nil {
		return err
	}
	return h.reg.In.SetUint(v, bounds...)
}

// SetOutString overwrites captured bits.
func (h *RegisterHandle) SetOutString(s string, bounds ...int) error {
	if err := h.valid(); err != nil {
		return err
	}
	return h.reg.Out.SetString(s, bounds...)
}

// SetOutValue overwrites captured bits from an integer.
func (h *RegisterHandle) SetOutValue(v uint64, bounds ...int) error {
	if err := h.valid(); err != nil {
		return err
	}
	return h.reg.Out.SetUint(v, bounds...)
}

// ShiftIR makes the handle's part the chain's active part, makes inst, or
// the remembered instruction when inst is empty, active on it and shifts the instruction registers.
// inst applies to this call only.
func (h *RegisterHandle) ShiftIR(inst string) error {
	if err := h.valid(); err != nil {
		return err
	}
	in := h.inst
	if inst != "" {
		var err error
		if in, err = h.lookup(inst); err != nil {
			return err
		}
	}
	if in == nil {
		return cable.Errorf(cable.ProtocolStateError, "shift ir", "no instruction for data register %s", h.reg.Name)
	}
	if err := h.chain.parts[h.part].SetActive(in); err != nil {
		return err
	}
	h.chain.active = h.part
	return h.chain.ShiftInstructions(true)
}

// ShiftDR makes the handle's part the chain's active part and shifts the
// data registers with the handle's register selected on it. The instruction used is inst when given, else the one the
// part already holds if it selects this register, else the remembered one.
// The IR is reloaded only when the chosen instruction is not already held.
func (h *RegisterHandle) ShiftDR(inst string) error {
	if err := h.valid(); err != nil {
		return err
	}
	pt := h.chain.parts[h.part]
	var in *part.Instruction
	switch loaded := h.chain.Loaded(h.part); {
	case inst != "":
		var err error
		if in, err = h.lookup(inst); err != nil {
			return err
		}
	case loaded != nil && loaded.Register == h.reg:
		in = loaded
	default:
		in = h.inst
	}
	if in == nil {
		return cable.Errorf(cable.ProtocolStateError, "shift dr", "no instruction for data register %s", h.reg.Name)
	}
	if err := pt.SetActive(in); err != nil {
		return err
	}
	h.chain.active = h.part
	return h.chain.ShiftDataRegisters(true)
}
