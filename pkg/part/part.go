// Package part models what the chain knows about one device: its
// instruction register, the instructions it accepts and the data registers
// they select.
package part

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/jtagcable/pkg/bsdl"
	"github.com/OpenTraceLab/jtagcable/pkg/tapreg"
)

// Standard register and instruction names.
const (
	Bypass   = "BR"
	DeviceID = "DIR"
	Boundary = "BSR"

	BypassInstruction = "BYPASS"
)

// DataRegister is a data register with the value to shift in and the value
// captured by the last shift.
type DataRegister struct {
	Name string
	In   *tapreg.Register
	Out  *tapreg.Register
}

// Len returns the register width.
func (r *DataRegister) Len() int { return r.In.Len() }

// Instruction is an opcode bound to the data register it selects. Out holds
// the IR bits captured when the instruction was last shifted.
type Instruction struct {
	Name     string
	Opcode   *tapreg.Register
	Register *DataRegister
	Out      *tapreg.Register
}

// Part is one device on the chain.
type Part struct {
	Name     string
	ID       uint32
	IRLength int

	registers    []*DataRegister
	instructions []*Instruction
	active       *Instruction
}

// New returns a part with only the bypass register and the all-ones
// BYPASS instruction, which is also made active.
func New(name string, irLen int) (*Part, error) {
	if irLen < 1 {
		return nil, fmt.Errorf("part %s: instruction length %d", name, irLen)
	}
	p := &Part{Name: name, IRLength: irLen}
	if _, err := p.AddRegister(Bypass, 1); err != nil {
		return nil, err
	}
	ones := tapreg.New(irLen)
	ones.Fill(true)
	bypass, err := p.addInstruction(BypassInstruction, ones, Bypass)
	if err != nil {
		return nil, err
	}
	p.active = bypass
	return p, nil
}

// AddRegister declares a data register of length bits.
func (p *Part) AddRegister(name string, length int) (*DataRegister, error) {
	if length < 1 {
		return nil, fmt.Errorf("part %s: register %s: length %d", p.Name, name, length)
	}
	if p.Register(name) != nil {
		return nil, fmt.Errorf("part %s: register %s already defined", p.Name, name)
	}
	r := &DataRegister{Name: name, In: tapreg.New(length), Out: tapreg.New(length)}
	p.registers = append(p.registers, r)
	return r, nil
}

// AddInstruction declares an instruction. opcode is MSB first and must be
// exactly IRLength bits; register must already exist.
func (p *Part) AddInstruction(name, opcode, register string) (*Instruction, error) {
	op, err := tapreg.Parse(opcode)
	if err != nil {
		return nil, fmt.Errorf("part %s: instruction %s: %w", p.Name, name, err)
	}
	return p.addInstruction(name, op, register)
}

func (p *Part) addInstruction(name string, op *tapreg.Register, register string) (*Instruction, error) {
	if op.Len() != p.IRLength {
		return nil, fmt.Errorf("part %s: instruction %s: opcode is %d bits, IR is %d", p.Name, name, op.Len(), p.IRLength)
	}
	if p.Instruction(name) != nil {
		return nil, fmt.Errorf("part %s: instruction %s already defined", p.Name, name)
	}
	dr := p.Register(register)
	if dr == nil {
		return nil, fmt.Errorf("part %s: instruction %s: unknown register %s", p.Name, name, register)
	}
	in := &Instruction{Name: name, Opcode: op, Register: dr, Out: tapreg.New(p.IRLength)}
	p.instructions = append(p.instructions, in)
	return in, nil
}

// Instruction finds an instruction by name, case insensitively.
func (p *Part) Instruction(name string) *Instruction {
	for _, in := range p.instructions {
		if strings.EqualFold(in.Name, name) {
			return in
		}
	}
	return nil
}

// Register finds a data register by name, case insensitively.
func (p *Part) Register(name string) *DataRegister {
	for _, r := range p.registers {
		if strings.EqualFold(r.Name, name) {
			return r
		}
	}
	return nil
}

// Instructions lists the instructions in declaration order.
func (p *Part) Instructions() []*Instruction { return p.instructions }

// Registers lists the data registers in declaration order.
func (p *Part) Registers() []*DataRegister { return p.registers }

// Active returns the instruction the next IR shift will load.
func (p *Part) Active() *Instruction { return p.active }

// SetInstruction makes the named instruction active.
func (p *Part) SetInstruction(name string) error {
	in := p.Instruction(name)
	if in == nil {
		return fmt.Errorf("part %s: unknown instruction %s", p.Name, name)
	}
	p.active = in
	return nil
}

// SetActive makes in active. in must belong to p.
func (p *Part) SetActive(in *Instruction) error {
	for _, x := range p.instructions {
		if x == in {
			p.active = in
			return nil
		}
	}
	return fmt.Errorf("part %s: instruction %s does not belong to this part", p.Name, in.Name)
}

// FromBSDL builds a part from a parsed description. Only the first opcode
// of each instruction is used; don't-care bits are shifted as 0.
func FromBSDL(d *bsdl.Description) (*Part, error) {
	p, err := New(d.Entity, d.IRLength)
	if err != nil {
		return nil, err
	}
	for _, r := range d.Registers {
		if r.Name == Bypass {
			continue
		}
		if _, err := p.AddRegister(r.Name, r.Length); err != nil {
			return nil, err
		}
	}
	for _, in := range d.Instructions {
		op := strings.NewReplacer("X", "0", "x", "0").Replace(in.Opcodes[0])
		if strings.EqualFold(in.Name, BypassInstruction) {
			bypass, err := tapreg.Parse(op)
			if err != nil {
				return nil, fmt.Errorf("part %s: BYPASS: %w", p.Name, err)
			}
			p.Instruction(BypassInstruction).Opcode = bypass
			continue
		}
		if _, err := p.AddInstruction(in.Name, op, in.Register); err != nil {
			return nil, err
		}
	}
	return p, nil
}
