package bsdl

import (
	"fmt"
	"strconv"
	"strings"
)

// Standard register names as used by the part model.
const (
	RegBoundary = "BSR"
	RegBypass   = "BR"
	RegDeviceID = "DIR"
	RegUserCode = "USERCODE"
)

// Description is what the chain needs to know about a part.
type Description struct {
	Entity         string
	IRLength       int
	IRCapture      string
	IDCode         string // may contain X for don't-care bits
	UserCode       string
	BoundaryLength int
	Instructions   []Instruction
	Registers      []Register
}

// Instruction names an opcode and the data register it selects. Opcodes are
// MSB-first bit strings; the first is the one shifted.
type Instruction struct {
	Name     string
	Opcodes  []string
	Register string
}

// Register is a data register declared or implied by the file.
type Register struct {
	Name   string
	Length int
}

// Instruction looks up an instruction by name, case insensitively.
func (d *Description) Instruction(name string) (Instruction, bool) {
	for _, in := range d.Instructions {
		if strings.EqualFold(in.Name, name) {
			return in, true
		}
	}
	return Instruction{}, false
}

type groupList struct {
	Groups []*group `( @@ ( "," @@ )* )?`
}

type group struct {
	Name   string   `@Word`
	Length *int     `( "[" @Word "]" )?`
	Items  []string `"(" ( @Word ( "," @Word )* )? ")"`
}

func parseGroups(attr, s string) ([]*group, error) {
	_, p, err := parsers()
	if err != nil {
		return nil, err
	}
	l, err := p.ParseString(attr, s)
	if err != nil {
		return nil, fmt.Errorf("bsdl: %s: %w", attr, err)
	}
	return l.Groups, nil
}

// registerName maps REGISTER_ACCESS names onto the part model's names.
func registerName(s string) string {
	switch strings.ToUpper(s) {
	case "BOUNDARY":
		return RegBoundary
	case "BYPASS":
		return RegBypass
	case "DEVICE_ID":
		return RegDeviceID
	}
	return strings.ToUpper(s)
}

// defaultRegister is the register an instruction selects when
// REGISTER_ACCESS does not say.
func defaultRegister(inst string) string {
	switch strings.ToUpper(inst) {
	case "IDCODE":
		return RegDeviceID
	case "USERCODE":
		return RegUserCode
	case "EXTEST", "SAMPLE", "PRELOAD", "INTEST", "RUNBIST":
		return RegBoundary
	}
	return RegBypass
}

func describe(e *Entity) (*Description, error) {
	if e == nil {
		return nil, fmt.Errorf("bsdl: no entity")
	}
	d := &Description{Entity: e.Name}

	number := func(name string) (int, error) {
		a := e.Attribute(name)
		if a == nil {
			return 0, nil
		}
		if len(a.Value.Terms) != 1 || a.Value.Terms[0].Number == nil {
			return 0, fmt.Errorf("bsdl: %s: %s is not a number", e.Name, name)
		}
		n, err := strconv.Atoi(*a.Value.Terms[0].Number)
		if err != nil {
			return 0, fmt.Errorf("bsdl: %s: %s: %w", e.Name, name, err)
		}
		return n, nil
	}
	text := func(name string) string {
		if a := e.Attribute(name); a != nil {
			return strings.ReplaceAll(a.Value.Text(), " ", "")
		}
		return ""
	}

	var err error
	if d.IRLength, err = number("INSTRUCTION_LENGTH"); err != nil {
		return nil, err
	}
	if d.IRLength <= 0 {
		return nil, fmt.Errorf("bsdl: %s: missing INSTRUCTION_LENGTH", e.Name)
	}
	if d.BoundaryLength, err = number("BOUNDARY_LENGTH"); err != nil {
		return nil, err
	}
	d.IRCapture = text("INSTRUCTION_CAPTURE")
	d.IDCode = text("IDCODE_REGISTER")
	d.UserCode = text("USERCODE_REGISTER")

	var opcodes []*group
	if a := e.Attribute("INSTRUCTION_OPCODE"); a != nil {
		if opcodes, err = parseGroups("INSTRUCTION_OPCODE", a.Value.Text()); err != nil {
			return nil, err
		}
	}
	var access []*group
	if a := e.Attribute("REGISTER_ACCESS"); a != nil {
		if access, err = parseGroups("REGISTER_ACCESS", a.Value.Text()); err != nil {
			return nil, err
		}
	}

	lengths := map[string]int{
		RegBypass:   1,
		RegDeviceID: 32,
		RegUserCode: 32,
	}
	if d.BoundaryLength > 0 {
		lengths[RegBoundary] = d.BoundaryLength
	}
	selects := map[string]string{}
	for _, g := range access {
		reg := registerName(g.Name)
		if g.Length != nil {
			lengths[reg] = *g.Length
		}
		for _, inst := range g.Items {
			selects[strings.ToUpper(inst)] = reg
		}
	}

	used := map[string]bool{}
	for _, g := range opcodes {
		name := strings.ToUpper(g.Name)
		if len(g.Items) == 0 {
			return nil, fmt.Errorf("bsdl: %s: instruction %s has no opcode", e.Name, name)
		}
		for _, op := range g.Items {
			if len(op) != d.IRLength || strings.Trim(strings.ToUpper(op), "01X") != "" {
				return nil, fmt.Errorf("bsdl: %s: instruction %s: bad opcode %q for %d-bit IR", e.Name, name, op, d.IRLength)
			}
		}
		reg, ok := selects[name]
		if !ok {
			reg = defaultRegister(name)
		}
		if _, known := lengths[reg]; !known {
			return nil, fmt.Errorf("bsdl: %s: instruction %s selects register %s of unknown length", e.Name, name, reg)
		}
		d.Instructions = append(d.Instructions, Instruction{Name: name, Opcodes: g.Items, Register: reg})
		used[reg] = true
	}

	// Registers in a stable order: standard ones first, then as declared.
	for _, reg := range []string{RegBypass, RegDeviceID, RegBoundary, RegUserCode} {
		if used[reg] {
			d.Registers = append(d.Registers, Register{Name: reg, Length: lengths[reg]})
			delete(used, reg)
		}
	}
	for _, g := range access {
		reg := registerName(g.Name)
		if used[reg] {
			d.Registers = append(d.Registers, Register{Name: reg, Length: lengths[reg]})
			delete(used, reg)
		}
	}
	return d, nil
}
