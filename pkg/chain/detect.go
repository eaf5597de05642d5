package chain

import (
	"fmt"

	"github.com/OpenTraceLab/jtagcable/internal/bitpack"
	"github.com/OpenTraceLab/jtagcable/pkg/part"
	"github.com/OpenTraceLab/jtagcable/pkg/tap"
)

// MaxIRLength bounds the total instruction register length IRLength can
// measure.
const MaxIRLength = 512

// ReadIDCodes resets the chain and reads up to max device identification
// registers, part 0 first. A part whose register captures a leading 0 is in
// BYPASS and is reported with ID 0. Reading stops at the all-ones pattern
// that follows the last part.
func (ch *Chain) ReadIDCodes(max int) ([]uint32, error) {
	if max < 1 {
		return nil, fmt.Errorf("chain: read idcodes: max %d", max)
	}
	if err := ch.Reset(); err != nil {
		return nil, err
	}
	in := make([]bool, 32*(max+1))
	for i := range in {
		in[i] = true
	}
	out, err := ch.scan(tap.ShiftDR, in, true)
	if err != nil {
		return nil, fmt.Errorf("chain: read idcodes: %w", err)
	}
	var ids []uint32
	for i := 0; len(ids) < max && i < len(out); {
		if !out[i] {
			ids = append(ids, 0)
			i++
			continue
		}
		if i+32 > len(out) {
			break
		}
		id := uint32(bitpack.ToUint(out[i : i+32]))
		if id == 0xFFFFFFFF {
			break
		}
		ids = append(ids, id)
		i += 32
	}
	ch.log.Debug("idcodes read", "count", len(ids))
	return ids, nil
}

// IRLength measures the summed instruction register length of the chain.
// It leaves every part in BYPASS.
func (ch *Chain) IRLength() (int, error) {
	in := make([]bool, 2*MaxIRLength)
	for i := MaxIRLength; i < len(in); i++ {
		in[i] = true
	}
	out, err := ch.scan(tap.ShiftIR, in, true)
	if err != nil {
		return 0, fmt.Errorf("chain: measure ir: %w", err)
	}
	for i, p := range ch.parts {
		ch.loaded[i] = p.Instruction(part.BypassInstruction)
	}
	for i := MaxIRLength; i < len(out); i++ {
		if out[i] {
			if i == MaxIRLength {
				return 0, fmt.Errorf("chain: measure ir: TDO stuck high or chain empty")
			}
			return i - MaxIRLength, nil
		}
	}
	return 0, fmt.Errorf("chain: measure ir: no ones returned after %d bits", MaxIRLength)
}

// Detect reads the IDCODEs of up to max parts and builds the part list.
// Parts are described from repo where it has a match. At most one part may
// lack a description: its IR length is what remains of the measured total.
func (ch *Chain) Detect(max int, repo part.Repository) ([]*part.Part, error) {
	ids, err := ch.ReadIDCodes(max)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("chain: detect: no parts found")
	}
	total, err := ch.IRLength()
	if err != nil {
		return nil, err
	}

	parts := make([]*part.Part, len(ids))
	unknown, known := -1, 0
	for i, id := range ids {
		if repo != nil && id != 0 {
			if d, err := repo.Lookup(id); err == nil {
				p, err := part.FromBSDL(d)
				if err != nil {
					return nil, fmt.Errorf("chain: detect: part %d: %w", i, err)
				}
				p.ID = id
				parts[i] = p
				known += p.IRLength
				continue
			}
		}
		if unknown >= 0 {
			return nil, fmt.Errorf("chain: detect: parts %d and %d have no description, cannot split %d IR bits", unknown, i, total)
		}
		unknown = i
	}
	if unknown >= 0 {
		p, err := part.New(fmt.Sprintf("unknown-%08x", ids[unknown]), total-known)
		if err != nil {
			return nil, fmt.Errorf("chain: detect: %d IR bits measured, %d described: %w", total, known, err)
		}
		p.ID = ids[unknown]
		parts[unknown] = p
	} else if known != total {
		return nil, fmt.Errorf("chain: detect: descriptions give %d IR bits, chain has %d", known, total)
	}

	ch.SetParts(parts)
	for i, p := range parts {
		ch.loaded[i] = p.Instruction(part.BypassInstruction)
		ch.log.Info("part detected", "index", i, "name", p.Name, "idcode", fmt.Sprintf("%#08x", p.ID), "irlen", p.IRLength)
	}
	return parts, nil
}
