package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	shiftPart        int
	shiftInstruction string
	shiftRegister    string
	shiftIn          string
)

var shiftCmd = &cobra.Command{
	Use:   "shift",
	Short: "Load an instruction and shift its data register",
	Long: `Detect the chain using the given BSDL files, load an instruction into one
part (the others get BYPASS) and shift the selected data register. The
captured value is printed.

--in takes a number (0x, 0o and 0b prefixes accepted) or, prefixed with
"bits:", an MSB-first bit string covering the whole register.

Examples:
  jtagcable shift --bsdl part.bsd --instruction IDCODE
  jtagcable shift --bsdl a.bsd --bsdl b.bsd --part 1 --instruction SAMPLE --in 0`,
	Args: cobra.NoArgs,
	RunE: runShift,
}

func init() {
	rootCmd.AddCommand(shiftCmd)

	shiftCmd.Flags().IntVar(&shiftPart, "part", 0, "part index, 0 nearest TDO")
	shiftCmd.Flags().StringVarP(&shiftInstruction, "instruction", "i", "", "instruction to load")
	shiftCmd.Flags().StringVarP(&shiftRegister, "register", "r", "", "data register (default: the one the instruction selects)")
	shiftCmd.Flags().StringVar(&shiftIn, "in", "", "value to shift in")
	shiftCmd.Flags().IntVarP(&maxParts, "parts", "n", 8, "maximum number of parts to read")
	addBSDLFlags(shiftCmd)
	shiftCmd.MarkFlagRequired("instruction")
}

func runShift(cmd *cobra.Command, args []string) error {
	repo, err := loadRepository()
	if err != nil {
		return err
	}
	ch, err := openChain()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.Detect(maxParts, repo); err != nil {
		return err
	}
	if err := ch.SetActive(shiftPart); err != nil {
		return err
	}
	p, _ := ch.ActivePart()
	inst := p.Instruction(shiftInstruction)
	if inst == nil {
		return fmt.Errorf("shift: part %s has no instruction %s", p.Name, shiftInstruction)
	}
	reg := shiftRegister
	if reg == "" {
		reg = inst.Register.Name
	}
	h, err := ch.Register(shiftPart, reg, inst.Name)
	if err != nil {
		return err
	}

	if shiftIn != "" {
		if bits, ok := strings.CutPrefix(shiftIn, "bits:"); ok {
			err = h.SetInString(bits)
		} else {
			var v uint64
			if v, err = strconv.ParseUint(shiftIn, 0, 64); err == nil {
				if h.Len() > 64 {
					err = h.SetInValue(v, 63, 0)
				} else {
					err = h.SetInValue(v)
				}
			}
		}
		if err != nil {
			return fmt.Errorf("shift: --in: %w", err)
		}
	}

	if err := h.ShiftDR(""); err != nil {
		return err
	}
	bits, err := h.OutString()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s[%d] via %s\n", p.Name, h.Name(), h.Len(), inst.Name)
	fmt.Fprintf(out, "  out: %s\n", bits)
	if h.Len() <= 64 {
		v, _ := h.OutValue()
		fmt.Fprintf(out, "  value: %#x\n", v)
	}
	return nil
}
