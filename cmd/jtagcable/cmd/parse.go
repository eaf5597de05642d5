package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagcable/pkg/bsdl"
	"github.com/OpenTraceLab/jtagcable/pkg/idcode"
)

var showAttributes bool

var parseCmd = &cobra.Command{
	Use:   "parse <bsdl-file>",
	Short: "Parse a BSDL file and show what the chain would use",
	Long: `Parse a BSDL file and display the instruction register length, the
IDCODE pattern, the instructions with their opcodes and the data registers
they select.

Examples:
  jtagcable parse device.bsd
  jtagcable parse --attributes device.bsd`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().BoolVarP(&showAttributes, "attributes", "a", false,
		"list every attribute found in the entity")
}

func runParse(cmd *cobra.Command, args []string) error {
	d, err := bsdl.ParseFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Entity: %s\n", d.Entity)
	fmt.Fprintf(out, "  IR Length:       %d bits\n", d.IRLength)
	if d.IRCapture != "" {
		fmt.Fprintf(out, "  IR Capture:      %s\n", d.IRCapture)
	}
	fmt.Fprintf(out, "  Boundary Length: %d bits\n", d.BoundaryLength)
	if d.IDCode != "" {
		fmt.Fprintf(out, "  IDCODE:          %s", d.IDCode)
		if !strings.ContainsAny(d.IDCode, "xX") {
			var raw uint32
			for _, c := range d.IDCode {
				raw = raw<<1 | uint32(c-'0')
			}
			if id, err := idcode.Decode(raw); err == nil {
				fmt.Fprintf(out, " %s", id)
			}
		}
		fmt.Fprintln(out)
	}
	if d.UserCode != "" {
		fmt.Fprintf(out, "  USERCODE:        %s\n", d.UserCode)
	}

	fmt.Fprintf(out, "\nInstructions: %d\n", len(d.Instructions))
	for _, in := range d.Instructions {
		fmt.Fprintf(out, "  %-16s %-24s -> %s\n", in.Name, strings.Join(in.Opcodes, ","), in.Register)
	}

	fmt.Fprintf(out, "\nRegisters: %d\n", len(d.Registers))
	for _, r := range d.Registers {
		fmt.Fprintf(out, "  %-16s %d bits\n", r.Name, r.Length)
	}

	if showAttributes {
		r, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer r.Close()
		f, err := bsdl.ParseSyntax(args[0], r)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nAttributes:\n")
		for _, a := range f.Entity.Attributes() {
			fmt.Fprintf(out, "  %s\n", a.Name)
		}
	}
	return nil
}
