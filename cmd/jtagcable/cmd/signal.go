package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagcable/pkg/cable"
)

var signalCmd = &cobra.Command{
	Use:   "signal [NAME=0|1 ...]",
	Short: "Set cable signals and print the signal vector",
	Long: `Drive the named lines (TCK, TMS, TDI, TRST, RESET or SRST) and print the
resulting signal vector. TRST and RESET are active low: TRST=0 asserts
test reset.

Examples:
  jtagcable signal
  jtagcable signal TRST=0 RESET=0`,
	RunE: runSignal,
}

func init() {
	rootCmd.AddCommand(signalCmd)
}

func parseAssignments(args []string) (mask, val cable.Signal, err error) {
	for _, arg := range args {
		name, level, ok := strings.Cut(arg, "=")
		if !ok {
			return 0, 0, fmt.Errorf("signal: %q is not NAME=0|1", arg)
		}
		sig, err := cable.ParseSignal(name)
		if err != nil {
			return 0, 0, err
		}
		switch level {
		case "0":
		case "1":
			val |= sig
		default:
			return 0, 0, fmt.Errorf("signal: level %q for %s, want 0 or 1", level, name)
		}
		mask |= sig
	}
	return mask, val, nil
}

func runSignal(cmd *cobra.Command, args []string) error {
	mask, val, err := parseAssignments(args)
	if err != nil {
		return err
	}
	c, err := openCable()
	if err != nil {
		return err
	}
	defer c.Free()

	out := cmd.OutOrStdout()
	if mask != 0 {
		prev, err := c.SetSignal(mask, val)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "previous: %s\n", prev)
	}
	now, err := c.GetSignal(cable.SignalAll)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "signals: %s\n", now)
	return nil
}
