package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	clockTMS   bool
	clockTDI   bool
	clockCount int
)

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Pulse TCK with fixed TMS and TDI, then sample TDO",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if clockCount < 0 {
			return fmt.Errorf("clock: negative count %d", clockCount)
		}
		c, err := openCable()
		if err != nil {
			return err
		}
		defer c.Free()

		if err := c.Clock(clockTMS, clockTDI, clockCount); err != nil {
			return err
		}
		tdo, err := c.GetTDO()
		if err != nil {
			return err
		}
		level := 0
		if tdo {
			level = 1
		}
		fmt.Fprintf(cmd.OutOrStdout(), "TDO=%d after %d pulse(s)\n", level, clockCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clockCmd)

	clockCmd.Flags().BoolVar(&clockTMS, "tms", false, "TMS level")
	clockCmd.Flags().BoolVar(&clockTDI, "tdi", false, "TDI level")
	clockCmd.Flags().IntVarP(&clockCount, "count", "n", 1, "number of pulses")
}
