package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagcable/pkg/cable"
	_ "github.com/OpenTraceLab/jtagcable/pkg/cable/anlogic"
	_ "github.com/OpenTraceLab/jtagcable/pkg/cable/cmsisdap"
	_ "github.com/OpenTraceLab/jtagcable/pkg/cable/dirtyjtag"
	_ "github.com/OpenTraceLab/jtagcable/pkg/cable/gpio"
	_ "github.com/OpenTraceLab/jtagcable/pkg/cable/sim"
	"github.com/OpenTraceLab/jtagcable/pkg/chain"
)

var (
	// Global flags
	verbose   bool
	cableName string
	params    []string
	frequency uint32

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "jtagcable",
	Short: "Drive JTAG cables and chains",
	Long: `Talk to a JTAG chain through one of the supported cables: detect the
parts on it, toggle signals, pulse the clock and shift registers described
by BSDL files.

Examples:
  jtagcable cables
  jtagcable detect --param ids=0x4ba00477,0x06413041
  jtagcable --cable DirtyJTAG --frequency 1000000 detect
  jtagcable --cable GPIO -p tdi=4 -p tdo=17 -p tms=27 -p tck=22 detect
  jtagcable shift --bsdl part.bsd --instruction IDCODE`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.StringVarP(&cableName, "cable", "c", "sim", "cable driver (see 'jtagcable cables')")
	pf.StringArrayVarP(&params, "param", "p", nil, "driver parameter key=value (repeatable)")
	pf.Uint32VarP(&frequency, "frequency", "f", 0, "TCK frequency in Hz (0 keeps the driver default)")
}

// openCable connects and initialises the cable selected by the global flags.
func openCable() (*cable.Cable, error) {
	p, err := cable.ParseParams(params)
	if err != nil {
		return nil, err
	}
	c, err := cable.Connect(cableName, p, cable.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := c.Init(); err != nil {
		c.Free()
		return nil, err
	}
	if frequency > 0 {
		if err := c.SetFrequency(frequency); err != nil {
			c.Free()
			return nil, err
		}
	}
	return c, nil
}

// openChain wraps openCable in a chain. Closing the chain frees the cable.
func openChain() (*chain.Chain, error) {
	c, err := openCable()
	if err != nil {
		return nil, err
	}
	return chain.New(c, chain.WithLogger(logger)), nil
}
