package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagcable/pkg/cable"
)

var cablesCmd = &cobra.Command{
	Use:   "cables",
	Short: "List the supported cable drivers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-10s %-6s %-9s %s\n", "NAME", "KIND", "USB ID", "DESCRIPTION")
		for _, spec := range cable.Drivers() {
			usb := "-"
			if spec.Kind == cable.DeviceUSB {
				usb = fmt.Sprintf("%04x:%04x", spec.VendorID, spec.ProductID)
			}
			fmt.Fprintf(out, "%-10s %-6s %-9s %s\n", spec.Name, spec.Kind, usb, spec.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cablesCmd)
}
