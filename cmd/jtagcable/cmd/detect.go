package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/jtagcable/pkg/idcode"
	"github.com/OpenTraceLab/jtagcable/pkg/part"
)

var (
	maxParts  int
	bsdlFiles []string
	bsdlDir   string
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Reset the chain and list the parts on it",
	Long: `Reset the chain, read the device identification register of every part
and measure the total instruction register length. Parts whose IDCODE
matches a loaded BSDL file are shown with their entity name.

Examples:
  jtagcable detect --param ids=0x4ba00477,0,0x06413041
  jtagcable --cable DirtyJTAG detect --bsdl-dir /usr/share/bsdl`,
	Args: cobra.NoArgs,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().IntVarP(&maxParts, "parts", "n", 8, "maximum number of parts to read")
	addBSDLFlags(detectCmd)
}

func addBSDLFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&bsdlFiles, "bsdl", "b", nil, "BSDL file describing a part (repeatable)")
	cmd.Flags().StringVar(&bsdlDir, "bsdl-dir", "", "directory searched recursively for BSDL files")
}

func loadRepository() (*part.MemoryRepository, error) {
	repo := part.NewMemoryRepository()
	if err := repo.LoadFiles(bsdlFiles...); err != nil {
		return nil, err
	}
	if bsdlDir != "" {
		if err := repo.LoadDir(bsdlDir); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	repo, err := loadRepository()
	if err != nil {
		return err
	}
	ch, err := openChain()
	if err != nil {
		return err
	}
	defer ch.Close()

	ids, err := ch.ReadIDCodes(maxParts)
	if err != nil {
		return err
	}
	irLen, err := ch.IRLength()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Found %d part(s), total IR length %d\n", len(ids), irLen)
	for i, raw := range ids {
		if raw == 0 {
			fmt.Fprintf(out, "  %d: no IDCODE (BYPASS selected)\n", i)
			continue
		}
		id, err := idcode.Decode(raw)
		if err != nil {
			fmt.Fprintf(out, "  %d: %#08x invalid: %v\n", i, raw, err)
			continue
		}
		name := ""
		if d, err := repo.Lookup(raw); err == nil {
			name = " " + d.Entity
		}
		fmt.Fprintf(out, "  %d: %s%s\n", i, id, name)
	}
	return nil
}
