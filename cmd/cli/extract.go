package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/ipprism/internal/extract"
)

var extractCount bool

// extractCmd prints the addresses analyze would use, without touching the
// database or the network.
var extractCmd = &cobra.Command{
	Use:   "extract FILE",
	Short: "Print the unique IPv4 addresses found in a file",
	Example: `  ipprism extract access.log
  ipprism extract - < access.log
  ipprism extract access.log --count`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			set extract.Set
			err error
		)
		if args[0] == "-" {
			set, err = extract.FromReader(cmd.InOrStdin())
		} else {
			set, err = extract.FromFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		if extractCount {
			_, _ = fmt.Fprintln(out, len(set))
			return nil
		}
		for _, address := range extract.Sorted(set) {
			_, _ = fmt.Fprintln(out, address)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().BoolVarP(&extractCount, "count", "c", false, "Only print the number of addresses")
}
