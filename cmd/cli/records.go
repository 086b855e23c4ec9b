package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/ipprism/internal/db"
)

var (
	annotateTags  string
	annotateNotes string
)

// recordsCmd groups record-level operations.
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage stored address records",
}

var recordsAnnotateCmd = &cobra.Command{
	Use:   "annotate ID",
	Short: "Set the tags and notes of a record",
	Long: `Replace the free-form tags and notes of a record. Flags that are not
given are stored as empty.`,
	Example: `  ipprism records annotate 42 --tags "scanner,tor" --notes "seen on edge-2"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withGateway(cmd.Context(), func(ctx context.Context, gateway *db.Gateway) error {
			if err := gateway.UpdateAnnotations(ctx, ids[0], annotateTags, annotateNotes); err != nil {
				return fmt.Errorf("failed to annotate record %d: %w", ids[0], err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated record %d\n", ids[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsAnnotateCmd)

	recordsAnnotateCmd.Flags().StringVar(&annotateTags, "tags", "", "Comma-separated tags")
	recordsAnnotateCmd.Flags().StringVar(&annotateNotes, "notes", "", "Free-form notes")
}
