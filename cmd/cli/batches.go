package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/anstrom/ipprism/internal/db"
)

// batchesCmd represents the batches command.
var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List and inspect analysis batches",
	Long: `Every analysis creates a batch linking the addresses it covered. Without a
subcommand, list all batches newest first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(cmd.Context(), func(ctx context.Context, gateway *db.Gateway) error {
			batches, err := gateway.ListBatches(ctx)
			if err != nil {
				return fmt.Errorf("failed to list batches: %w", err)
			}
			printBatches(cmd.OutOrStdout(), batches)
			return nil
		})
	},
}

var batchesShowCmd = &cobra.Command{
	Use:     "show ID [ID...]",
	Short:   "Show the records linked to one or more batches",
	Example: "  ipprism batches show 12\n  ipprism batches show 12 13 14",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withGateway(cmd.Context(), func(ctx context.Context, gateway *db.Gateway) error {
			records, err := gateway.RecordsByBatches(ctx, ids)
			if err != nil {
				return fmt.Errorf("failed to load records: %w", err)
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		})
	},
}

var batchesDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a batch",
	Long:  `Delete a batch and its links. The records themselves are kept.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withGateway(cmd.Context(), func(ctx context.Context, gateway *db.Gateway) error {
			if err := gateway.DeleteBatch(ctx, ids[0]); err != nil {
				return fmt.Errorf("failed to delete batch %d: %w", ids[0], err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted batch %d\n", ids[0])
			return nil
		})
	},
}

var batchesRecurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Show addresses of the newest batch that were seen before",
	Long: `List the records of the newest batch that were already linked to an
earlier batch, highest score first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(cmd.Context(), func(ctx context.Context, gateway *db.Gateway) error {
			rec, err := gateway.RecurringAddresses(ctx)
			if err != nil {
				return fmt.Errorf("failed to load recurring addresses: %w", err)
			}
			printRecurrence(cmd.OutOrStdout(), rec)
			return nil
		})
	},
}

var batchesCompareCmd = &cobra.Command{
	Use:   "compare ID ID [ID...]",
	Short: "Compare the addresses of two or more batches",
	Long: `List every address linked to any of the given batches with the number of
those batches it appears in. Addresses seen in every batch come first.`,
	Example: "  ipprism batches compare 12 13\n  ipprism batches compare 12 13 14",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withGateway(cmd.Context(), func(ctx context.Context, gateway *db.Gateway) error {
			rows, err := gateway.CompareBatches(ctx, ids)
			if err != nil {
				return fmt.Errorf("failed to compare batches: %w", err)
			}
			printComparison(cmd.OutOrStdout(), rows, len(distinct(ids)))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(batchesCmd)
	batchesCmd.AddCommand(batchesShowCmd)
	batchesCmd.AddCommand(batchesDeleteCmd)
	batchesCmd.AddCommand(batchesRecurringCmd)
	batchesCmd.AddCommand(batchesCompareCmd)
}

func distinct(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// parseIDs parses positive integer identifiers.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid ID %q: must be a positive integer", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
