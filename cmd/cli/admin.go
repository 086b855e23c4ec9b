package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/ipprism/internal/db"
)

var (
	purgeConfirmed bool
	migrateStatus  bool
)

// statsCmd represents the stats command.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dashboard statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(cmd.Context(), func(ctx context.Context, gateway *db.Gateway) error {
			stats, err := gateway.DashboardStats(ctx)
			if err != nil {
				return fmt.Errorf("failed to load statistics: %w", err)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		})
	},
}

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply every pending schema migration. Commands that analyse addresses
migrate automatically; run this to prepare a database ahead of time.

Migrating refuses to continue when a script applied earlier has since been
edited. Use --status to see which scripts are applied.`,
	Example: `  ipprism migrate
  ipprism migrate --status`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(cmd.Context(), func(ctx context.Context, gateway *db.Gateway) error {
			if migrateStatus {
				statuses, err := gateway.MigrationStatus(ctx)
				if err != nil {
					return fmt.Errorf("failed to read migration status: %w", err)
				}
				printMigrations(cmd.OutOrStdout(), statuses)
				return nil
			}
			if err := gateway.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
			return nil
		})
	},
}

// purgeCmd represents the purge command.
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every record and batch",
	Long:  `Delete every stored record, batch and link. This cannot be undone.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !purgeConfirmed {
			return fmt.Errorf("refusing to purge without --yes")
		}
		return withGateway(cmd.Context(), func(ctx context.Context, gateway *db.Gateway) error {
			if err := gateway.Purge(ctx); err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "All records and batches deleted")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(purgeCmd)

	purgeCmd.Flags().BoolVar(&purgeConfirmed, "yes", false, "Confirm deleting all data")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "List migrations instead of applying them")
}
