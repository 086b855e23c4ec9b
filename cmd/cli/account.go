package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/ipprism/internal/metrics"
)

const accountTimeout = 15 * time.Second

// accountCmd represents the account command.
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show the primary service's account usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), accountTimeout)
		defer cancel()

		c := newClients(ctx, cfg, metrics.Noop{}, false)
		if !c.primary.Configured() {
			return fmt.Errorf("primary service key not configured: set IPPRISM_PRIMARY_API_KEY or reputation.primary.api_key")
		}

		status, err := c.primary.AccountStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch account status: %w", err)
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Credits remaining:  %d\n", status.CreditsRemaining)
		_, _ = fmt.Fprintf(out, "Requests:           %d\n", status.Requests)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
}
