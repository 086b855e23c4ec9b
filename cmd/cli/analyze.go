package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/ipprism/internal/analysis"
	"github.com/anstrom/ipprism/internal/config"
	"github.com/anstrom/ipprism/internal/errors"
	"github.com/anstrom/ipprism/internal/extract"
	"github.com/anstrom/ipprism/internal/freshness"
)

var (
	analyzeDescription string
	analyzeSource      string
	analyzeTTLHours    int
	analyzeDryRun      bool
)

// analyzeCmd represents the analyze command.
var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE",
	Short: "Analyse every IPv4 address found in a file",
	Long: `Extract every IPv4 address from FILE and classify it. Addresses whose
stored classification is younger than the cache TTL are reused; the rest are
queried. All addresses are linked to a new batch named after the file.

Press Ctrl-C to stop early: no new lookups start, and the batch keeps what
finished before the interrupt.`,
	Example: `  ipprism analyze /var/log/nginx/access.log
  ipprism analyze blocked.txt --description "firewall drops, week 12"
  ipprism analyze blocked.txt --ttl-hours 0
  ipprism analyze blocked.txt --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeDescription, "description", "d", "", "Batch description")
	analyzeCmd.Flags().StringVar(&analyzeSource, "source", "", "Batch source name (default: the file name)")
	analyzeCmd.Flags().IntVar(&analyzeTTLHours, "ttl-hours", config.DefaultCacheTTLHours,
		"Reuse classifications younger than this many hours (0 re-queries everything)")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "Only report which addresses would be queried")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]

	set, err := extract.FromFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	addresses := extract.Sorted(set)
	if len(addresses) == 0 {
		return fmt.Errorf("no IPv4 addresses found in %s", path)
	}

	var overrides []func(*config.Config)
	if cmd.Flags().Changed("ttl-hours") {
		if _, err := freshness.TTLFromHours(analyzeTTLHours); err != nil {
			return err
		}
		overrides = append(overrides, func(cfg *config.Config) {
			cfg.Analysis.CacheTTLHours = analyzeTTLHours
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, !analyzeDryRun, overrides...)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	if analyzeDryRun {
		plan, err := a.engine.Plan(ctx, addresses)
		if err != nil {
			return err
		}
		printPlan(out, plan)
		return nil
	}

	source := analyzeSource
	if source == "" {
		source = filepath.Base(path)
	}

	_, _ = fmt.Fprintf(out, "Analysing %d addresses from %s\n", len(addresses), path)

	sink := newProgressSink(out)
	outcome, err := a.engine.Run(ctx, analysis.Request{
		Addresses:   addresses,
		SourceName:  source,
		Description: analyzeDescription,
	}, sink)
	sink.Close()

	if err != nil {
		if errors.IsCode(err, errors.CodeConfiguration) {
			return fmt.Errorf("%w: set IPPRISM_PRIMARY_API_KEY or reputation.primary.api_key", err)
		}
		return err
	}

	printOutcome(out, outcome)
	switch outcome.Status {
	case analysis.StatusCancelled:
		_, _ = fmt.Fprintln(out, "Interrupted: the batch holds the results that finished before cancellation.")
	case analysis.StatusHalted:
		return fmt.Errorf("analysis halted after a fatal error: %s", outcome.HaltReason)
	}
	return nil
}
