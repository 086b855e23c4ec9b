package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/ipprism/internal/analysis"
	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/reputation"
)

const timeLayout = "2006-01-02 15:04"

// formatEvent renders one progress event as a single line.
func formatEvent(ev analysis.Event) string {
	switch ev.Kind {
	case analysis.EventError:
		return fmt.Sprintf("%-10s %-15s %s", ev.Kind, ev.Address, ev.Message)
	default:
		country := ev.Country
		if country == "" {
			country = reputation.NotAvailable
		}
		return fmt.Sprintf("%-10s %-15s score=%-3d country=%-3s pulses=%s",
			ev.Kind, ev.Address, ev.Score, country, ev.Pulses)
	}
}

// newProgressSink prints every event to w from a single goroutine, so
// lines never interleave. Close it before printing the summary.
func newProgressSink(w io.Writer) *analysis.BufferedSink {
	return analysis.NewBufferedSink(func(ev analysis.Event) {
		_, _ = fmt.Fprintln(w, formatEvent(ev))
	})
}

// printOutcome writes the run summary.
func printOutcome(w io.Writer, outcome *analysis.Outcome) {
	_, _ = fmt.Fprintf(w, "\nBatch %d %s in %s\n", outcome.BatchID, outcome.Status, outcome.Duration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Addresses:  %d\n", outcome.Total)
	_, _ = fmt.Fprintf(w, "  Cached:     %d\n", outcome.Cached)
	_, _ = fmt.Fprintf(w, "  Classified: %d\n", outcome.Classified)
	_, _ = fmt.Fprintf(w, "  Errors:     %d\n", outcome.Errored+outcome.Faulted)
	if outcome.Abandoned > 0 {
		_, _ = fmt.Fprintf(w, "  Abandoned:  %d\n", outcome.Abandoned)
	}
	_, _ = fmt.Fprintf(w, "  Linked:     %d\n", len(outcome.Linked))
	if outcome.HaltReason != "" {
		_, _ = fmt.Fprintf(w, "  Halted:     %s\n", outcome.HaltReason)
	}
}

// printPlan writes the freshness split of a dry run.
func printPlan(w io.Writer, plan *analysis.Plan) {
	_, _ = fmt.Fprintf(w, "Addresses:    %d\n", plan.Total())
	_, _ = fmt.Fprintf(w, "Fresh:        %d\n", len(plan.Fresh))
	_, _ = fmt.Fprintf(w, "Need lookup:  %d\n", len(plan.NeedsQuery))
	for _, item := range plan.NeedsQuery {
		_, _ = fmt.Fprintf(w, "  %-15s %s\n", item.Address, item.State)
	}
}

// printBatches displays batches in a table format.
func printBatches(w io.Writer, batches []db.Batch) {
	if len(batches) == 0 {
		_, _ = fmt.Fprintln(w, "No batches found")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Created", "Source", "Records", "Description")
	for i := range batches {
		b := &batches[i]
		_ = table.Append([]string{
			strconv.FormatInt(b.ID, 10),
			b.CreatedAt.Local().Format(timeLayout),
			b.SourceName,
			strconv.Itoa(b.RecordCount),
			truncate(b.Description, 48),
		})
	}
	_ = table.Render()
}

// printRecords displays records in a table format.
func printRecords(w io.Writer, records []db.IPRecord) {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "No records found")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Address", "Score", "Malicious", "Country", "ISP", "Pulses", "Tags", "Last Check")
	for i := range records {
		r := &records[i]
		_ = table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.Address,
			intOr(r.Score, "-"),
			boolOr(r.Malicious, "-"),
			strOr(r.Country, "-"),
			truncate(strOr(r.ISP, "-"), 24),
			reputation.PulsesFromSentinel(r.Pulses).String(),
			strOr(r.Tags, ""),
			strOr(r.LastCheck, "never"),
		})
	}
	_ = table.Render()
}

// printRecurrence displays the recurring records of the newest batch.
func printRecurrence(w io.Writer, rec *db.Recurrence) {
	if rec.BatchID == 0 {
		_, _ = fmt.Fprintln(w, "No batches found")
		return
	}
	if len(rec.Records) == 0 {
		_, _ = fmt.Fprintf(w, "No address in batch %d was seen in an earlier batch\n", rec.BatchID)
		return
	}
	_, _ = fmt.Fprintf(w, "%d addresses in batch %d were seen before\n", len(rec.Records), rec.BatchID)
	printRecords(w, rec.Records)
}

// printComparison displays a batch comparison; batches is the number of
// distinct batches compared.
func printComparison(w io.Writer, rows []db.ComparisonRow, batches int) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "No records found")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Address", "Seen In", "Batches", "Score", "Country", "ISP", "Pulses")
	for i := range rows {
		r := &rows[i]
		ids := make([]string, len(r.BatchIDs))
		for j, id := range r.BatchIDs {
			ids[j] = strconv.FormatInt(id, 10)
		}
		_ = table.Append([]string{
			r.Address,
			fmt.Sprintf("%d / %d", r.Appearances, batches),
			strings.Join(ids, ","),
			intOr(r.Score, "-"),
			strOr(r.Country, "-"),
			truncate(strOr(r.ISP, "-"), 24),
			reputation.PulsesFromSentinel(r.Pulses).String(),
		})
	}
	_ = table.Render()
}

// printMigrations displays the schema migration state.
func printMigrations(w io.Writer, statuses []db.MigrationStatus) {
	table := tablewriter.NewWriter(w)
	table.Header("Migration", "State", "Applied")
	for _, st := range statuses {
		state, applied := "pending", "-"
		if st.Applied {
			state = "applied"
			applied = st.AppliedAt.Local().Format(timeLayout)
		}
		if st.Modified {
			state = "modified"
		}
		_ = table.Append([]string{st.Name, state, applied})
	}
	_ = table.Render()
}

// printStats writes the dashboard summary.
func printStats(w io.Writer, stats *db.DashboardStats) {
	top := stats.TopCountry
	if top == "" {
		top = "-"
	}
	last := "never"
	if stats.LastAnalysis != nil {
		last = stats.LastAnalysis.Local().Format(timeLayout)
	}

	_, _ = fmt.Fprintf(w, "Records:                %d\n", stats.TotalRecords)
	_, _ = fmt.Fprintf(w, "Batches:                %d\n", stats.TotalBatches)
	_, _ = fmt.Fprintf(w, "Top malicious country:  %s\n", top)
	_, _ = fmt.Fprintf(w, "Last analysis:          %s\n", last)
}

func intOr(v *int, fallback string) string {
	if v == nil {
		return fallback
	}
	return strconv.Itoa(*v)
}

func boolOr(v *bool, fallback string) string {
	if v == nil {
		return fallback
	}
	if *v {
		return "yes"
	}
	return "no"
}

func strOr(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
