package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display export metrics",
	Long: `Display aggregated metrics derived from the event log.

Metrics include run counts by outcome, studies archived and reconciled,
bytes written, issues by category, and period groups completed or reset.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized")
		}

		sinceTime, err := parseSinceDuration(metricsSince)
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		// Table format.
		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02"))
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Runs:", metrics.Runs)
		fmt.Fprintf(out, "  %-24s %d\n", "  completed:", metrics.RunsCompleted)
		fmt.Fprintf(out, "  %-24s %d\n", "  skipped:", metrics.RunsSkipped)
		fmt.Fprintf(out, "  %-24s %d\n", "  failed:", metrics.RunsFailed)
		fmt.Fprintf(out, "  %-24s %d\n", "Studies archived:", metrics.Archived)
		fmt.Fprintf(out, "  %-24s %d\n", "Studies reconciled:", metrics.Reconciled)
		fmt.Fprintf(out, "  %-24s %d\n", "Files archived:", metrics.FilesArchived)
		fmt.Fprintf(out, "  %-24s %s\n", "Bytes written:", humanize.IBytes(uint64(max(metrics.BytesArchived, 0))))
		fmt.Fprintf(out, "  %-24s %d\n", "Groups completed:", metrics.GroupsCompleted)
		fmt.Fprintf(out, "  %-24s %d\n", "Groups reset:", metrics.GroupsReset)

		if len(metrics.IssuesByCategory) > 0 {
			fmt.Fprintln(out, "\n  Issues by category:")
			categories := make([]string, 0, len(metrics.IssuesByCategory))
			for c := range metrics.IssuesByCategory {
				categories = append(categories, c)
			}
			sort.Strings(categories)
			for _, c := range categories {
				fmt.Fprintf(out, "    %-20s %d\n", c+":", metrics.IssuesByCategory[c])
			}
		}

		if metrics.LastCompletedRun != nil {
			fmt.Fprintf(out, "\n  %-24s %s (%s)\n", "Last completed run:",
				metrics.LastCompletedRun.Format(time.RFC3339), humanize.Time(*metrics.LastCompletedRun))
		}
		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

// parseSinceDuration parses a human-friendly duration string like "7d", "30d",
// or "24h" and returns the corresponding time in the past.
func parseSinceDuration(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if s == "" {
		return now.AddDate(0, 0, -7), nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid day duration %q", s)
		}
		return now.AddDate(0, 0, -days), nil
	}

	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid hour duration %q", s)
		}
		return now.Add(-time.Duration(hours) * time.Hour), nil
	}

	return time.Time{}, fmt.Errorf("unsupported duration format %q (use e.g. 7d, 30d, 24h)", s)
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 30d, 24h)")
	rootCmd.AddCommand(metricsCmd)
}
