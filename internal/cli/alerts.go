package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	alertsJSON     bool
	alertsExitCode bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show active alerts and warnings",
	Long: `Evaluate alert conditions against the event log and display any triggered alerts.

Alerts check for a stale backup, consecutive failed or skipped runs, and a
burst of export issues. With --exit-code the command fails when any alert is
active, which suits monitoring scripts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if AlertEngine == nil {
			return fmt.Errorf("alert engine not initialized")
		}

		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			return fmt.Errorf("evaluating alerts: %w", err)
		}

		out := cmd.OutOrStdout()
		if alertsJSON {
			data, err := json.MarshalIndent(alerts, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting alerts as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
		} else if len(alerts) == 0 {
			fmt.Fprintln(out, "No active alerts.")
		} else {
			fmt.Fprintf(out, "%d active alert(s):\n\n", len(alerts))
			for _, alert := range alerts {
				severity := strings.ToUpper(string(alert.Severity))
				fmt.Fprintf(out, "  %s %s\n", severityStyle(alert.Severity).Render("["+severity+"]"), alert.Message)
				fmt.Fprintf(out, "         %s\n\n", dimStyle.Render(alert.Condition+" at "+alert.TriggeredAt.Format("2006-01-02 15:04 UTC")))
			}
		}

		if alertsExitCode && len(alerts) > 0 {
			return fmt.Errorf("%d active alert(s)", len(alerts))
		}
		return nil
	},
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsJSON, "json", false, "Output alerts as JSON")
	alertsCmd.Flags().BoolVar(&alertsExitCode, "exit-code", false, "Exit non-zero when any alert is active")
	rootCmd.AddCommand(alertsCmd)
}
