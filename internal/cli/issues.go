package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

var (
	issuesCategory string
	issuesUID      string
	issuesJSON     bool
	retryNote      string
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Inspect and resolve studies that need operator attention",
}

var issuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rows of issues.csv",
	Long: `List recorded issues, oldest first. Categories are NO_FILES (no image file
could be found on disk), ZIP_FAIL (the archive failed validation three times),
INCOMING_OVER_LIMIT (a run was skipped) and RETRY_REQUESTED (operator re-queue).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Issues == nil {
			return fmt.Errorf("issue log not initialized")
		}
		filter := models.IssueFilter{
			Category: models.IssueCategory(strings.ToUpper(strings.TrimSpace(issuesCategory))),
			UID:      strings.TrimSpace(issuesUID),
		}
		issues, err := Issues.List(filter)
		if err != nil {
			return fmt.Errorf("listing issues: %w", err)
		}

		out := cmd.OutOrStdout()
		if issuesJSON {
			data, err := json.MarshalIndent(issues, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting issues as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		if len(issues) == 0 {
			fmt.Fprintln(out, "No issues recorded.")
			return nil
		}
		for _, is := range issues {
			style := issueStyle
			if is.Category == models.IssueRetryRequested {
				style = retryStyle
			}
			uid := is.UID
			if uid == "" {
				uid = "-"
			}
			fmt.Fprintf(out, "%s  %-22s %s\n", is.Time.Local().Format(time.DateTime), style.Render(string(is.Category)), uid)
			if is.Detail != "" {
				fmt.Fprintf(out, "    %s\n", is.Detail)
			}
			if len(is.Extra) > 0 {
				extra, _ := json.Marshal(is.Extra)
				fmt.Fprintf(out, "    %s\n", dimStyle.Render(string(extra)))
			}
		}
		return nil
	},
}

var issuesRetryCmd = &cobra.Command{
	Use:   "retry <uid>...",
	Short: "Make flagged studies eligible for export again",
	Long: `Append a RETRY_REQUESTED row for each study so the next run selects it again.
Only studies with an open NO_FILES or ZIP_FAIL issue can be retried.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Issues == nil {
			return fmt.Errorf("issue log not initialized")
		}
		for _, uid := range args {
			if err := Issues.RequestRetry(uid, retryNote); err != nil {
				return fmt.Errorf("requesting retry: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s for the next run.\n", uid)
		}
		return nil
	},
}

func init() {
	issuesListCmd.Flags().StringVar(&issuesCategory, "category", "", "only show this category (e.g. ZIP_FAIL)")
	issuesListCmd.Flags().StringVar(&issuesUID, "uid", "", "only show rows for this study UID")
	issuesListCmd.Flags().BoolVar(&issuesJSON, "json", false, "output as JSON")
	issuesRetryCmd.Flags().StringVar(&retryNote, "note", "", "detail recorded with the retry request")

	issuesCmd.AddCommand(issuesListCmd)
	issuesCmd.AddCommand(issuesRetryCmd)
	rootCmd.AddCommand(issuesCmd)
}
