package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ThalesMMS/Horos-Backup-Script/internal/core"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Export one batch of studies and exit",
	Long: `Run a single export cycle: verify the PACS volume, take the run lock, refresh
the catalog snapshot, discard an unfinished latest month, then archive up to
export.batch_size studies that are neither exported nor flagged.

Exit status is 0 when the cycle completed, 75 when it was skipped because the
Horos import folder is busy, and 1 on a fatal error. SIGINT and SIGTERM stop
the run between studies; the next run resumes where it left off.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Coordinator == nil {
			return fmt.Errorf("run coordinator not initialized")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := Coordinator.Run(ctx)
		if report != nil {
			printRunReport(cmd, report)
		}
		if err != nil {
			return err
		}
		if report != nil && report.Status == core.RunSkipped {
			return fmt.Errorf("%w: %d files waiting in the import folder", ErrRunSkipped, report.IncomingCount)
		}
		return nil
	},
}

func printRunReport(cmd *cobra.Command, r *core.RunReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s %s", r.RunID, r.Status)
	if r.Status == core.RunSkipped {
		fmt.Fprintf(out, " (incoming=%d)\n", r.IncomingCount)
		return
	}
	fmt.Fprintf(out, ": selected=%d archived=%d reconciled=%d no_files=%d failed=%d",
		r.Selected, r.Archived, r.Reconciled, r.NoFiles, r.Failed)
	if len(r.GroupsCompleted) > 0 {
		fmt.Fprintf(out, " groups_completed=%v", r.GroupsCompleted)
	}
	fmt.Fprintln(out)
}

func init() {
	rootCmd.AddCommand(runCmd)
}
