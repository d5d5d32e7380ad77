package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage the catalog snapshot copy",
}

var snapshotRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the consistent catalog copy now",
	Long: `Rebuild .tmp/dbcopy/Database_copy.sql from the live Horos catalog. This is
useful with snapshot_policy "reuse", where runs keep an existing copy. The
PACS volume is verified and the run lock is held while copying.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if RefreshSnapshot == nil {
			return fmt.Errorf("catalog not initialized")
		}
		snap, err := RefreshSnapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("refreshing snapshot: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s at %s\n", snap.Path, snap.CreatedAt.Local().Format(time.DateTime))
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotRefreshCmd)
	rootCmd.AddCommand(snapshotCmd)
}
