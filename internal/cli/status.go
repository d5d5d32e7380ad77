package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ThalesMMS/Horos-Backup-Script/internal/core"
	"github.com/ThalesMMS/Horos-Backup-Script/internal/observability"
	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

var statusRecent int

// backupStatus is everything the status command reports. It is gathered
// without writing to the volume.
type backupStatus struct {
	volumeErr error
	exported  []string
	byPeriod  map[models.PeriodKey]int
	recent    []models.ProgressRecord
	blocked   []string
	groups    []core.GroupInfo
	alerts    []observability.Alert
	snapshot  *models.SnapshotHandle
	stats     *models.CatalogStats
	statsErr  error
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show export progress, period groups and open issues",
	Long: `Show how far the export has progressed: studies exported per month, the state
of each YYYY_MM group, studies waiting for operator attention, recent exports,
pending work in the catalog, and any health alerts derived from the event log.

Status only reads. It never creates files on the PACS volume.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Config == nil || Progress == nil || Issues == nil || Groups == nil {
			return fmt.Errorf("services not initialized")
		}
		st, err := gatherStatus(cmd.Context(), Config.Paths.Layout(), statusRecent)
		if err != nil {
			return err
		}
		renderStatus(cmd.OutOrStdout(), st)
		return nil
	},
}

// gatherStatus collects the independent read-only parts concurrently, then
// queries the catalog with the resulting exclusion set.
func gatherStatus(ctx context.Context, layout models.Layout, recent int) (*backupStatus, error) {
	st := &backupStatus{volumeErr: core.VerifyVolume(layout.Sentinel)}

	_, progressErr := os.Stat(layout.ProgressDB)
	haveProgress := progressErr == nil
	if progressErr != nil && !errors.Is(progressErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("checking progress store: %w", progressErr)
	}

	g, gctx := errgroup.WithContext(ctx)
	if haveProgress {
		g.Go(func() error {
			ids, err := Progress.ExportedIDs(gctx)
			if err != nil {
				return fmt.Errorf("reading exported studies: %w", err)
			}
			st.exported = ids
			return nil
		})
		g.Go(func() error {
			byPeriod, err := Progress.CountByPeriod(gctx)
			if err != nil {
				return fmt.Errorf("counting exports by period: %w", err)
			}
			st.byPeriod = byPeriod
			return nil
		})
		g.Go(func() error {
			rec, err := Progress.Recent(gctx, recent)
			if err != nil {
				return fmt.Errorf("reading recent exports: %w", err)
			}
			st.recent = rec
			return nil
		})
	}
	g.Go(func() error {
		ids, err := Issues.BlockedIDs()
		if err != nil {
			return fmt.Errorf("reading issues: %w", err)
		}
		st.blocked = ids
		return nil
	})
	g.Go(func() error {
		groups, err := Groups.Groups()
		if err != nil {
			return fmt.Errorf("listing period groups: %w", err)
		}
		st.groups = groups
		return nil
	})
	if AlertEngine != nil {
		g.Go(func() error {
			alerts, err := AlertEngine.Evaluate()
			if err != nil {
				return fmt.Errorf("evaluating alerts: %w", err)
			}
			st.alerts = alerts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if Catalog != nil {
		snap, err := Catalog.Current()
		if err != nil {
			st.statsErr = err
			return st, nil
		}
		st.snapshot = &snap
		exclude := append(append([]string(nil), st.exported...), st.blocked...)
		stats, err := Catalog.Stats(ctx, snap, exclude)
		if err != nil {
			st.statsErr = err
			return st, nil
		}
		st.stats = &stats
	}
	return st, nil
}

func renderStatus(w io.Writer, st *backupStatus) {
	fmt.Fprintln(w, titleStyle.Render("horos-export status"))
	fmt.Fprintln(w)

	if st.volumeErr != nil {
		fmt.Fprintln(w, issueStyle.Render("! "+st.volumeErr.Error()))
		fmt.Fprintln(w)
	}

	row := func(label string, value any) {
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), fmt.Sprint(value)))
	}

	fmt.Fprintln(w, headerStyle.Render("Progress"))
	row("Studies exported", len(st.exported))
	row("Studies flagged", len(st.blocked))
	switch {
	case st.stats != nil:
		row("Catalog candidates", st.stats.Candidates)
		row("Pending", st.stats.Pending)
		if len(st.stats.ByModality) > 0 {
			mods := make([]string, 0, len(st.stats.ByModality))
			for m, n := range st.stats.ByModality {
				mods = append(mods, fmt.Sprintf("%s=%d", m, n))
			}
			sort.Strings(mods)
			row("By modality", strings.Join(mods, " "))
		}
		if st.snapshot != nil {
			source := "snapshot " + st.snapshot.CreatedAt.Format(time.DateTime)
			if st.snapshot.Live {
				source = "live catalog"
			}
			row("Counted from", dimStyle.Render(source))
		}
	case st.statsErr != nil:
		row("Pending", dimStyle.Render("unavailable: "+st.statsErr.Error()))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, headerStyle.Render("Period groups"))
	if len(st.groups) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  none yet"))
	}
	for _, g := range st.groups {
		state := incompleteStyle.Render(g.State.String())
		if g.State == models.PeriodComplete {
			state = completeStyle.Render(g.State.String())
		}
		fmt.Fprintf(w, "  %-14s %-20s archives=%d recorded=%d\n", g.Key, state, g.Archives, st.byPeriod[g.Key])
	}
	fmt.Fprintln(w)

	if len(st.recent) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Recent exports"))
		for _, r := range st.recent {
			fmt.Fprintf(w, "  %s  %s  %s\n", r.ExportedAt.Local().Format(time.DateTime), r.UID, dimStyle.Render(r.ArchivePath))
		}
		fmt.Fprintln(w)
	}

	if len(st.blocked) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Needs attention"))
		for _, uid := range st.blocked {
			fmt.Fprintln(w, "  "+issueStyle.Render(uid))
		}
		fmt.Fprintln(w, dimStyle.Render("  use 'horos-export issues list' for details and 'issues retry <uid>' to re-queue"))
		fmt.Fprintln(w)
	}

	if len(st.alerts) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Alerts"))
		for _, a := range st.alerts {
			fmt.Fprintf(w, "  %s %s\n", severityStyle(a.Severity).Render("["+strings.ToUpper(string(a.Severity))+"]"), a.Message)
		}
	}
}

func severityStyle(s observability.AlertSeverity) lipgloss.Style {
	switch s {
	case observability.SeverityHigh:
		return severityHigh
	case observability.SeverityMedium:
		return severityMedium
	default:
		return severityLow
	}
}

func init() {
	statusCmd.Flags().IntVar(&statusRecent, "recent", 5, "number of recent exports to show")
	rootCmd.AddCommand(statusCmd)
}
