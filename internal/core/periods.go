package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

const (
	// MonthDoneMarker is the file that marks a period group complete.
	MonthDoneMarker = ".month_done"
	// StagingDirName holds partially written archives inside a group.
	StagingDirName = ".export_tmp"
)

var periodDirPattern = regexp.MustCompile(`^\d{4}_\d{2}$`)

// PeriodForgetter releases progress records of a discarded group.
type PeriodForgetter interface {
	ForgetPeriod(ctx context.Context, period models.PeriodKey) (int, error)
}

// GroupInfo describes one period folder under the backup root.
type GroupInfo struct {
	Key      models.PeriodKey
	State    models.PeriodState
	Archives int
}

// PeriodTracker owns the YYYY_MM folders and their completion markers.
type PeriodTracker struct {
	root     string
	progress PeriodForgetter
	logger   *slog.Logger
}

// NewPeriodTracker creates a tracker over backupRoot. progress may be nil
// when no records need releasing (read-only callers).
func NewPeriodTracker(backupRoot string, progress PeriodForgetter, logger *slog.Logger) *PeriodTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeriodTracker{root: backupRoot, progress: progress, logger: logger}
}

// GroupDir returns the folder of a period.
func (t *PeriodTracker) GroupDir(key models.PeriodKey) string {
	return filepath.Join(t.root, string(key))
}

// State reports whether a period carries its completion marker.
func (t *PeriodTracker) State(key models.PeriodKey) models.PeriodState {
	if _, err := os.Stat(filepath.Join(t.GroupDir(key), MonthDoneMarker)); err == nil {
		return models.PeriodComplete
	}
	return models.PeriodIncomplete
}

// IsGroupDone reports whether key is Complete.
func (t *PeriodTracker) IsGroupDone(key models.PeriodKey) bool {
	return t.State(key) == models.PeriodComplete
}

// CleanupIncompleteLatestGroup deletes the newest YYYY_MM folder when it has
// no completion marker, which means a previous run died while filling it.
// Its progress records are released so the studies are exported again.
// Staging debris in every group is swept as well. It returns the key of the
// removed group, or "" when nothing was removed.
func (t *PeriodTracker) CleanupIncompleteLatestGroup(ctx context.Context) (models.PeriodKey, error) {
	if err := t.SweepStaging(); err != nil {
		t.logger.Warn("sweeping staging directories", "error", err)
	}

	keys, err := t.periodKeys()
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", nil
	}

	latest := keys[len(keys)-1]
	if t.IsGroupDone(latest) {
		return "", nil
	}

	dir := t.GroupDir(latest)
	t.logger.Warn("removing incomplete latest group", "group", latest, "dir", dir)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("removing incomplete group %s: %w", latest, err)
	}
	if t.progress != nil {
		n, err := t.progress.ForgetPeriod(ctx, latest)
		if err != nil {
			return latest, fmt.Errorf("releasing progress of group %s: %w", latest, err)
		}
		if n > 0 {
			t.logger.Info("released progress records of removed group", "group", latest, "records", n)
		}
	}
	return latest, nil
}

// MarkGroupsDone writes the completion marker in each group.
func (t *PeriodTracker) MarkGroupsDone(keys []models.PeriodKey) error {
	var errs []error
	for _, key := range keys {
		dir := t.GroupDir(key)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("creating group %s: %w", key, err))
			continue
		}
		stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
		if err := os.WriteFile(filepath.Join(dir, MonthDoneMarker), stamp, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("marking group %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// SweepStaging removes the staging folder of every group.
func (t *PeriodTracker) SweepStaging() error {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		staging := filepath.Join(t.root, e.Name(), StagingDirName)
		if _, err := os.Stat(staging); err != nil {
			continue
		}
		t.logger.Debug("removing staging debris", "dir", staging)
		if err := os.RemoveAll(staging); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Groups lists every period folder, oldest first, with UNKNOWN_DATE last.
func (t *PeriodTracker) Groups() ([]GroupInfo, error) {
	keys, err := t.periodKeys()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(t.GroupDir(models.UnknownPeriod)); err == nil {
		keys = append(keys, models.UnknownPeriod)
	}

	groups := make([]GroupInfo, 0, len(keys))
	for _, key := range keys {
		matches, _ := filepath.Glob(filepath.Join(t.GroupDir(key), "*.zip"))
		groups = append(groups, GroupInfo{Key: key, State: t.State(key), Archives: len(matches)})
	}
	return groups, nil
}

// periodKeys returns the dated group folders sorted ascending.
func (t *PeriodTracker) periodKeys() ([]models.PeriodKey, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", t.root, err)
	}
	var keys []models.PeriodKey
	for _, e := range entries {
		if e.IsDir() && periodDirPattern.MatchString(e.Name()) {
			keys = append(keys, models.PeriodKey(e.Name()))
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}
