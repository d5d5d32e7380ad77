package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// Gate checks run preconditions.
type Gate interface {
	CheckPreconditions(ctx context.Context) (GateResult, error)
}

// Archiver materialises one work item.
type Archiver interface {
	Archive(ctx context.Context, item models.WorkItem) models.ArchiveResult
}

// PeriodManager maintains the period groups around a batch.
type PeriodManager interface {
	CleanupIncompleteLatestGroup(ctx context.Context) (models.PeriodKey, error)
	MarkGroupsDone(keys []models.PeriodKey) error
}

// RunStatus is the final state of one invocation.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunSkipped   RunStatus = "skipped"
	RunFailed    RunStatus = "failed"
)

// RunReport summarises one invocation of the coordinator.
type RunReport struct {
	RunID           string
	Status          RunStatus
	Started         time.Time
	Finished        time.Time
	IncomingCount   int
	Snapshot        models.SnapshotHandle
	ResetGroup      models.PeriodKey
	Stats           models.CatalogStats
	Selected        int
	Archived        int
	Reconciled      int
	NoFiles         int
	Failed          int
	GroupsCompleted []models.PeriodKey
	Results         []models.ArchiveResult
}

// CoordinatorDeps are the collaborators of a RunCoordinator. Events may be nil.
type CoordinatorDeps struct {
	Gate     Gate
	Catalog  CatalogReader
	Progress ProgressStore
	Issues   IssueLog
	Periods  PeriodManager
	Archiver Archiver
	Events   EventLogger
}

// CoordinatorOption customises a RunCoordinator.
type CoordinatorOption func(*RunCoordinator)

// WithSleep replaces the pause between items.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) CoordinatorOption {
	return func(c *RunCoordinator) { c.sleep = sleep }
}

// WithClock replaces the time source used for report and progress stamps.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *RunCoordinator) { c.now = now }
}

// RunCoordinator runs exactly one bounded export cycle per call to Run.
type RunCoordinator struct {
	deps   CoordinatorDeps
	cfg    models.ExportConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// NewRunCoordinator wires the export cycle.
func NewRunCoordinator(deps CoordinatorDeps, cfg models.ExportConfig, logger *slog.Logger, opts ...CoordinatorOption) *RunCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &RunCoordinator{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes gate, snapshot, cleanup, one batch of exports and group
// marking, then releases the run lock. A skipped cycle returns a report with
// RunSkipped and a nil error. Fatal conditions return a *FatalError.
func (c *RunCoordinator) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString(), Started: c.now()}
	log := c.logger.With("run_id", report.RunID)

	gate, err := c.deps.Gate.CheckPreconditions(ctx)
	if err != nil {
		report.Status = RunFailed
		report.Finished = c.now()
		// Nothing may be written on a volume that failed identification.
		if !errors.Is(err, ErrVolumeNotMounted) {
			c.event(report, EventRunFailed, map[string]any{"stage": "gate", "error": err.Error()})
		}
		return report, fatal("safety gate", err)
	}
	if gate.Release != nil {
		defer func() {
			if err := gate.Release(); err != nil {
				log.Warn("releasing run lock", "error", err)
			}
		}()
	}
	report.IncomingCount = gate.IncomingCount

	if gate.Status == GateSkip {
		report.Status = RunSkipped
		report.Finished = c.now()
		c.issue(log, models.Issue{
			Time:     report.Started,
			Category: models.IssueIncomingOverLimit,
			UID:      "",
			Detail:   fmt.Sprintf("incoming=%d > limit=%d; skipping cycle", gate.IncomingCount, c.cfg.IncomingMaxFiles),
			Extra:    map[string]any{"incoming": gate.IncomingCount, "limit": c.cfg.IncomingMaxFiles},
		})
		c.event(report, EventRunSkipped, map[string]any{"incoming": gate.IncomingCount, "limit": c.cfg.IncomingMaxFiles})
		return report, nil
	}

	log.Info("run started", "batch_size", c.cfg.BatchSize, "order_by", c.cfg.OrderBy, "modalities", c.cfg.Modalities)
	c.event(report, EventRunStarted, map[string]any{
		"batch_size": c.cfg.BatchSize,
		"order_by":   string(c.cfg.OrderBy),
		"incoming":   gate.IncomingCount,
	})

	if err := c.cycle(ctx, log, report); err != nil {
		report.Status = RunFailed
		report.Finished = c.now()
		c.event(report, EventRunFailed, map[string]any{"error": err.Error()})
		return report, err
	}

	report.Status = RunCompleted
	report.Finished = c.now()
	log.Info("run completed",
		"selected", report.Selected,
		"archived", report.Archived,
		"reconciled", report.Reconciled,
		"no_files", report.NoFiles,
		"failed", report.Failed,
		"duration", report.Finished.Sub(report.Started))
	c.event(report, EventRunCompleted, map[string]any{
		"selected":    report.Selected,
		"archived":    report.Archived,
		"reconciled":  report.Reconciled,
		"no_files":    report.NoFiles,
		"failed":      report.Failed,
		"duration_ms": report.Finished.Sub(report.Started).Milliseconds(),
	})
	return report, nil
}

// cycle is everything between the gate and lock release.
func (c *RunCoordinator) cycle(ctx context.Context, log *slog.Logger, report *RunReport) error {
	snap, err := c.deps.Catalog.Snapshot(ctx)
	if err != nil {
		return fatal("catalog snapshot", err)
	}
	report.Snapshot = snap
	log.Info("catalog ready", "path", snap.Path, "live", snap.Live, "refreshed", snap.Refreshed)

	reset, err := c.deps.Periods.CleanupIncompleteLatestGroup(ctx)
	if err != nil {
		return fatal("period cleanup", err)
	}
	if reset != "" {
		report.ResetGroup = reset
		c.event(report, EventGroupReset, map[string]any{"group": string(reset)})
	}

	exclude, err := c.exclusions(ctx)
	if err != nil {
		return fatal("loading exclusion set", err)
	}

	if stats, err := c.deps.Catalog.Stats(ctx, snap, exclude); err != nil {
		log.Warn("collecting catalog statistics", "error", err)
	} else {
		report.Stats = stats
		log.Info("catalog statistics", "candidates", stats.Candidates, "excluded", stats.Excluded, "pending", stats.Pending)
	}

	items, err := c.deps.Catalog.NextBatch(ctx, snap, exclude, c.cfg.BatchSize)
	if err != nil {
		return fatal("selecting batch", err)
	}
	report.Selected = len(items)
	log.Info("batch selected", "items", len(items))
	if len(items) == 0 {
		return nil
	}

	touched := make(map[models.PeriodKey]bool)
	for i, item := range items {
		if i > 0 && c.cfg.PauseBetweenItems > 0 {
			if err := c.sleep(ctx, c.cfg.PauseBetweenItems); err != nil {
				return fatal("pause between items", err)
			}
		}
		res, err := c.process(ctx, log, report, item)
		if err != nil {
			return err
		}
		report.Results = append(report.Results, res)
		if res.Succeeded() {
			touched[res.Period] = true
		}
	}

	keys := make([]models.PeriodKey, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if err := c.deps.Periods.MarkGroupsDone(keys); err != nil {
		log.Warn("writing group markers", "error", err)
	}
	report.GroupsCompleted = keys
	for _, k := range keys {
		c.event(report, EventGroupCompleted, map[string]any{"group": string(k)})
	}
	return nil
}

// process archives one item and records the outcome. Only an interrupted
// run or a progress store failure is returned as an error.
func (c *RunCoordinator) process(ctx context.Context, log *slog.Logger, report *RunReport, item models.WorkItem) (models.ArchiveResult, error) {
	res := c.deps.Archiver.Archive(ctx, item)
	if err := ctx.Err(); err != nil {
		return res, fatal("run interrupted", err)
	}

	switch res.Outcome {
	case models.OutcomeArchived, models.OutcomeReconciled:
		rec := models.ProgressRecord{
			UID:         item.UID,
			ExportedAt:  c.now(),
			ArchivePath: res.Path,
			Period:      res.Period,
		}
		if err := c.deps.Progress.MarkExported(ctx, rec); err != nil {
			return res, fatal("recording progress", err)
		}
		eventType := EventItemArchived
		if res.Outcome == models.OutcomeReconciled {
			report.Reconciled++
			eventType = EventItemReconciled
		} else {
			report.Archived++
		}
		log.Info("study exported", "uid", item.UID, "outcome", res.Outcome, "path", res.Path,
			"files", res.Files, "bytes", res.Bytes, "attempts", res.Attempts)
		c.event(report, eventType, map[string]any{
			"uid":      item.UID,
			"path":     res.Path,
			"period":   string(res.Period),
			"files":    res.Files,
			"bytes":    res.Bytes,
			"attempts": res.Attempts,
		})

	case models.OutcomeNoFiles:
		report.NoFiles++
		log.Warn("study has no resolvable files", "uid", item.UID, "study_pk", item.PK)
		c.issue(log, models.Issue{
			Time:     c.now(),
			Category: models.IssueNoFiles,
			UID:      item.UID,
			Detail:   "no image files resolved on disk",
			Extra:    map[string]any{"study_pk": item.PK, "checked": item.Checked},
		})
		c.event(report, EventItemIssue, map[string]any{"uid": item.UID, "category": string(models.IssueNoFiles)})

	default:
		report.Failed++
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		log.Error("study export failed", "uid", item.UID, "attempts", res.Attempts, "error", res.Err)
		c.issue(log, models.Issue{
			Time:     c.now(),
			Category: models.IssueZipFail,
			UID:      item.UID,
			Detail:   fmt.Sprintf("archive failed after %d attempts", res.Attempts),
			Extra:    map[string]any{"zip_path": res.Path, "files": res.Files, "error": errText},
		})
		c.event(report, EventItemIssue, map[string]any{"uid": item.UID, "category": string(models.IssueZipFail)})
	}
	return res, nil
}

// exclusions merges exported and issue-blocked identifiers.
func (c *RunCoordinator) exclusions(ctx context.Context) ([]string, error) {
	exported, err := c.deps.Progress.ExportedIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading progress: %w", err)
	}
	blocked, err := c.deps.Issues.BlockedIDs()
	if err != nil {
		return nil, fmt.Errorf("reading issues: %w", err)
	}
	seen := make(map[string]bool, len(exported)+len(blocked))
	out := make([]string, 0, len(exported)+len(blocked))
	for _, id := range append(exported, blocked...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *RunCoordinator) issue(log *slog.Logger, issue models.Issue) {
	if err := c.deps.Issues.Append(issue); err != nil {
		log.Error("appending issue", "category", issue.Category, "uid", issue.UID, "error", err)
	}
}

func (c *RunCoordinator) event(report *RunReport, eventType string, data map[string]any) {
	if c.deps.Events == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["run_id"] = report.RunID
	if err := c.deps.Events.LogEvent(eventType, data); err != nil {
		c.logger.Debug("writing event", "type", eventType, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
