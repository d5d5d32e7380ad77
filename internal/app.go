// Package internal provides the App struct that wires all components of the
// export engine together and initializes the CLI layer.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ThalesMMS/Horos-Backup-Script/internal/catalog"
	"github.com/ThalesMMS/Horos-Backup-Script/internal/cli"
	"github.com/ThalesMMS/Horos-Backup-Script/internal/core"
	"github.com/ThalesMMS/Horos-Backup-Script/internal/observability"
	"github.com/ThalesMMS/Horos-Backup-Script/internal/storage"
	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// App holds all service dependencies of the export engine.
type App struct {
	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.Config
	Layout    models.Layout

	// Logging
	Logger  *slog.Logger
	LogFile *observability.DeferredFile

	// Storage layer
	Progress storage.ProgressStore
	Issues   storage.IssueLog

	// Core services
	Catalog     *catalog.Reader
	Periods     *core.PeriodTracker
	Archiver    *core.ArchiveWriter
	Locker      core.RunLocker
	Gate        *core.SafetyGate
	Coordinator *core.RunCoordinator

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
}

// NewApp loads configuration from configPath (or the default lookup when it
// is empty) and wires every component. Nothing is written to the PACS volume
// until the safety gate has verified it.
func NewApp(configPath string) (*App, error) {
	return newApp(configPath, os.Stderr)
}

func newApp(configPath string, console io.Writer) (*App, error) {
	app := &App{}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(configPath, ".")
	cfg, err := app.ConfigMgr.Load()
	if err != nil {
		return nil, err
	}
	app.Config = cfg
	app.Layout = cfg.Paths.Layout()

	// --- Logging ---
	app.LogFile = observability.NewDeferredFile(app.Layout.LogFile, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	app.Logger = observability.NewLogger(cfg.Logging, console, app.LogFile)
	if f := app.ConfigMgr.ConfigFile(); f != "" {
		app.Logger.Debug("configuration loaded", "file", f)
	}

	// --- Storage layer ---
	app.Progress = storage.NewProgressStore(app.Layout.ProgressDB)
	app.Issues = storage.NewIssueLog(app.Layout.IssuesCSV)

	// --- Observability ---
	app.EventLog = observability.NewJSONLEventLog(app.Layout.EventsFile)
	app.AlertEngine = observability.NewAlertEngine(app.EventLog, observability.DefaultAlertThresholds())
	app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	evtAdapter := &eventLogAdapter{log: app.EventLog}

	// --- Core services ---
	app.Catalog = catalog.NewReader(*cfg, app.Logger.With("component", "catalog"))
	app.Periods = core.NewPeriodTracker(app.Layout.BackupRoot, app.Progress, app.Logger.With("component", "periods"))
	app.Archiver = core.NewArchiveWriter(app.Layout.BackupRoot, cfg.Export.MaxNameLength, app.Logger.With("component", "archive"))
	app.Locker = core.NewFlockLocker(app.Layout.LockFile, cfg.Export.LockTimeout, app.Logger)
	app.Gate = core.NewSafetyGate(app.Layout, cfg.Export.IncomingMaxFiles, app.Locker, app.Logger, app.LogFile.Enable)

	app.Coordinator = core.NewRunCoordinator(core.CoordinatorDeps{
		Gate:     app.Gate,
		Catalog:  app.Catalog,
		Progress: app.Progress,
		Issues:   app.Issues,
		Periods:  app.Periods,
		Archiver: app.Archiver,
		Events:   evtAdapter,
	}, cfg.Export, app.Logger)

	// --- Wire CLI package-level variables ---
	cli.Config = app.Config
	cli.ConfigFile = app.ConfigMgr.ConfigFile()
	cli.Coordinator = app.Coordinator
	cli.Catalog = app.Catalog
	cli.Progress = app.Progress
	cli.Issues = app.Issues
	cli.Groups = app.Periods
	cli.RefreshSnapshot = app.RefreshSnapshot

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc

	return app, nil
}

// RefreshSnapshot rebuilds the catalog copy outside of a run. It applies the
// same volume check and run lock as a run so it never races an export.
func (a *App) RefreshSnapshot(ctx context.Context) (models.SnapshotHandle, error) {
	if err := core.VerifyVolume(a.Layout.Sentinel); err != nil {
		return models.SnapshotHandle{}, err
	}
	if err := a.LogFile.Enable(); err != nil {
		a.Logger.Warn("log file unavailable", "error", err)
	}
	if err := os.MkdirAll(a.Layout.TmpRoot, 0o755); err != nil {
		return models.SnapshotHandle{}, fmt.Errorf("creating temp root: %w", err)
	}
	release, err := a.Locker.Acquire(ctx)
	if err != nil {
		return models.SnapshotHandle{}, err
	}
	defer func() {
		if err := release(); err != nil {
			a.Logger.Warn("releasing run lock", "error", err)
		}
	}()
	return a.Catalog.Refresh(ctx)
}

// Close releases resources held by the App. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	if a.Progress != nil {
		errs = append(errs, a.Progress.Close())
	}
	if a.EventLog != nil {
		errs = append(errs, a.EventLog.Close())
	}
	if a.LogFile != nil {
		errs = append(errs, a.LogFile.Close())
	}
	return errors.Join(errs...)
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   eventLevel(eventType),
		Type:    eventType,
		Message: eventType,
		Data:    data,
	})
}

func eventLevel(eventType string) string {
	switch eventType {
	case core.EventRunFailed:
		return "ERROR"
	case core.EventRunSkipped, core.EventItemIssue, core.EventGroupReset:
		return "WARN"
	default:
		return "INFO"
	}
}
