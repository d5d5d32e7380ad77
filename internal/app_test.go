package internal

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ThalesMMS/Horos-Backup-Script/internal/cli"
	"github.com/ThalesMMS/Horos-Backup-Script/internal/core"
	"github.com/ThalesMMS/Horos-Backup-Script/internal/observability"
	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"

	_ "modernc.org/sqlite"
)

// pacsVolume is a throwaway PACS volume with a minimal Horos catalog.
type pacsVolume struct {
	root   string
	layout models.Layout
	db     *sql.DB
}

func newPacsVolume(t *testing.T, mounted bool) *pacsVolume {
	t.Helper()
	root := t.TempDir()
	layout := models.PathsConfig{PacsRoot: root}.Layout()
	if err := os.MkdirAll(layout.DatabaseDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if mounted {
		if err := os.WriteFile(layout.Sentinel, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	db, err := sql.Open("sqlite", layout.CatalogDB)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`
		CREATE TABLE ZSTUDY (Z_PK INTEGER PRIMARY KEY, ZSTUDYINSTANCEUID VARCHAR, ZNAME VARCHAR,
			ZDATEOFBIRTH TIMESTAMP, ZDATE TIMESTAMP, ZDATEADDED TIMESTAMP);
		CREATE TABLE ZSERIES (Z_PK INTEGER PRIMARY KEY, ZSTUDY INTEGER, ZMODALITY VARCHAR);
		CREATE TABLE ZIMAGE (Z_PK INTEGER PRIMARY KEY, ZSERIES INTEGER, ZPATHSTRING VARCHAR,
			ZPATHNUMBER INTEGER, ZSTOREDINDATABASEFOLDER INTEGER);`)
	if err != nil {
		t.Fatal(err)
	}
	return &pacsVolume{root: root, layout: layout, db: db}
}

// addStudy inserts a study with one series and files images stored in the
// database folder.
func (v *pacsVolume) addStudy(t *testing.T, pk int64, uid, modality string, date time.Time, files int) {
	t.Helper()
	epoch := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := v.db.Exec(`INSERT INTO ZSTUDY VALUES (?, ?, ?, ?, ?, ?)`,
		pk, uid, "DOE^JOHN", nil, date.Sub(epoch).Seconds(), date.Sub(epoch).Seconds()); err != nil {
		t.Fatal(err)
	}
	if _, err := v.db.Exec(`INSERT INTO ZSERIES VALUES (?, ?, ?)`, pk, pk, modality); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < files; i++ {
		name := filepath.Join("10000", uid+"_"+string(rune('a'+i))+".dcm")
		full := filepath.Join(v.layout.DatabaseDir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("DICM "+uid), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := v.db.Exec(`INSERT INTO ZIMAGE (ZSERIES, ZPATHSTRING, ZPATHNUMBER, ZSTOREDINDATABASEFOLDER) VALUES (?, ?, ?, 1)`,
			pk, filepath.Base(name), 10000); err != nil {
			t.Fatal(err)
		}
	}
}

func (v *pacsVolume) writeConfig(t *testing.T, batchSize int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "horos-export.yaml")
	content := "paths:\n  pacs_root: " + v.root + "\n" +
		"export:\n  batch_size: " + strconv.Itoa(batchSize) + "\n  pause_between_items: 0s\n  modalities: [CT, MR]\n" +
		"logging:\n  console: false\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestApp(t *testing.T, configPath string) *App {
	t.Helper()
	var console bytes.Buffer
	app, err := newApp(configPath, &console)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return app
}

func TestNewApp_WiresCLI(t *testing.T) {
	vol := newPacsVolume(t, true)
	app := newTestApp(t, vol.writeConfig(t, 5))

	if app.Config.Export.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want 5", app.Config.Export.BatchSize)
	}
	if app.Layout.BackupRoot != filepath.Join(vol.root, "Backup") {
		t.Errorf("BackupRoot = %q", app.Layout.BackupRoot)
	}
	if cli.Config != app.Config || cli.Coordinator == nil || cli.Progress == nil ||
		cli.Issues == nil || cli.Groups == nil || cli.Catalog == nil || cli.RefreshSnapshot == nil {
		t.Error("CLI variables not wired")
	}
	if cli.EventLog == nil || cli.MetricsCalc == nil || cli.AlertEngine == nil {
		t.Error("observability not wired")
	}
	if _, err := os.Stat(app.Layout.BackupRoot); !os.IsNotExist(err) {
		t.Errorf("NewApp must not touch the volume, stat err = %v", err)
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "horos-export.yaml")
	if err := os.WriteFile(path, []byte("paths:\n  pacs_root: relative/path\nexport:\n  batch_size: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := newApp(path, &bytes.Buffer{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestApp_RunExportsBatchAndResumes(t *testing.T) {
	ctx := context.Background()
	vol := newPacsVolume(t, true)
	feb := time.Date(2023, 2, 3, 12, 0, 0, 0, time.UTC)
	vol.addStudy(t, 1, "1.2.840.1", "CT", feb, 2)
	vol.addStudy(t, 2, "1.2.840.2", "MR", feb.Add(24*time.Hour), 1)
	vol.addStudy(t, 3, "1.2.840.3", "US", feb, 1)
	vol.addStudy(t, 4, "1.2.840.4", "CT", feb.AddDate(0, 1, 0), 1)

	app := newTestApp(t, vol.writeConfig(t, 2))

	report, err := app.Coordinator.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if report.Status != core.RunCompleted || report.Archived != 2 {
		t.Fatalf("first run report = %+v", report)
	}
	zips, _ := filepath.Glob(filepath.Join(app.Layout.BackupRoot, "2023_02", "*.zip"))
	if len(zips) != 2 {
		t.Errorf("expected 2 archives in 2023_02, got %v", zips)
	}
	if _, err := os.Stat(filepath.Join(app.Layout.BackupRoot, "2023_02", core.MonthDoneMarker)); err != nil {
		t.Errorf("expected 2023_02 to be marked done: %v", err)
	}
	if _, err := os.Stat(app.Layout.LogFile); err != nil {
		t.Errorf("expected log file after the gate passed: %v", err)
	}

	report, err = app.Coordinator.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Archived != 1 || report.Selected != 1 {
		t.Errorf("second run report = %+v", report)
	}

	n, err := app.Progress.CountExported(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("exported = %d, want 3 (US study is filtered out)", n)
	}

	events, err := app.EventLog.Read(observability.EventFilter{Type: core.EventRunCompleted})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 run.completed events, got %d", len(events))
	}
}

func TestApp_UnmountedVolumeWritesNothing(t *testing.T) {
	vol := newPacsVolume(t, false)
	vol.addStudy(t, 1, "1.2.840.1", "CT", time.Date(2023, 2, 3, 12, 0, 0, 0, time.UTC), 1)
	app := newTestApp(t, vol.writeConfig(t, 5))

	_, err := app.Coordinator.Run(context.Background())
	if !core.IsFatal(err) || !errors.Is(err, core.ErrVolumeNotMounted) {
		t.Fatalf("expected fatal volume error, got %v", err)
	}
	if _, err := os.Stat(app.Layout.BackupRoot); !os.IsNotExist(err) {
		t.Errorf("backup root must not be created, stat err = %v", err)
	}
	if cli.ExitCode(err) != cli.ExitFatal {
		t.Errorf("ExitCode = %d, want %d", cli.ExitCode(err), cli.ExitFatal)
	}
}

func TestApp_RefreshSnapshot(t *testing.T) {
	vol := newPacsVolume(t, true)
	vol.addStudy(t, 1, "1.2.840.1", "CT", time.Date(2023, 2, 3, 12, 0, 0, 0, time.UTC), 1)
	app := newTestApp(t, vol.writeConfig(t, 5))

	snap, err := app.RefreshSnapshot(context.Background())
	if err != nil {
		t.Fatalf("RefreshSnapshot() error = %v", err)
	}
	if snap.Path != app.Layout.SnapshotPath {
		t.Errorf("snapshot path = %q, want %q", snap.Path, app.Layout.SnapshotPath)
	}
	if _, err := os.Stat(snap.Path); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
}

func TestEventLevel(t *testing.T) {
	tests := map[string]string{
		core.EventRunFailed:    "ERROR",
		core.EventRunSkipped:   "WARN",
		core.EventItemIssue:    "WARN",
		core.EventItemArchived: "INFO",
		core.EventRunStarted:   "INFO",
	}
	for eventType, want := range tests {
		if got := eventLevel(eventType); got != want {
			t.Errorf("eventLevel(%q) = %q, want %q", eventType, got, want)
		}
	}
}
