package observability

import (
	"path/filepath"
	"testing"
	"time"
)

func writeEvents(t *testing.T, log EventLog, events []Event) {
	t.Helper()
	for _, e := range events {
		if e.Level == "" {
			e.Level = "INFO"
		}
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}
}

func TestMetricsCalculator_Calculate(t *testing.T) {
	log := NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	defer log.Close()

	base := time.Date(2025, 11, 3, 2, 0, 0, 0, time.UTC)
	writeEvents(t, log, []Event{
		{Time: base, Type: "run.started"},
		{Time: base.Add(time.Minute), Type: "group.reset", Data: map[string]any{"group": "2023_02"}},
		{Time: base.Add(2 * time.Minute), Type: "item.archived", Data: map[string]any{"bytes": 2048, "files": 12}},
		{Time: base.Add(3 * time.Minute), Type: "item.archived", Data: map[string]any{"bytes": 1024, "files": 3}},
		{Time: base.Add(4 * time.Minute), Type: "item.reconciled"},
		{Time: base.Add(5 * time.Minute), Type: "item.issue", Data: map[string]any{"category": "NO_FILES"}},
		{Time: base.Add(6 * time.Minute), Type: "item.issue", Data: map[string]any{"category": "ZIP_FAIL"}},
		{Time: base.Add(7 * time.Minute), Type: "group.completed", Data: map[string]any{"group": "2023_02"}},
		{Time: base.Add(8 * time.Minute), Type: "run.completed"},
		{Time: base.Add(time.Hour), Type: "run.skipped"},
		{Time: base.Add(2 * time.Hour), Type: "run.failed", Level: "ERROR", Data: map[string]any{"stage": "gate"}},
		{Time: base.Add(3 * time.Hour), Type: "run.started"},
		{Time: base.Add(3*time.Hour + time.Minute), Type: "run.failed", Level: "ERROR"},
	})

	m, err := NewMetricsCalculator(log).Calculate(base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}

	checks := []struct {
		name      string
		got, want int
	}{
		{"runs", m.Runs, 4},
		{"runs completed", m.RunsCompleted, 1},
		{"runs skipped", m.RunsSkipped, 1},
		{"runs failed", m.RunsFailed, 2},
		{"archived", m.Archived, 2},
		{"reconciled", m.Reconciled, 1},
		{"files archived", m.FilesArchived, 15},
		{"groups completed", m.GroupsCompleted, 1},
		{"groups reset", m.GroupsReset, 1},
		{"no files issues", m.IssuesByCategory["NO_FILES"], 1},
		{"zip fail issues", m.IssuesByCategory["ZIP_FAIL"], 1},
		{"event count", m.EventCount, 13},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if m.BytesArchived != 3072 {
		t.Errorf("bytes archived = %d, want 3072", m.BytesArchived)
	}
	if m.LastCompletedRun == nil || !m.LastCompletedRun.Equal(base.Add(8*time.Minute)) {
		t.Errorf("last completed run = %v", m.LastCompletedRun)
	}
	if m.OldestEvent == nil || !m.OldestEvent.Equal(base) {
		t.Errorf("oldest event = %v", m.OldestEvent)
	}
}

func TestMetricsCalculator_EmptyLog(t *testing.T) {
	log := NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	defer log.Close()

	m, err := NewMetricsCalculator(log).Calculate(time.Time{})
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.EventCount != 0 || m.Runs != 0 {
		t.Errorf("expected zero metrics, got %+v", m)
	}
	if m.OldestEvent != nil || m.NewestEvent != nil || m.LastCompletedRun != nil {
		t.Error("expected nil timestamps for an empty log")
	}
	if m.IssuesByCategory == nil {
		t.Error("expected an initialised issue map")
	}
}

func TestMetricsCalculator_FiltersBySince(t *testing.T) {
	log := NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	defer log.Close()

	base := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	writeEvents(t, log, []Event{
		{Time: base, Type: "item.archived"},
		{Time: base.Add(48 * time.Hour), Type: "item.archived"},
		{Time: base.Add(72 * time.Hour), Type: "item.archived"},
	})

	m, err := NewMetricsCalculator(log).Calculate(base.Add(24 * time.Hour))
	if err != nil {
		t.Fatalf("calculating metrics: %v", err)
	}
	if m.Archived != 2 {
		t.Errorf("archived = %d, want 2", m.Archived)
	}
}
