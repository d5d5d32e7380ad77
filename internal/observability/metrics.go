package observability

import (
	"fmt"
	"time"
)

// Metrics holds export counters derived from the event log.
type Metrics struct {
	Runs             int            `json:"runs"`
	RunsCompleted    int            `json:"runs_completed"`
	RunsSkipped      int            `json:"runs_skipped"`
	RunsFailed       int            `json:"runs_failed"`
	Archived         int            `json:"archived"`
	Reconciled       int            `json:"reconciled"`
	BytesArchived    int64          `json:"bytes_archived"`
	FilesArchived    int            `json:"files_archived"`
	IssuesByCategory map[string]int `json:"issues_by_category"`
	GroupsCompleted  int            `json:"groups_completed"`
	GroupsReset      int            `json:"groups_reset"`
	EventCount       int            `json:"event_count"`
	LastCompletedRun *time.Time     `json:"last_completed_run,omitempty"`
	OldestEvent      *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent      *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{IssuesByCategory: make(map[string]int)}
	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case "run.started", "run.skipped":
			m.Runs++
			if event.Type == "run.skipped" {
				m.RunsSkipped++
			}
		case "run.completed":
			m.RunsCompleted++
			m.LastCompletedRun = &t
		case "run.failed":
			m.RunsFailed++
			// A gate failure happens before run.started is written.
			if stage, _ := event.Data["stage"].(string); stage == "gate" {
				m.Runs++
			}
		case "item.archived":
			m.Archived++
			m.BytesArchived += int64(number(event.Data["bytes"]))
			m.FilesArchived += int(number(event.Data["files"]))
		case "item.reconciled":
			m.Reconciled++
		case "item.issue":
			if category, ok := event.Data["category"].(string); ok {
				m.IssuesByCategory[category]++
			}
		case "group.completed":
			m.GroupsCompleted++
		case "group.reset":
			m.GroupsReset++
		}
	}

	return m, nil
}

// number reads a JSON number decoded into an interface value.
func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
