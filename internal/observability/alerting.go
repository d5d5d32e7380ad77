package observability

import (
	"fmt"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	// StaleHours is how long the backup may go without a completed run.
	StaleHours int `yaml:"stale_hours" json:"stale_hours"`
	// MaxConsecutiveFailures is the number of failed runs in a row tolerated.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	// MaxConsecutiveSkips is the number of skipped runs in a row tolerated.
	MaxConsecutiveSkips int `yaml:"max_consecutive_skips" json:"max_consecutive_skips"`
	// MaxIssuesPerDay bounds item-level issues recorded in the last 24 hours.
	MaxIssuesPerDay int `yaml:"max_issues_per_day" json:"max_issues_per_day"`
}

// DefaultAlertThresholds returns the thresholds used by the status command.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		StaleHours:             48,
		MaxConsecutiveFailures: 3,
		MaxConsecutiveSkips:    12,
		MaxIssuesPerDay:        20,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine implements AlertEngine by reading events and checking thresholds.
type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate reads events and checks all alert conditions, returning any triggered alerts.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}

	var alerts []Alert
	alerts = append(alerts, ae.checkStale(events, now)...)
	alerts = append(alerts, ae.checkStreaks(events, now)...)
	alerts = append(alerts, ae.checkIssueRate(events, now)...)
	return alerts, nil
}

// checkStale fires when no run has completed within the threshold.
func (ae *alertEngine) checkStale(events []Event, now time.Time) []Alert {
	if len(events) == 0 {
		return nil
	}
	var last time.Time
	for _, e := range events {
		if e.Type == "run.completed" && e.Time.After(last) {
			last = e.Time
		}
	}
	threshold := time.Duration(ae.thresholds.StaleHours) * time.Hour
	if !last.IsZero() && now.Sub(last) <= threshold {
		return nil
	}
	msg := fmt.Sprintf("no export run has completed in the last %d hours", ae.thresholds.StaleHours)
	if last.IsZero() {
		msg = "no export run has completed yet"
	}
	return []Alert{{
		ID:          "backup-stale",
		Condition:   "backup_stale",
		Severity:    SeverityHigh,
		Message:     msg,
		TriggeredAt: now,
	}}
}

// checkStreaks looks at the trailing run outcomes for repeated failures or skips.
func (ae *alertEngine) checkStreaks(events []Event, now time.Time) []Alert {
	var outcomes []string
	for _, e := range events {
		switch e.Type {
		case "run.completed", "run.failed", "run.skipped":
			outcomes = append(outcomes, e.Type)
		}
	}

	trailing := func(kind string) int {
		n := 0
		for i := len(outcomes) - 1; i >= 0 && outcomes[i] == kind; i-- {
			n++
		}
		return n
	}

	var alerts []Alert
	if n := trailing("run.failed"); n >= ae.thresholds.MaxConsecutiveFailures && n > 0 {
		alerts = append(alerts, Alert{
			ID:          "runs-failing",
			Condition:   "consecutive_failures",
			Severity:    SeverityHigh,
			Message:     fmt.Sprintf("the last %d runs failed", n),
			TriggeredAt: now,
		})
	}
	if n := trailing("run.skipped"); n >= ae.thresholds.MaxConsecutiveSkips && n > 0 {
		alerts = append(alerts, Alert{
			ID:          "runs-skipped",
			Condition:   "consecutive_skips",
			Severity:    SeverityMedium,
			Message:     fmt.Sprintf("the last %d runs were skipped because Horos is busy importing", n),
			TriggeredAt: now,
		})
	}
	return alerts
}

// checkIssueRate counts item-level issues recorded in the last day.
func (ae *alertEngine) checkIssueRate(events []Event, now time.Time) []Alert {
	since := now.Add(-24 * time.Hour)
	count := 0
	for _, e := range events {
		if e.Type == "item.issue" && !e.Time.Before(since) {
			count++
		}
	}
	if count <= ae.thresholds.MaxIssuesPerDay {
		return nil
	}
	return []Alert{{
		ID:          "issue-rate",
		Condition:   "issues_accumulating",
		Severity:    SeverityLow,
		Message:     fmt.Sprintf("%d studies were flagged in the last 24 hours, exceeding %d", count, ae.thresholds.MaxIssuesPerDay),
		TriggeredAt: now,
	}}
}
