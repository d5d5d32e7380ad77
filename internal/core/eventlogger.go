package core

// EventLogger is the subset of the observability event log that core
// services need. Defining it here avoids importing the observability package.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}

// Event types emitted by the run coordinator.
const (
	EventRunStarted     = "run.started"
	EventRunSkipped     = "run.skipped"
	EventRunCompleted   = "run.completed"
	EventRunFailed      = "run.failed"
	EventItemArchived   = "item.archived"
	EventItemReconciled = "item.reconciled"
	EventItemIssue      = "item.issue"
	EventGroupCompleted = "group.completed"
	EventGroupReset     = "group.reset"
)
