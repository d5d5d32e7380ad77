package models

import "time"

// IssueCategory classifies an issue row.
type IssueCategory string

const (
	IssueNoFiles           IssueCategory = "NO_FILES"
	IssueZipFail           IssueCategory = "ZIP_FAIL"
	IssueIncomingOverLimit IssueCategory = "INCOMING_OVER_LIMIT"
	// IssueRetryRequested is appended by an operator to make a previously
	// failed study eligible for selection again.
	IssueRetryRequested IssueCategory = "RETRY_REQUESTED"
)

// ItemLevel reports whether the category blocks a single study from being
// re-selected.
func (c IssueCategory) ItemLevel() bool {
	return c == IssueNoFiles || c == IssueZipFail
}

// Issue is one append-only row of issues.csv.
type Issue struct {
	Time     time.Time
	Category IssueCategory
	UID      string
	Detail   string
	Extra    map[string]any
}

// IssueFilter narrows the rows returned when listing issues.
type IssueFilter struct {
	Category IssueCategory
	UID      string
}
