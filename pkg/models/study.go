package models

import "time"

// WorkItem is one exportable study. UID is the authoritative identity: two
// items with the same UID are the same study even when the other attributes
// drift between catalog reads.
type WorkItem struct {
	PK          int64
	UID         string
	PatientName string
	// BirthDate, StudyDate and DateAdded keep the raw catalog values; they
	// may be CoreData timestamps, DICOM dates or ISO strings.
	BirthDate any
	StudyDate any
	DateAdded any
	// Files lists the constituent image files that exist on disk, in
	// catalog order.
	Files []string
	// Checked is a small sample of the candidate paths that were probed,
	// kept for NO_FILES diagnostics.
	Checked []PathProbe
}

// PathProbe records one attempted image location.
type PathProbe struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// PeriodKey identifies a calendar-month output group, e.g. "2023_02".
type PeriodKey string

// UnknownPeriod collects studies whose date cannot be parsed.
const UnknownPeriod PeriodKey = "UNKNOWN_DATE"

// PeriodState is the persisted lifecycle state of a period group.
type PeriodState int

const (
	PeriodIncomplete PeriodState = iota
	PeriodComplete
)

func (s PeriodState) String() string {
	if s == PeriodComplete {
		return "complete"
	}
	return "incomplete"
}

// ArchiveOutcome is the terminal state reached by the archive writer for one item.
type ArchiveOutcome string

const (
	OutcomeArchived   ArchiveOutcome = "archived"
	OutcomeReconciled ArchiveOutcome = "reconciled"
	OutcomeNoFiles    ArchiveOutcome = "no_files"
	OutcomeFailed     ArchiveOutcome = "failed"
)

// ArchiveResult describes what happened to one work item.
type ArchiveResult struct {
	UID      string
	Outcome  ArchiveOutcome
	Path     string
	Period   PeriodKey
	Attempts int
	Files    int
	Bytes    int64
	Err      error
}

// Succeeded reports whether the item now has a valid archive under its final name.
func (r ArchiveResult) Succeeded() bool {
	return r.Outcome == OutcomeArchived || r.Outcome == OutcomeReconciled
}

// ProgressRecord is one row of the durable progress store.
type ProgressRecord struct {
	UID         string
	ExportedAt  time.Time
	ArchivePath string
	Period      PeriodKey
}
