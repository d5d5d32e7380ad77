package core

import (
	"context"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// ProgressStore is the durable record of exported studies.
// This interface is defined locally in core to avoid importing storage.
type ProgressStore interface {
	IsExported(ctx context.Context, uid string) (bool, error)
	// MarkExported is idempotent: marking an already exported UID is a no-op.
	MarkExported(ctx context.Context, rec models.ProgressRecord) error
	CountExported(ctx context.Context) (int, error)
	ExportedIDs(ctx context.Context) ([]string, error)
	// ForgetPeriod drops the records of one period so its studies are
	// selected again after the group folder was discarded.
	ForgetPeriod(ctx context.Context, period models.PeriodKey) (int, error)
}

// IssueLog is the append-only record of studies that need operator attention.
// This interface is defined locally in core to avoid importing storage.
type IssueLog interface {
	Append(issue models.Issue) error
	// BlockedIDs lists studies with an item-level issue and no later retry request.
	BlockedIDs() ([]string, error)
}

// CatalogReader selects work items from the Horos catalog.
// This interface is defined locally in core to avoid importing catalog.
type CatalogReader interface {
	Snapshot(ctx context.Context) (models.SnapshotHandle, error)
	Stats(ctx context.Context, snap models.SnapshotHandle, exclude []string) (models.CatalogStats, error)
	NextBatch(ctx context.Context, snap models.SnapshotHandle, exclude []string, limit int) ([]models.WorkItem, error)
}
