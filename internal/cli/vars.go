package cli

import (
	"context"

	"github.com/ThalesMMS/Horos-Backup-Script/internal/core"
	"github.com/ThalesMMS/Horos-Backup-Script/internal/observability"
	"github.com/ThalesMMS/Horos-Backup-Script/internal/storage"
	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// Initialize loads configuration and wires the variables below. It is set by
// app.go and called before every command that needs them.
var Initialize func(configPath string) error

// Configuration, set during app initialization in app.go.
var (
	Config     *models.Config
	ConfigFile string
)

// RunCoordinator executes one export cycle.
type RunCoordinator interface {
	Run(ctx context.Context) (*core.RunReport, error)
}

// CatalogInspector is the read side of the catalog used by status and
// snapshot commands.
type CatalogInspector interface {
	Current() (models.SnapshotHandle, error)
	Stats(ctx context.Context, snap models.SnapshotHandle, exclude []string) (models.CatalogStats, error)
}

// GroupLister lists the period groups in the backup tree.
type GroupLister interface {
	Groups() ([]core.GroupInfo, error)
}

// Service instances, set during app initialization in app.go.
var (
	Coordinator     RunCoordinator
	Catalog         CatalogInspector
	Progress        storage.ProgressStore
	Issues          storage.IssueLog
	Groups          GroupLister
	RefreshSnapshot func(ctx context.Context) (models.SnapshotHandle, error)
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
)
