package models

import (
	"path/filepath"
	"time"
)

// OrderBy selects the catalog column used as the primary sort key when
// selecting the next batch of studies. The study UID is always the tie-break.
type OrderBy string

const (
	OrderByStudyDate OrderBy = "study_date"
	OrderByDateAdded OrderBy = "date_added"
)

// SnapshotPolicy controls when the consistent catalog copy is rebuilt.
type SnapshotPolicy string

const (
	// SnapshotAlways rebuilds the copy at the start of every run.
	SnapshotAlways SnapshotPolicy = "always"
	// SnapshotReuse keeps an existing copy and only builds one when missing.
	SnapshotReuse SnapshotPolicy = "reuse"
	// SnapshotOff queries the live catalog in read-only mode.
	SnapshotOff SnapshotPolicy = "off"
)

// PathsConfig locates the PACS volume and the backup tree on it.
type PathsConfig struct {
	PacsRoot   string `yaml:"pacs_root" mapstructure:"pacs_root" validate:"required"`
	BackupRoot string `yaml:"backup_root,omitempty" mapstructure:"backup_root"`
}

// ExportConfig holds the knobs of one export cycle.
type ExportConfig struct {
	Modalities        []string       `yaml:"modalities" mapstructure:"modalities" validate:"required,min=1,dive,required"`
	BatchSize         int            `yaml:"batch_size" mapstructure:"batch_size" validate:"min=1"`
	PauseBetweenItems time.Duration  `yaml:"pause_between_items" mapstructure:"pause_between_items" validate:"gte=0"`
	OrderBy           OrderBy        `yaml:"order_by" mapstructure:"order_by" validate:"oneof=study_date date_added"`
	IncomingMaxFiles  int            `yaml:"incoming_max_files" mapstructure:"incoming_max_files" validate:"gte=0"`
	MaxNameLength     int            `yaml:"max_name_length" mapstructure:"max_name_length" validate:"min=16"`
	SnapshotPolicy    SnapshotPolicy `yaml:"snapshot_policy" mapstructure:"snapshot_policy" validate:"oneof=always reuse off"`
	LockTimeout       time.Duration  `yaml:"lock_timeout" mapstructure:"lock_timeout" validate:"gte=0"`
}

// LoggingConfig controls the operational log stream.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups" validate:"gte=0"`
	Console    bool   `yaml:"console" mapstructure:"console"`
}

// Config is the full configuration read from horos-export.yaml. It is
// passed explicitly to every component at construction time.
type Config struct {
	Paths   PathsConfig   `yaml:"paths" mapstructure:"paths"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// Layout is the set of concrete filesystem locations derived from PathsConfig.
type Layout struct {
	PacsRoot     string
	BackupRoot   string
	Sentinel     string
	HorosDataDir string
	CatalogDB    string
	IncomingDir  string
	DatabaseDir  string
	TmpRoot      string
	SnapshotDir  string
	SnapshotPath string
	ProgressDB   string
	LockFile     string
	LogsDir      string
	LogFile      string
	EventsFile   string
	IssuesCSV    string
}

// Layout derives every path the engine touches. BackupRoot defaults to a
// folder inside the PACS volume so output never lands on the system disk.
func (p PathsConfig) Layout() Layout {
	backup := p.BackupRoot
	if backup == "" {
		backup = filepath.Join(p.PacsRoot, "Backup")
	}
	horosData := filepath.Join(p.PacsRoot, "Database", "Horos Data")
	tmp := filepath.Join(backup, ".tmp")
	snapDir := filepath.Join(tmp, "dbcopy")
	logs := filepath.Join(backup, "logs")

	return Layout{
		PacsRoot:     p.PacsRoot,
		BackupRoot:   backup,
		Sentinel:     filepath.Join(p.PacsRoot, ".pacs_sentinel"),
		HorosDataDir: horosData,
		CatalogDB:    filepath.Join(horosData, "Database.sql"),
		IncomingDir:  filepath.Join(horosData, "INCOMING.noindex"),
		DatabaseDir:  filepath.Join(horosData, "DATABASE.noindex"),
		TmpRoot:      tmp,
		SnapshotDir:  snapDir,
		SnapshotPath: filepath.Join(snapDir, "Database_copy.sql"),
		ProgressDB:   filepath.Join(backup, "export_state.sqlite"),
		LockFile:     filepath.Join(tmp, ".run.lock"),
		LogsDir:      logs,
		LogFile:      filepath.Join(logs, "horos_backup.log"),
		EventsFile:   filepath.Join(logs, "events.jsonl"),
		IssuesCSV:    filepath.Join(backup, "issues.csv"),
	}
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			PacsRoot: "/Volumes/PACS",
		},
		Export: ExportConfig{
			Modalities:        []string{"CT", "MR"},
			BatchSize:         15,
			PauseBetweenItems: time.Second,
			OrderBy:           OrderByStudyDate,
			IncomingMaxFiles:  25000,
			MaxNameLength:     128,
			SnapshotPolicy:    SnapshotAlways,
			LockTimeout:       0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 10,
			Console:    true,
		},
	}
}
