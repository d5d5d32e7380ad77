// Package storage persists export progress in SQLite and operator-facing
// issues in an append-only CSV file.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"

	_ "modernc.org/sqlite"
)

// progressSchema matches the layout of existing export_state.sqlite files so
// they keep working after an upgrade.
const progressSchema = `
CREATE TABLE IF NOT EXISTS Exported (
	studyInstanceUID TEXT PRIMARY KEY,
	when_exported    TEXT NOT NULL,
	zip_path         TEXT NOT NULL
);`

// progressColumns are added to older state files that predate them.
var progressColumns = []struct{ name, ddl string }{
	{"period", `ALTER TABLE Exported ADD COLUMN period TEXT NOT NULL DEFAULT ''`},
}

// ProgressStore is the durable set of exported study identifiers.
type ProgressStore interface {
	IsExported(ctx context.Context, uid string) (bool, error)
	MarkExported(ctx context.Context, rec models.ProgressRecord) error
	CountExported(ctx context.Context) (int, error)
	ExportedIDs(ctx context.Context) ([]string, error)
	ForgetPeriod(ctx context.Context, period models.PeriodKey) (int, error)
	// Recent returns the latest records, newest first.
	Recent(ctx context.Context, limit int) ([]models.ProgressRecord, error)
	// CountByPeriod returns how many studies were exported into each group.
	CountByPeriod(ctx context.Context) (map[models.PeriodKey]int, error)
	Close() error
}

type sqliteProgressStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// NewProgressStore creates a store backed by the SQLite file at path. The
// file and its directory are created on first use, so constructing a store
// never touches the volume.
func NewProgressStore(path string) ProgressStore {
	return &sqliteProgressStore{path: path}
}

func (s *sqliteProgressStore) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating progress directory: %w", err)
	}
	db, err := sql.Open("sqlite", s.path+"?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("opening progress store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateProgress(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func migrateProgress(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, progressSchema); err != nil {
		return fmt.Errorf("creating progress schema: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info('Exported')`)
	if err != nil {
		return fmt.Errorf("inspecting progress schema: %w", err)
	}
	have := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range progressColumns {
		if have[col.name] {
			continue
		}
		if _, err := db.ExecContext(ctx, col.ddl); err != nil {
			return fmt.Errorf("adding column %s: %w", col.name, err)
		}
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_exported_period ON Exported(period)`); err != nil {
		return fmt.Errorf("creating period index: %w", err)
	}
	return nil
}

func (s *sqliteProgressStore) IsExported(ctx context.Context, uid string) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM Exported WHERE studyInstanceUID = ?`, uid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", uid, err)
	}
	return true, nil
}

// MarkExported inserts the record. The first record for a UID wins.
func (s *sqliteProgressStore) MarkExported(ctx context.Context, rec models.ProgressRecord) error {
	if rec.UID == "" {
		return fmt.Errorf("progress record has empty uid")
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	at := rec.ExportedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO Exported (studyInstanceUID, when_exported, zip_path, period) VALUES (?, ?, ?, ?)
		 ON CONFLICT(studyInstanceUID) DO NOTHING`,
		rec.UID, at.UTC().Format(time.RFC3339), rec.ArchivePath, string(rec.Period))
	if err != nil {
		return fmt.Errorf("recording %s: %w", rec.UID, err)
	}
	return nil
}

func (s *sqliteProgressStore) CountExported(ctx context.Context) (int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM Exported`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting exported: %w", err)
	}
	return n, nil
}

func (s *sqliteProgressStore) ExportedIDs(ctx context.Context) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT studyInstanceUID FROM Exported ORDER BY studyInstanceUID`)
	if err != nil {
		return nil, fmt.Errorf("listing exported: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteProgressStore) ForgetPeriod(ctx context.Context, period models.PeriodKey) (int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM Exported WHERE period = ?`, string(period))
	if err != nil {
		return 0, fmt.Errorf("forgetting period %s: %w", period, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *sqliteProgressStore) Recent(ctx context.Context, limit int) ([]models.ProgressRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT studyInstanceUID, COALESCE(when_exported, ''), zip_path, period FROM Exported
		 ORDER BY when_exported DESC, studyInstanceUID DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent exports: %w", err)
	}
	defer rows.Close()

	var out []models.ProgressRecord
	for rows.Next() {
		var rec models.ProgressRecord
		var at, period string
		if err := rows.Scan(&rec.UID, &at, &rec.ArchivePath, &period); err != nil {
			return nil, err
		}
		rec.ExportedAt = parseTimestamp(at)
		rec.Period = models.PeriodKey(period)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteProgressStore) CountByPeriod(ctx context.Context) (map[models.PeriodKey]int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT period, COUNT(*) FROM Exported GROUP BY period`)
	if err != nil {
		return nil, fmt.Errorf("counting by period: %w", err)
	}
	defer rows.Close()

	out := make(map[models.PeriodKey]int)
	for rows.Next() {
		var period string
		var n int
		if err := rows.Scan(&period, &n); err != nil {
			return nil, err
		}
		out[models.PeriodKey(period)] = n
	}
	return out, rows.Err()
}

func (s *sqliteProgressStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// timestampLayouts are tried in order when reading stored times. The later
// ones match rows written without a zone.
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
