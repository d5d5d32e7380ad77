// Package catalog reads exportable studies from the Horos catalog. The
// catalog is never written: queries run against a consistent copy taken with
// VACUUM INTO, or against the live file opened read-only.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"

	_ "modernc.org/sqlite"
)

// ErrCatalogMissing is returned when the Horos catalog file does not exist.
var ErrCatalogMissing = errors.New("horos catalog not found")

// orderColumns maps the configured ordering to the ZSTUDY column used as the
// primary sort key.
var orderColumns = map[models.OrderBy]string{
	models.OrderByStudyDate: "ZDATE",
	models.OrderByDateAdded: "ZDATEADDED",
}

const modalityMatch = `TRIM(UPPER(COALESCE(s.ZMODALITY, ''))) IN (SELECT value FROM json_each(?))`

const selectStudiesQuery = `
SELECT st.Z_PK, st.ZSTUDYINSTANCEUID, COALESCE(st.ZNAME, ''), st.ZDATEOFBIRTH, st.ZDATE, st.ZDATEADDED
FROM ZSTUDY st
WHERE COALESCE(st.ZSTUDYINSTANCEUID, '') <> ''
  AND EXISTS (SELECT 1 FROM ZSERIES s WHERE s.ZSTUDY = st.Z_PK AND ` + modalityMatch + `)
  AND st.ZSTUDYINSTANCEUID NOT IN (SELECT value FROM json_each(?))
ORDER BY COALESCE(st.%s, '') ASC, st.ZSTUDYINSTANCEUID ASC
LIMIT ?`

const imagePathsQuery = `
SELECT DISTINCT i.ZPATHSTRING, i.ZPATHNUMBER, i.ZSTOREDINDATABASEFOLDER
FROM ZSERIES s
JOIN ZIMAGE i ON i.ZSERIES = s.Z_PK
WHERE s.ZSTUDY = ?
  AND i.ZPATHSTRING IS NOT NULL
  AND i.ZPATHSTRING <> ''
ORDER BY 1, 2`

const candidateStatsQuery = `
WITH cs AS (
  SELECT DISTINCT st.ZSTUDYINSTANCEUID AS uid
  FROM ZSTUDY st
  JOIN ZSERIES s ON s.ZSTUDY = st.Z_PK
  WHERE COALESCE(st.ZSTUDYINSTANCEUID, '') <> '' AND ` + modalityMatch + `
)
SELECT
  (SELECT COUNT(*) FROM cs),
  (SELECT COUNT(*) FROM cs WHERE uid IN (SELECT value FROM json_each(?)))`

const modalityStatsQuery = `
SELECT TRIM(UPPER(COALESCE(s.ZMODALITY, ''))), COUNT(DISTINCT s.ZSTUDY)
FROM ZSERIES s
WHERE ` + modalityMatch + `
GROUP BY 1`

// Reader selects work items from the catalog according to the export
// configuration.
type Reader struct {
	layout   models.Layout
	export   models.ExportConfig
	logger   *slog.Logger
	resolver pathResolver
}

// NewReader creates a Reader for the catalog described by cfg.
func NewReader(cfg models.Config, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	layout := cfg.Paths.Layout()
	return &Reader{
		layout: layout,
		export: cfg.Export,
		logger: logger,
		resolver: pathResolver{
			databaseDir:  layout.DatabaseDir,
			horosDataDir: layout.HorosDataDir,
			isFile:       isRegularFile,
		},
	}
}

// Snapshot returns the catalog file this run should query, building a fresh
// copy when the snapshot policy asks for one.
func (r *Reader) Snapshot(ctx context.Context) (models.SnapshotHandle, error) {
	if _, err := os.Stat(r.layout.CatalogDB); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.SnapshotHandle{}, fmt.Errorf("%w: %s", ErrCatalogMissing, r.layout.CatalogDB)
		}
		return models.SnapshotHandle{}, fmt.Errorf("checking catalog: %w", err)
	}
	r.logLayout(ctx)

	switch r.export.SnapshotPolicy {
	case models.SnapshotOff:
		r.logger.Info("querying live catalog read-only", "path", r.layout.CatalogDB)
		return models.SnapshotHandle{Path: r.layout.CatalogDB, Live: true, CreatedAt: time.Now()}, nil
	case models.SnapshotReuse:
		info, err := os.Stat(r.layout.SnapshotPath)
		if err == nil {
			r.logger.Info("reusing catalog snapshot",
				"path", r.layout.SnapshotPath, "size", info.Size(), "mtime", info.ModTime().Format(time.RFC3339))
			return models.SnapshotHandle{Path: r.layout.SnapshotPath, CreatedAt: info.ModTime()}, nil
		}
		r.logger.Warn("catalog snapshot missing, creating one", "path", r.layout.SnapshotPath)
	}
	return r.Refresh(ctx)
}

// Current returns a handle that can be queried without writing anything:
// the existing snapshot copy when there is one, otherwise the live catalog.
func (r *Reader) Current() (models.SnapshotHandle, error) {
	if r.export.SnapshotPolicy != models.SnapshotOff {
		if info, err := os.Stat(r.layout.SnapshotPath); err == nil {
			return models.SnapshotHandle{Path: r.layout.SnapshotPath, CreatedAt: info.ModTime()}, nil
		}
	}
	if _, err := os.Stat(r.layout.CatalogDB); err != nil {
		return models.SnapshotHandle{}, fmt.Errorf("%w: %s", ErrCatalogMissing, r.layout.CatalogDB)
	}
	return models.SnapshotHandle{Path: r.layout.CatalogDB, Live: true}, nil
}

// Refresh rebuilds the snapshot copy regardless of policy. The copy is
// written to a staging file and renamed into place, so a reader never sees
// a partial snapshot.
func (r *Reader) Refresh(ctx context.Context) (models.SnapshotHandle, error) {
	if err := os.MkdirAll(r.layout.SnapshotDir, 0o755); err != nil {
		return models.SnapshotHandle{}, fmt.Errorf("creating snapshot directory: %w", err)
	}
	staging := r.layout.SnapshotPath + ".part"
	if err := os.Remove(staging); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return models.SnapshotHandle{}, fmt.Errorf("removing stale snapshot staging file: %w", err)
	}

	db, err := openReadOnly(r.layout.CatalogDB)
	if err != nil {
		return models.SnapshotHandle{}, err
	}
	defer db.Close()

	started := time.Now()
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, staging); err != nil {
		os.Remove(staging)
		return models.SnapshotHandle{}, fmt.Errorf("copying catalog: %w", err)
	}
	if err := os.Rename(staging, r.layout.SnapshotPath); err != nil {
		os.Remove(staging)
		return models.SnapshotHandle{}, fmt.Errorf("publishing snapshot: %w", err)
	}

	handle := models.SnapshotHandle{Path: r.layout.SnapshotPath, Refreshed: true, CreatedAt: time.Now()}
	if info, err := os.Stat(handle.Path); err == nil {
		r.logger.Info("catalog snapshot created",
			"path", handle.Path, "size", info.Size(), "took", time.Since(started).Round(time.Millisecond))
	}
	return handle, nil
}

// Stats counts the studies matching the modality filter and how many of them
// are excluded.
func (r *Reader) Stats(ctx context.Context, snap models.SnapshotHandle, exclude []string) (models.CatalogStats, error) {
	mods, err := jsonList(r.export.Modalities)
	if err != nil {
		return models.CatalogStats{}, err
	}
	excl, err := jsonList(exclude)
	if err != nil {
		return models.CatalogStats{}, err
	}

	db, err := openReadOnly(snap.Path)
	if err != nil {
		return models.CatalogStats{}, err
	}
	defer db.Close()

	stats := models.CatalogStats{ByModality: make(map[string]int)}
	if err := db.QueryRowContext(ctx, candidateStatsQuery, mods, excl).Scan(&stats.Candidates, &stats.Excluded); err != nil {
		return models.CatalogStats{}, fmt.Errorf("counting candidates: %w", err)
	}
	stats.Pending = max(0, stats.Candidates-stats.Excluded)

	rows, err := db.QueryContext(ctx, modalityStatsQuery, mods)
	if err != nil {
		return models.CatalogStats{}, fmt.Errorf("counting by modality: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mod string
		var n int
		if err := rows.Scan(&mod, &n); err != nil {
			return models.CatalogStats{}, err
		}
		stats.ByModality[mod] = n
	}
	return stats, rows.Err()
}

// NextBatch returns up to limit studies that match the modality filter and
// are not in exclude, in stable order. An empty result is not an error.
func (r *Reader) NextBatch(ctx context.Context, snap models.SnapshotHandle, exclude []string, limit int) ([]models.WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	col, ok := orderColumns[r.export.OrderBy]
	if !ok {
		return nil, fmt.Errorf("unsupported order %q", r.export.OrderBy)
	}
	mods, err := jsonList(r.export.Modalities)
	if err != nil {
		return nil, err
	}
	excl, err := jsonList(exclude)
	if err != nil {
		return nil, err
	}

	db, err := openReadOnly(snap.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	items, err := selectStudies(ctx, db, fmt.Sprintf(selectStudiesQuery, col), mods, excl, limit)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if err := r.attachFiles(ctx, db, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func selectStudies(ctx context.Context, db *sql.DB, query, mods, excl string, limit int) ([]models.WorkItem, error) {
	rows, err := db.QueryContext(ctx, query, mods, excl, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting studies: %w", err)
	}
	defer rows.Close()

	var items []models.WorkItem
	for rows.Next() {
		var it models.WorkItem
		if err := rows.Scan(&it.PK, &it.UID, &it.PatientName, &it.BirthDate, &it.StudyDate, &it.DateAdded); err != nil {
			return nil, fmt.Errorf("reading study row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("selecting studies: %w", err)
	}
	return items, nil
}

// attachFiles resolves the image rows of one study to files on disk.
func (r *Reader) attachFiles(ctx context.Context, db *sql.DB, it *models.WorkItem) error {
	rows, err := db.QueryContext(ctx, imagePathsQuery, it.PK)
	if err != nil {
		return fmt.Errorf("listing images of %s: %w", it.UID, err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	total := 0
	for rows.Next() {
		var pathString string
		var pathNumber, inDatabase any
		if err := rows.Scan(&pathString, &pathNumber, &inDatabase); err != nil {
			return fmt.Errorf("reading image row of %s: %w", it.UID, err)
		}
		total++
		found, probes := r.resolver.resolve(pathString, pathNumber, inDatabase)
		if len(it.Checked) < maxCheckedSample {
			it.Checked = append(it.Checked, probes[:min(len(probes), maxCheckedSample-len(it.Checked))]...)
		}
		if found != "" && !seen[found] {
			seen[found] = true
			it.Files = append(it.Files, found)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing images of %s: %w", it.UID, err)
	}
	r.logger.Debug("resolved study images", "uid", it.UID, "study_pk", it.PK, "rows", total, "found", len(it.Files))
	return nil
}

// logLayout dumps the directories the resolver relies on. It only runs at
// debug level.
func (r *Reader) logLayout(ctx context.Context) {
	if !r.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	r.logger.Debug("filesystem layout",
		"horos_data", r.layout.HorosDataDir, "horos_data_exists", dirExists(r.layout.HorosDataDir),
		"database_dir", r.layout.DatabaseDir, "database_dir_exists", dirExists(r.layout.DatabaseDir))

	entries, err := os.ReadDir(r.layout.DatabaseDir)
	if err != nil {
		return
	}
	var numeric []string
	for _, e := range entries {
		if e.IsDir() && isDigits(e.Name()) {
			numeric = append(numeric, e.Name())
			if len(numeric) >= 10 {
				break
			}
		}
	}
	r.logger.Debug("database dir numeric subfolders", "sample", strings.Join(numeric, ","))
}

// openReadOnly opens a catalog file without any possibility of writing it.
func openReadOnly(path string) (*sql.DB, error) {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: "mode=ro"}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, fmt.Errorf("opening catalog %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// jsonList encodes values as a JSON array for json_each. A nil slice becomes
// an empty array.
func jsonList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encoding query list: %w", err)
	}
	return string(b), nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
