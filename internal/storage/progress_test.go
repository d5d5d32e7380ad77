package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

func newTestProgressStore(t *testing.T) (ProgressStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup", "export_state.sqlite")
	s := NewProgressStore(path)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestProgressStore_LazyCreation(t *testing.T) {
	_, path := newTestProgressStore(t)
	_, err := os.Stat(filepath.Dir(path))
	assert.True(t, os.IsNotExist(err), "constructing the store must not create files")
}

func TestProgressStore_MarkAndQuery(t *testing.T) {
	ctx := context.Background()
	s, path := newTestProgressStore(t)

	ok, err := s.IsExported(ctx, "1.2.3")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkExported(ctx, models.ProgressRecord{
		UID: "1.2.3", ExportedAt: at, ArchivePath: "/b/2023_02/x.zip", Period: "2023_02",
	}))
	require.NoError(t, s.MarkExported(ctx, models.ProgressRecord{
		UID: "1.2.4", ExportedAt: at.Add(time.Minute), ArchivePath: "/b/2023_03/y.zip", Period: "2023_03",
	}))

	ok, err = s.IsExported(ctx, "1.2.3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, path)

	n, err := s.CountExported(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := s.ExportedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3", "1.2.4"}, ids)

	recent, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "1.2.4", recent[0].UID)
	assert.Equal(t, models.PeriodKey("2023_03"), recent[0].Period)
	assert.True(t, recent[0].ExportedAt.Equal(at.Add(time.Minute)))
}

func TestProgressStore_MarkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestProgressStore(t)

	first := models.ProgressRecord{UID: "9.9", ArchivePath: "/first.zip", Period: "2023_01"}
	require.NoError(t, s.MarkExported(ctx, first))
	require.NoError(t, s.MarkExported(ctx, models.ProgressRecord{UID: "9.9", ArchivePath: "/second.zip", Period: "2023_01"}))

	n, err := s.CountExported(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "/first.zip", recent[0].ArchivePath, "the first record must win")
}

func TestProgressStore_RejectsEmptyUID(t *testing.T) {
	s, _ := newTestProgressStore(t)
	assert.Error(t, s.MarkExported(context.Background(), models.ProgressRecord{}))
}

func TestProgressStore_ForgetPeriod(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestProgressStore(t)

	for _, rec := range []models.ProgressRecord{
		{UID: "a", Period: "2023_01"},
		{UID: "b", Period: "2023_02"},
		{UID: "c", Period: "2023_02"},
	} {
		require.NoError(t, s.MarkExported(ctx, rec))
	}

	n, err := s.ForgetPeriod(ctx, "2023_02")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := s.ExportedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	byPeriod, err := s.CountByPeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.PeriodKey]int{"2023_01": 1}, byPeriod)
}

func TestProgressStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "export_state.sqlite")

	s1 := NewProgressStore(path)
	require.NoError(t, s1.MarkExported(ctx, models.ProgressRecord{UID: "1.1", Period: "2023_01"}))
	require.NoError(t, s1.Close())

	s2 := NewProgressStore(path)
	defer s2.Close()
	ok, err := s2.IsExported(ctx, "1.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProgressStore_UpgradesLegacyFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "export_state.sqlite")

	// A state file written before the period column existed.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE Exported (
		studyInstanceUID TEXT PRIMARY KEY,
		when_exported    TEXT NOT NULL,
		zip_path         TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO Exported VALUES ('legacy.1', '2024-01-02 03:04:05', '/old.zip')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s := NewProgressStore(path)
	defer s.Close()

	ok, err := s.IsExported(ctx, "legacy.1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.MarkExported(ctx, models.ProgressRecord{UID: "new.1", Period: "2024_01"}))
	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	var legacy models.ProgressRecord
	for _, r := range recent {
		if r.UID == "legacy.1" {
			legacy = r
		}
	}
	assert.Equal(t, "/old.zip", legacy.ArchivePath)
	assert.Equal(t, 2024, legacy.ExportedAt.Year())
}
