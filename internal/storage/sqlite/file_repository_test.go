package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *FileRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewFileRepository(db)
}

func TestInitDB_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestFileRepository_TrackKeepsFirstCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.TrackFile(ctx, storage.FileRecord{Path: "/tmp/d/a.mp4", Dir: "/tmp/d", CreatedAt: first, Owner: "one"}))
	require.NoError(t, repo.TrackFile(ctx, storage.FileRecord{Path: "/tmp/d/a.mp4", Dir: "/tmp/d", CreatedAt: first.Add(time.Hour), Owner: "two"}))

	files, err := repo.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.True(t, first.Equal(files[0].CreatedAt), "created_at must not move on re-track")
	assert.Equal(t, "two", files[0].Owner)
}

func TestFileRepository_StaleFilesAndForget(t *testing.T) {
	ctx := context.Background()
	repo := newTestDB(t)

	now := time.Now()
	require.NoError(t, repo.TrackFile(ctx, storage.FileRecord{Path: "/old/a", Dir: "/old", CreatedAt: now, Owner: "dead-instance"}))
	require.NoError(t, repo.TrackFile(ctx, storage.FileRecord{Path: "/new/b", Dir: "/new", CreatedAt: now, Owner: "me"}))

	stale, err := repo.StaleFiles(ctx, "me")
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "/old/a", stale[0].Path)
	assert.Equal(t, "/old", stale[0].Dir)

	require.NoError(t, repo.ForgetFile(ctx, "/old/a"))
	require.NoError(t, repo.ForgetFile(ctx, "/does/not/exist"))

	files, err := repo.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/new/b", files[0].Path)
}

func TestInstrumentedFileRepository_NilTelemetry(t *testing.T) {
	ctx := context.Background()

	db, err := InitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewInstrumentedFileRepository(db, nil)

	require.NoError(t, repo.TrackFile(ctx, storage.FileRecord{Path: "/x", Dir: "/", Owner: "a"}))

	files, err := repo.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.False(t, files[0].CreatedAt.IsZero())

	stale, err := repo.StaleFiles(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, stale)

	require.NoError(t, repo.ForgetFile(ctx, "/x"))
}
