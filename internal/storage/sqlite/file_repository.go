package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/media_downloader/internal/storage"
)

// FileRepository implements storage.FileRepository and stores tracked
// temporary files in SQLite.
type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(dbConn *sql.DB) *FileRepository {
	return &FileRepository{db: dbConn}
}

var _ storage.FileRepository = (*FileRepository)(nil)

// TrackFile inserts the record, or refreshes dir and owner while keeping the
// original created_at when the path is already journaled.
func (r *FileRepository) TrackFile(ctx context.Context, rec storage.FileRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO temp_files (path, dir, created_at, owner)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			dir = excluded.dir,
			owner = excluded.owner
	`, rec.Path, rec.Dir, createdAt.UTC().Format(time.RFC3339Nano), rec.Owner)

	return err
}

func (r *FileRepository) ForgetFile(ctx context.Context, path string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM temp_files WHERE path = ?`, path)

	return err
}

func (r *FileRepository) Files(ctx context.Context) ([]storage.FileRecord, error) {
	return r.query(ctx, `SELECT path, dir, created_at, owner FROM temp_files ORDER BY id`)
}

// StaleFiles returns the rows owned by any instance other than owner.
func (r *FileRepository) StaleFiles(ctx context.Context, owner string) ([]storage.FileRecord, error) {
	return r.query(ctx, `SELECT path, dir, created_at, owner FROM temp_files WHERE owner <> ? ORDER BY id`, owner)
}

func (r *FileRepository) query(ctx context.Context, query string, args ...any) ([]storage.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []storage.FileRecord

	for rows.Next() {
		var (
			record    storage.FileRecord
			createdAt string
		)

		if err := rows.Scan(&record.Path, &record.Dir, &createdAt, &record.Owner); err != nil {
			return nil, err
		}

		record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("invalid created_at for %s: %w", record.Path, err)
		}

		files = append(files, record)
	}

	return files, rows.Err()
}
