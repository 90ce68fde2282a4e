package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/italolelis/media_downloader/internal/telemetry"
)

// InstrumentedFileRepository wraps FileRepository with telemetry.
type InstrumentedFileRepository struct {
	repo      *FileRepository
	telemetry *telemetry.Telemetry
}

var _ storage.FileRepository = (*InstrumentedFileRepository)(nil)

// NewInstrumentedFileRepository creates a new instrumented file repository.
func NewInstrumentedFileRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedFileRepository {
	return &InstrumentedFileRepository{
		repo:      NewFileRepository(dbConn),
		telemetry: tel,
	}
}

// TrackFile journals a file with telemetry.
func (r *InstrumentedFileRepository) TrackFile(ctx context.Context, rec storage.FileRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_file", func(ctx context.Context) error {
		return r.repo.TrackFile(ctx, rec)
	})
}

// ForgetFile drops a journal row with telemetry.
func (r *InstrumentedFileRepository) ForgetFile(ctx context.Context, path string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "forget_file", func(ctx context.Context) error {
		return r.repo.ForgetFile(ctx, path)
	})
}

// Files lists every journal row with telemetry.
func (r *InstrumentedFileRepository) Files(ctx context.Context) ([]storage.FileRecord, error) {
	var result []storage.FileRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "files", func(ctx context.Context) error {
		var err error

		result, err = r.repo.Files(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// StaleFiles lists rows owned by other instances with telemetry.
func (r *InstrumentedFileRepository) StaleFiles(ctx context.Context, owner string) ([]storage.FileRecord, error) {
	var result []storage.FileRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "stale_files", func(ctx context.Context) error {
		var err error

		result, err = r.repo.StaleFiles(ctx, owner)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
