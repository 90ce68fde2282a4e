package storage

import (
	"context"
	"time"
)

// FileRecord is a journal row for a temporary file the service still owns.
type FileRecord struct {
	Path      string
	Dir       string
	CreatedAt time.Time
	Owner     string
}

type FileReadRepository interface {
	Files(ctx context.Context) ([]FileRecord, error)
	StaleFiles(ctx context.Context, owner string) ([]FileRecord, error) // rows written by any other instance
}

type FileWriteRepository interface {
	TrackFile(ctx context.Context, rec FileRecord) error // keeps the first created_at of a path
	ForgetFile(ctx context.Context, path string) error
}

type FileRepository interface {
	FileReadRepository
	FileWriteRepository
}
