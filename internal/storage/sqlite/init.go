package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite journal at path and creates the temp_files table if it doesn't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	// the journal is written from request goroutines and the sweeper
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS temp_files (
		id INTEGER PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		dir TEXT NOT NULL,
		created_at TEXT NOT NULL,
		owner TEXT NOT NULL
	)`)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create temp_files table: %w", err)
	}

	return db, nil
}
