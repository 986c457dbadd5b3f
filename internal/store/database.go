package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database manages the SQLite connection behind the snapshot store
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase opens (and if needed creates) the configuration database
func NewDatabase(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	database := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// GetDB returns the underlying database connection
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// initSchema creates the configuration tables. The admin backend owns
// their content; this process only reads them.
func (d *Database) initSchema() error {
	schema := `
	-- Configured video sources
	CREATE TABLE IF NOT EXISTS streams (
		id TEXT PRIMARY KEY,
		protocol TEXT NOT NULL,
		target TEXT NOT NULL,
		location TEXT,
		enabled BOOLEAN DEFAULT 1,
		options TEXT, -- JSON protocol-specific options
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Detection rules
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		enabled BOOLEAN DEFAULT 1,
		stream_kind TEXT,
		stream_ids TEXT, -- JSON array
		subject_ids TEXT, -- JSON array
		categories TEXT NOT NULL, -- JSON array
		confidence_threshold REAL NOT NULL,
		duration_seconds INTEGER DEFAULT 0,
		schedule TEXT, -- JSON schedule
		notify TEXT, -- JSON notification config
		priority INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_streams_enabled ON streams(enabled);
	CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled, priority DESC);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
