package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps the sqlite handle holding properties, channels, rate records and the sync ledger.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		// every connection would get its own empty database otherwise
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: db, path: path, logger: logger}, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func dsn(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS properties (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            timezone TEXT NOT NULL DEFAULT 'UTC',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS channels (
            channel_id TEXT PRIMARY KEY,
            property_id TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            provider_type TEXT NOT NULL,
            hotel_id TEXT NOT NULL,
            currency TEXT NOT NULL DEFAULT '',
            room_type_mapping TEXT NOT NULL DEFAULT '{}',
            rate_plan_mapping TEXT NOT NULL DEFAULT '{}',
            is_active BOOLEAN NOT NULL DEFAULT 1,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS rate_inventory (
            id TEXT PRIMARY KEY,
            property_id TEXT NOT NULL,
            date TEXT NOT NULL,
            room_type TEXT NOT NULL,
            rate_plan TEXT NOT NULL,
            rate REAL,
            inventory INTEGER,
            min_stay INTEGER NOT NULL DEFAULT 0,
            max_stay INTEGER NOT NULL DEFAULT 0,
            closed_to_arrival BOOLEAN NOT NULL DEFAULT 0,
            closed_to_departure BOOLEAN NOT NULL DEFAULT 0,
            stop_sell BOOLEAN NOT NULL DEFAULT 0,
            updated_at DATETIME NOT NULL,
            sync_status TEXT NOT NULL DEFAULT 'PENDING',
            sync_error TEXT NOT NULL DEFAULT '',
            last_synced_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS sync_ledger (
            sync_id TEXT PRIMARY KEY,
            parent_sync_id TEXT NOT NULL DEFAULT '',
            property_id TEXT NOT NULL,
            channel_id TEXT NOT NULL,
            operation TEXT NOT NULL,
            priority TEXT NOT NULL,
            requested_by TEXT NOT NULL DEFAULT '',
            retry_count INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            total_records INTEGER NOT NULL,
            success_count INTEGER NOT NULL DEFAULT 0,
            failed_count INTEGER NOT NULL DEFAULT 0,
            error_summary TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            started_at DATETIME,
            completed_at DATETIME,
            duration_ms INTEGER NOT NULL DEFAULT 0
        )`,

		`CREATE INDEX IF NOT EXISTS idx_channels_property ON channels(property_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_inventory_property ON rate_inventory(property_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rate_inventory_date ON rate_inventory(property_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_ledger_property ON sync_ledger(property_id, channel_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_ledger_status ON sync_ledger(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_ledger_parent ON sync_ledger(parent_sync_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
