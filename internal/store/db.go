package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 2

// openDB opens the SQLite database and applies migrations.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=10000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrate applies schema migrations incrementally, tracked through
// PRAGMA user_version.
func migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}

	for version < schemaVersion {
		version++
		switch version {
		case 1:
			if err := applySchemaV1(tx); err != nil {
				return fmt.Errorf("apply schema v%d: %w", version, err)
			}
		case 2:
			if err := applySchemaV2(tx); err != nil {
				return fmt.Errorf("apply schema v%d: %w", version, err)
			}
		default:
			return fmt.Errorf("unknown schema version: %d", version)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// applySchemaV1 creates the memories table. Tags and the embedding vector
// are stored as JSON text; no vector support is required of the backing
// store since ranking happens in application code.
func applySchemaV1(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			agent TEXT NOT NULL DEFAULT '',
			importance TEXT NOT NULL CHECK(importance IN ('low', 'medium', 'high')),
			tags TEXT NOT NULL DEFAULT '[]',
			embedding TEXT NOT NULL DEFAULT '[]',
			timestamp DATETIME NOT NULL
		)
	`)
	return err
}

// applySchemaV2 adds the indexes the filter-then-score query path leans on.
func applySchemaV2(tx *sql.Tx) error {
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS memories_agent ON memories(agent)`,
		`CREATE INDEX IF NOT EXISTS memories_importance ON memories(importance)`,
		`CREATE INDEX IF NOT EXISTS memories_timestamp ON memories(timestamp DESC)`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
