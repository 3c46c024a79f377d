package store

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"
)

const currentSchemaVersion = 1

// Snapshot table definitions
const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);
`

const metaTable = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const recordsTable = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id TEXT UNIQUE NOT NULL,
	path TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	extension TEXT NOT NULL,
	tags TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	ctime INTEGER NOT NULL
);
`

const (
	metaDimensions = "dimensions"
	metaModel      = "model"
)

// createVectorTable creates the sqlite-vec virtual table for the given dimensions.
func createVectorTable(tx *sql.Tx, dimensions int) error {
	query := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS record_vectors USING vec0(
			record_rowid INTEGER PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, dimensions)

	_, err := tx.Exec(query)
	return err
}

// initSchema creates the snapshot tables and stores the index schema.
func initSchema(tx *sql.Tx, schema Schema) error {
	for _, table := range []string{schemaVersionTable, metaTable, recordsTable} {
		if _, err := tx.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := createVectorTable(tx, schema.Dimensions); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	meta := map[string]string{
		metaDimensions: strconv.Itoa(schema.Dimensions),
		metaModel:      schema.Model,
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("failed to write %s: %w", k, err)
		}
	}

	return nil
}

// readSchema loads the index schema embedded in a snapshot.
func readSchema(db *sql.DB) (Schema, error) {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		return Schema{}, fmt.Errorf("failed to check schema version: %w", err)
	}
	if version != currentSchemaVersion {
		return Schema{}, fmt.Errorf("unsupported snapshot version %d", version)
	}
	log.Debug("Snapshot schema version", "version", version)

	rows, err := db.Query("SELECT key, value FROM meta")
	if err != nil {
		return Schema{}, fmt.Errorf("failed to read meta: %w", err)
	}
	defer rows.Close()

	var schema Schema
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Schema{}, fmt.Errorf("failed to scan meta: %w", err)
		}
		switch k {
		case metaDimensions:
			schema.Dimensions, err = strconv.Atoi(v)
			if err != nil {
				return Schema{}, fmt.Errorf("invalid dimensions %q: %w", v, err)
			}
		case metaModel:
			schema.Model = v
		}
	}
	if err := rows.Err(); err != nil {
		return Schema{}, err
	}
	if schema.Dimensions <= 0 {
		return Schema{}, fmt.Errorf("snapshot has no vector dimensions")
	}

	return schema, nil
}
