package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	table_name TEXT NOT NULL,
	id         TEXT NOT NULL,
	fields     TEXT NOT NULL DEFAULT '{}',
	meta       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (table_name, id)
);

CREATE INDEX IF NOT EXISTS idx_records_table_created ON records(table_name, created_at);
`

// SQLite is a Provider backed by a single SQLite database. Every table of
// the record store lives in one physical table keyed by table_name; fields
// are a JSON object and meta is the engine's JSON blob.
type SQLite struct {
	conn     *sql.DB
	path     string
	pageSize uint64
}

var _ Provider = (*SQLite)(nil)

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLite{conn: conn, path: path, pageSize: 100}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping() error {
	return s.conn.Ping()
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}
