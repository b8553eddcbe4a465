// Package sqlite provides a SQLite snapshot store.
//
// SQLite is the default backend for single-process hosts: the database is a
// single file next to the host's save data, opened in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oceanbase/colonymem/pkg/storage"
)

// Client implements storage.SnapshotStore on SQLite.
type Client struct {
	*storage.SQLStore
}

// Config contains configuration for creating a SQLite snapshot store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string `json:"db_path" yaml:"db_path"`

	// CollectionName prefixes the table names. Default: "colonymem".
	CollectionName string `json:"collection_name" yaml:"collection_name"`
}

// Dialect is the SQLite dialect.
var Dialect = storage.Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Schema: func(agents, blobs string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				agent_id TEXT PRIMARY KEY,
				payload BLOB NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`, agents),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				blob_key TEXT PRIMARY KEY,
				payload BLOB NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`, blobs),
		}
	},
	Upsert: func(table, key string) string {
		return fmt.Sprintf(`INSERT INTO %s (%s, payload, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(%s) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			table, key, key)
	},
}

// NewClient opens (creating if needed) the database file and its tables.
//
// Parameters:
//   - cfg: database path and collection name
//
// Returns:
//   - *Client: the SQLite client instance
//   - error: error if the directory, connection or tables cannot be created
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.DBPath == "" {
		return nil, fmt.Errorf("NewSQLiteClient: db path is required")
	}
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client, err := NewClientWithDB(context.Background(), db, cfg.CollectionName)
	if err != nil {
		db.Close()
		return nil, err
	}
	return client, nil
}

// NewClientWithDB wraps an open connection and creates the tables.
func NewClientWithDB(ctx context.Context, db *sql.DB, collection string) (*Client, error) {
	store, err := storage.NewSQLStore(db, Dialect, collection)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return &Client{SQLStore: store}, nil
}
