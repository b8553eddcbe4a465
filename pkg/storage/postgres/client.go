// Package postgres provides a PostgreSQL snapshot store for hosts that run
// many simulations against a shared server.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/oceanbase/colonymem/pkg/storage"
)

// Client implements storage.SnapshotStore on PostgreSQL.
type Client struct {
	*storage.SQLStore
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	User           string `json:"user" yaml:"user"`
	Password       string `json:"password" yaml:"password"`
	DBName         string `json:"db_name" yaml:"db_name"`
	SSLMode        string `json:"ssl_mode" yaml:"ssl_mode"`
	CollectionName string `json:"collection_name" yaml:"collection_name"`
}

// DSN returns the lib/pq connection string.
func (c *Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.DBName, sslMode)
}

// Dialect is the PostgreSQL dialect.
var Dialect = storage.Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Schema: func(agents, blobs string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				agent_id VARCHAR(255) PRIMARY KEY,
				payload BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`, agents),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				blob_key VARCHAR(255) PRIMARY KEY,
				payload BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`, blobs),
		}
	},
	Upsert: func(table, key string) string {
		return fmt.Sprintf(`INSERT INTO %s (%s, payload, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (%s) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
			table, key, key)
	},
}

// NewClient connects to PostgreSQL and creates the tables.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("NewPostgresClient: config is required")
	}
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
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
