// Package oceanbase provides a snapshot store for OceanBase and other
// MySQL-compatible servers.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/oceanbase/colonymem/pkg/storage"
)

// Client implements storage.SnapshotStore on OceanBase (MySQL mode).
type Client struct {
	*storage.SQLStore
}

// Config contains OceanBase configuration.
type Config struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	User           string `json:"user" yaml:"user"`
	Password       string `json:"password" yaml:"password"`
	DBName         string `json:"db_name" yaml:"db_name"`
	CollectionName string `json:"collection_name" yaml:"collection_name"`
}

// DSN returns the go-sql-driver/mysql connection string.
func (c *Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = 2881
	}
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, port)
	mc.DBName = c.DBName
	mc.ParseTime = true
	return mc.FormatDSN()
}

// Dialect is the MySQL-mode dialect.
var Dialect = storage.Dialect{
	Name:        "oceanbase",
	Placeholder: func(int) string { return "?" },
	Schema: func(agents, blobs string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				agent_id VARCHAR(128) PRIMARY KEY,
				payload LONGBLOB NOT NULL,
				updated_at DATETIME(6) NOT NULL
			)`, agents),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				blob_key VARCHAR(128) PRIMARY KEY,
				payload LONGBLOB NOT NULL,
				updated_at DATETIME(6) NOT NULL
			)`, blobs),
		}
	},
	Upsert: func(table, key string) string {
		return fmt.Sprintf(`INSERT INTO %s (%s, payload, updated_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`,
			table, key)
	},
}

// NewClient connects to OceanBase and creates the tables.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("NewOceanBaseClient: config is required")
	}
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
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
