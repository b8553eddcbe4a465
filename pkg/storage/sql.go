package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Dialect holds the backend-specific SQL.
type Dialect struct {
	// Name is the driver name, for error messages.
	Name string

	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder func(n int) string

	// Schema returns the statements that create the agents and blobs
	// tables. Both tables have a key column, a payload column and an
	// updated_at column.
	Schema func(agents, blobs string) []string

	// Upsert returns an insert-or-replace statement taking key, payload and
	// updated_at in that order.
	Upsert func(table, keyColumn string) string
}

// SQLStore is a SnapshotStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	agents  string
	blobs   string
	now     func() time.Time
}

// NewSQLStore wraps an open connection. Call Init before use to create the
// tables.
func NewSQLStore(db *sql.DB, d Dialect, collection string) (*SQLStore, error) {
	name, err := CollectionName(collection)
	if err != nil {
		return nil, err
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		agents:  name + "_agents",
		blobs:   name + "_blobs",
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Init creates the tables if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema(s.agents, s.blobs) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: init tables: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// DB returns the underlying connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Tables returns the agents and blobs table names.
func (s *SQLStore) Tables() (agents, blobs string) {
	return s.agents, s.blobs
}

func (s *SQLStore) SaveAgent(ctx context.Context, agentID string, payload []byte) error {
	return s.upsert(ctx, s.agents, "agent_id", agentID, payload)
}

func (s *SQLStore) LoadAgent(ctx context.Context, agentID string) ([]byte, error) {
	return s.load(ctx, s.agents, "agent_id", agentID)
}

func (s *SQLStore) SaveBlob(ctx context.Context, key string, payload []byte) error {
	return s.upsert(ctx, s.blobs, "blob_key", key, payload)
}

func (s *SQLStore) LoadBlob(ctx context.Context, key string) ([]byte, error) {
	return s.load(ctx, s.blobs, "blob_key", key)
}

func (s *SQLStore) ListAgents(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT agent_id FROM %s ORDER BY agent_id", s.agents)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: list agents: %w", s.dialect.Name, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: list agents: %w", s.dialect.Name, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: list agents: %w", s.dialect.Name, err)
	}
	return ids, nil
}

func (s *SQLStore) DeleteAgent(ctx context.Context, agentID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE agent_id = %s", s.agents, s.dialect.Placeholder(1))
	if _, err := s.db.ExecContext(ctx, query, agentID); err != nil {
		return fmt.Errorf("%s: delete agent: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) upsert(ctx context.Context, table, keyColumn, key string, payload []byte) error {
	if key == "" {
		return fmt.Errorf("%s: save %s: empty key", s.dialect.Name, table)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.Upsert(table, keyColumn), key, payload, s.now()); err != nil {
		return fmt.Errorf("%s: save %s: %w", s.dialect.Name, table, err)
	}
	return nil
}

func (s *SQLStore) load(ctx context.Context, table, keyColumn, key string) ([]byte, error) {
	query := fmt.Sprintf("SELECT payload FROM %s WHERE %s = %s", table, keyColumn, s.dialect.Placeholder(1))
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load %s: %w", s.dialect.Name, table, err)
	}
	return payload, nil
}
