package postgres_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/colonymem/pkg/storage"
	"github.com/oceanbase/colonymem/pkg/storage/postgres"
)

func TestPostgresDialect(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS mem_agents")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS mem_blobs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	client, err := postgres.NewClientWithDB(ctx, db, "mem")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO mem_agents (agent_id, payload, updated_at) VALUES ($1, $2, $3)") +
		`\s+` + regexp.QuoteMeta("ON CONFLICT (agent_id) DO UPDATE")).
		WithArgs("a1", []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, client.SaveAgent(ctx, "a1", []byte(`{}`)))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM mem_agents WHERE agent_id = $1")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`{}`)))
	got, err := client.LoadAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(got))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM mem_blobs WHERE blob_key = $1")).
		WithArgs(storage.BlobKnowledge).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	_, err = client.LoadBlob(ctx, storage.BlobKnowledge)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT agent_id FROM mem_agents ORDER BY agent_id")).
		WillReturnRows(sqlmock.NewRows([]string{"agent_id"}).AddRow("a1").AddRow("a2"))
	ids, err := client.ListAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM mem_agents WHERE agent_id = $1")).
		WithArgs("a2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, client.DeleteAgent(ctx, "a2"))

	mock.ExpectClose()
	require.NoError(t, client.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDSN(t *testing.T) {
	cfg := &postgres.Config{Host: "db", User: "u", Password: "p", DBName: "colony"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=colony sslmode=disable", cfg.DSN())
}
