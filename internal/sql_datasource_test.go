package internal

import (
	"context"
	"errors"
	"testing"

	"github.com/bdlm/bedlam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openFixtureDB returns an in-memory DuckDB datasource with a users table.
// Fixtures run before the datasource opens its transaction since the pool
// holds a single connection.
func openFixtureDB(t *testing.T) *SQLDatasource {
	t.Helper()
	ctx := context.Background()

	ds, err := OpenDuckDB(ctx, bedlam.DuckDBConfig{MaxConnections: 1}, DatasourceOptions{LogQueries: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close(context.Background()) })

	for _, stmt := range []string{
		`CREATE SEQUENCE users_seq START 1`,
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY DEFAULT nextval('users_seq'),
			name VARCHAR,
			status VARCHAR NOT NULL DEFAULT 'active',
			created_by BIGINT
		)`,
		`CREATE TABLE posts (
			id INTEGER PRIMARY KEY,
			users_id INTEGER NOT NULL,
			title VARCHAR
		)`,
		`INSERT INTO posts VALUES (1, 1, 'hello'), (2, 1, 'again'), (3, 2, 'other')`,
	} {
		_, err := ds.DB().ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return ds
}

func TestNewSQLDatasource_Driver(t *testing.T) {
	ds, err := NewSQLDatasource(nil, bedlam.DriverPostgres, DatasourceOptions{})
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, ds.Dialect())

	ds, err = NewSQLDatasource(nil, bedlam.DriverDuckDB, DatasourceOptions{Dialect: DialectMySQL})
	require.NoError(t, err)
	assert.Equal(t, DialectMySQL, ds.Dialect())

	_, err = NewSQLDatasource(nil, "sqlite3", DatasourceOptions{})
	assert.Equal(t, bedlam.ErrCodeInvalidDriver, bedlam.ErrorCodeOf(err))

	_, err = ds.Prepare(context.Background(), "SELECT 1", nil)
	assert.Equal(t, bedlam.ErrCodeNoConnection, bedlam.ErrorCodeOf(err))
}

func TestSQLDatasource_Query(t *testing.T) {
	ds := openFixtureDB(t)
	ctx := context.Background()

	q, err := ds.Prepare(ctx, "SELECT id, title FROM posts WHERE users_id = :user ORDER BY id", map[string]any{"user": 1})
	require.NoError(t, err)
	require.NoError(t, q.Limit(1, 5))

	row, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.Get("id"))
	assert.Equal(t, "again", row.Get("title"))

	_, err = q.Next(ctx)
	assert.True(t, errors.Is(err, bedlam.ErrNoRows))
	require.NoError(t, q.Close())
	require.NoError(t, ds.Commit(ctx))
}

func TestSQLDatasource_RollbackDiscards(t *testing.T) {
	ds := openFixtureDB(t)
	ctx := context.Background()

	q, err := ds.Prepare(ctx, "DELETE FROM posts WHERE users_id = :user", map[string]any{"user": 1})
	require.NoError(t, err)
	require.NoError(t, q.Execute(ctx))
	assert.Equal(t, int64(2), q.RowsAffected())
	require.NoError(t, q.Rollback(ctx))

	q, err = ds.Prepare(ctx, "SELECT count(*) AS n FROM posts", nil)
	require.NoError(t, err)
	row, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), row.Get("n"))
	require.NoError(t, ds.Rollback(ctx))
}

func TestSQLDatasource_RecordRoundTrip(t *testing.T) {
	ds := openFixtureDB(t)
	ctx := bedlam.WithActor(context.Background(), bedlam.Actor{ID: int64(9)})

	schema, err := NewSchema(ds, "users")
	require.NoError(t, err)
	fields, err := schema.Fields(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "status", "created_by"}, fields)

	id, err := schema.Describe(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, "PRI", id.Key)
	assert.Equal(t, "integer", id.Type)

	rec, err := NewRecord(schema, []string{"id"}, DefaultRecordOptions())
	require.NoError(t, err)
	require.NoError(t, rec.Set("name", "Ada"))
	require.NoError(t, rec.Set("status", "active"))

	saved, err := rec.Save(ctx, false)
	require.NoError(t, err)
	require.True(t, saved)
	assert.Equal(t, bedlam.Identity{"id": int64(1)}, rec.ID())

	loaded, err := NewRecord(schema, []string{"id"}, DefaultRecordOptions())
	require.NoError(t, err)
	require.NoError(t, loaded.SetID(rec.ID()))
	require.NoError(t, loaded.Load(ctx, false))

	name, _ := loaded.Get("name")
	assert.Equal(t, "Ada", name)
	createdBy, _ := loaded.Get("created_by")
	assert.Equal(t, int64(9), createdBy)

	require.NoError(t, loaded.Set("name", "Ada Lovelace"))
	saved, err = loaded.Save(ctx, false)
	require.NoError(t, err)
	assert.True(t, saved)

	copied, err := loaded.Copy(ctx)
	require.NoError(t, err)
	assert.Equal(t, bedlam.Identity{"id": int64(2)}, copied.ID())

	require.NoError(t, loaded.DeleteRecord(ctx, false))
	require.NoError(t, loaded.Load(ctx, true))
	status, _ := loaded.Get("status")
	assert.Equal(t, "deleted", status)

	require.NoError(t, loaded.DeleteRecord(ctx, true))
	err = loaded.Load(ctx, true)
	assert.Equal(t, bedlam.ErrCodeRecordNotFound, bedlam.ErrorCodeOf(err))
}

func TestSQLDatasource_Composite(t *testing.T) {
	ds := openFixtureDB(t)
	ctx := context.Background()

	_, err := ds.DB().ExecContext(ctx, `INSERT INTO users (id, name) VALUES (1, 'Ada')`)
	require.NoError(t, err)

	cache := NewSchemaCache()
	users, err := cache.Schema(ds, "users")
	require.NoError(t, err)
	posts, err := cache.Schema(ds, "posts")
	require.NoError(t, err)

	c, err := NewComposite([]string{"id"}, DefaultRecordOptions())
	require.NoError(t, err)
	require.NoError(t, c.AddSchema(users, true))
	require.NoError(t, c.AddSchema(posts, false))
	require.NoError(t, c.SetID(bedlam.Identity{"id": int64(1)}))
	require.NoError(t, c.Load(ctx, false))

	related := c.Related("posts")
	require.Len(t, related, 2)
	require.NoError(t, related[0].Set("title", "edited"))
	require.NoError(t, c.Save(ctx, false))

	q, err := ds.Prepare(ctx, "SELECT title FROM posts WHERE id = :id", map[string]any{"id": 1})
	require.NoError(t, err)
	row, err := q.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "edited", row.Get("title"))
}
