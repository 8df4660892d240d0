package internal

import (
	"context"
	"regexp"
	"testing"

	"github.com/bdlm/bedlam"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newUserComposite loads the users and posts schemas and returns a composite
// with users as the primary schema.
func newUserComposite(t *testing.T, mock pgxmock.PgxPoolIface, ds *PostgresDatasource) *Composite {
	t.Helper()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(describeUsers).WithArgs("users").WillReturnRows(usersDescribeRows())
	mock.ExpectQuery(describeUsers).WithArgs("posts").WillReturnRows(describeRows(
		[]any{"id", "integer", "NO", "PRI", nil, "auto_increment"},
		[]any{"users_id", "integer", "NO", "", nil, ""},
		[]any{"title", "text", "YES", "", nil, ""},
	))

	users, err := NewSchema(ds, "users")
	require.NoError(t, err)
	require.NoError(t, users.Load(ctx))
	posts, err := NewSchema(ds, "posts")
	require.NoError(t, err)
	require.NoError(t, posts.Load(ctx))

	c, err := NewComposite([]string{"id"}, DefaultRecordOptions())
	require.NoError(t, err)
	require.NoError(t, c.AddSchema(users, true))
	require.NoError(t, c.AddSchema(posts, false))
	return c
}

func expectLoadPosts(mock pgxmock.PgxPoolIface, userID int64) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "posts" WHERE "users_id" = $1`)).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	for i, title := range []string{"first", "second"} {
		id := int64(i + 1)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "users_id", "title" FROM "posts" WHERE "id" = $1`)).
			WithArgs(id).
			WillReturnRows(pgxmock.NewRows([]string{"id", "users_id", "title"}).AddRow(id, userID, title))
	}
}

func TestComposite_Validation(t *testing.T) {
	_, err := NewComposite(nil, DefaultRecordOptions())
	assert.Equal(t, bedlam.ErrCodeIdentityMissing, bedlam.ErrorCodeOf(err))

	c, err := NewComposite([]string{"id"}, DefaultRecordOptions())
	require.NoError(t, err)

	assert.Error(t, c.AddSchema(nil, true))
	assert.Equal(t, bedlam.ErrCodeIdentityMissing, bedlam.ErrorCodeOf(c.Load(context.Background(), false)))

	err = c.SetID(bedlam.Identity{"uuid": "x"})
	assert.Equal(t, bedlam.ErrCodeIdentityPartial, bedlam.ErrorCodeOf(err))
	assert.Nil(t, c.ID())

	require.NoError(t, c.SetID(bedlam.Identity{"id": 1}))
	err = c.Load(context.Background(), false)
	assert.Equal(t, bedlam.ErrCodeInvalidTable, bedlam.ErrorCodeOf(err))
	assert.Nil(t, c.Primary())
	assert.Empty(t, c.Related("posts"))
}

func TestComposite_Load(t *testing.T) {
	mock, ds := newMockDatasource(t)
	defer mock.Close()
	ctx := context.Background()

	c := newUserComposite(t, mock, ds)
	expectLoadUser(mock, 7)
	expectLoadPosts(mock, 7)

	schema, ok := c.Schema("posts")
	require.True(t, ok)
	assert.Equal(t, "posts", schema.Name())

	require.NoError(t, c.SetID(bedlam.Identity{"id": int64(7)}))
	require.NoError(t, c.Load(ctx, false))
	assert.True(t, c.IsLoaded())
	assert.False(t, c.IsLoading())
	assert.False(t, c.IsDirty())

	primary := c.Primary()
	require.NotNil(t, primary)
	assert.Equal(t, "users", primary.Schema().Name())
	name, err := primary.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)

	related := c.Related("posts")
	require.Len(t, related, 2)
	title, err := related[1].Get("title")
	require.NoError(t, err)
	assert.Equal(t, "second", title)
	assert.Equal(t, bedlam.Identity{"id": int64(2)}, related[1].ID())

	// loaded: nothing runs again
	require.NoError(t, c.Load(ctx, false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComposite_LoadKeepsDataOnFailure(t *testing.T) {
	mock, ds := newMockDatasource(t)
	defer mock.Close()
	ctx := context.Background()

	c := newUserComposite(t, mock, ds)
	expectLoadUser(mock, 7)
	expectLoadPosts(mock, 7)
	require.NoError(t, c.SetID(bedlam.Identity{"id": int64(7)}))
	require.NoError(t, c.Load(ctx, false))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "name", "status" FROM "users" WHERE "id" = $1`)).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "status"}))

	err := c.Load(ctx, true)
	assert.True(t, bedlam.IsNotFound(err))
	assert.Len(t, c.Related("posts"), 2)
	assert.False(t, c.IsLoading())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComposite_SaveCascades(t *testing.T) {
	mock, ds := newMockDatasource(t)
	defer mock.Close()
	ctx := context.Background()

	c := newUserComposite(t, mock, ds)
	expectLoadUser(mock, 7)
	expectLoadPosts(mock, 7)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "posts" SET "users_id" = $1, "title" = $2 WHERE "id" = $3`)).
		WithArgs(int64(7), "edited", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, c.SetID(bedlam.Identity{"id": int64(7)}))
	require.NoError(t, c.Load(ctx, false))

	require.NoError(t, c.Related("posts")[0].Set("title", "edited"))
	assert.True(t, c.IsDirty())

	// the clean primary and the clean second post write nothing
	require.NoError(t, c.Save(ctx, false))
	assert.False(t, c.IsDirty())
	assert.NoError(t, mock.ExpectationsWereMet())
}
