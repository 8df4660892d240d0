package internal

import (
	"testing"
	"time"

	"github.com/bdlm/bedlam"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileNamed(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantSQL   string
		wantNames []string
	}{
		{
			name:      "positional",
			query:     "SELECT * FROM users WHERE id = :id AND status = :status",
			wantSQL:   "SELECT * FROM users WHERE id = $1 AND status = $2",
			wantNames: []string{"id", "status"},
		},
		{
			name:      "repeated name",
			query:     "SELECT * FROM t WHERE a = :v OR b = :v",
			wantSQL:   "SELECT * FROM t WHERE a = $1 OR b = $2",
			wantNames: []string{"v", "v"},
		},
		{
			name:      "casts are kept",
			query:     "SELECT :id::int, created::date FROM t",
			wantSQL:   "SELECT $1::int, created::date FROM t",
			wantNames: []string{"id"},
		},
		{
			name:      "quoted sections are kept",
			query:     `SELECT ':skip', "col:x", 'it''s :still' FROM t WHERE a = :a`,
			wantSQL:   `SELECT ':skip', "col:x", 'it''s :still' FROM t WHERE a = $1`,
			wantNames: []string{"a"},
		},
		{
			name:      "comments are kept",
			query:     "SELECT 1 -- :ignored\nFROM t WHERE b = :b",
			wantSQL:   "SELECT 1 -- :ignored\nFROM t WHERE b = $1",
			wantNames: []string{"b"},
		},
		{
			name:    "time literals",
			query:   "SELECT '10:30' FROM t",
			wantSQL: "SELECT '10:30' FROM t",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := compileNamed(tt.query, postgresDialect{}.Placeholder)
			assert.Equal(t, tt.wantSQL, stmt.sql)
			assert.Equal(t, tt.wantNames, stmt.names)
		})
	}
}

func TestCompiledStatement_Args(t *testing.T) {
	stmt := compileNamed("UPDATE t SET a = :a WHERE id = :id AND a <> :a", duckdbDialect{}.Placeholder)
	assert.Equal(t, "UPDATE t SET a = ? WHERE id = ? AND a <> ?", stmt.sql)

	args, err := stmt.args(map[string]any{"a": "x", "id": 3, "unused": true})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", 3, "x"}, args)

	_, err = stmt.args(map[string]any{"a": "x"})
	require.Error(t, err)
	assert.Equal(t, bedlam.ErrCodeMissingParameter, bedlam.ErrorCodeOf(err))
}

func TestInterpolate(t *testing.T) {
	out := interpolate("SELECT * FROM t WHERE name = :name AND id = :id AND x = :unbound",
		map[string]any{"name": "O'Brien", "id": 7}, quoteLiteral)
	assert.Equal(t, "SELECT * FROM t WHERE name = 'O''Brien' AND id = 7 AND x = :unbound", out)
}

func TestQuoteLiteral(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{true, "TRUE"},
		{false, "FALSE"},
		{42, "42"},
		{int64(-3), "-3"},
		{1.25, "1.25"},
		{"it's", "'it''s'"},
		{ts, "'2024-05-06T07:08:09Z'"},
		{id, "'6ba7b810-9dad-11d1-80b4-00c04fd430c8'"},
		{[]byte{0xde, 0xad}, `'\xdead'`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quoteLiteral(tt.in))
	}
}

func TestParamName(t *testing.T) {
	assert.Equal(t, "name", paramName("name"))
	assert.Equal(t, "first_name", paramName("first name"))
	assert.Equal(t, "p_1col", paramName("1col"))
	assert.Equal(t, "users_id", paramName("users.id"))
}
