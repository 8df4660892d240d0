package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/bdlm/bedlam"
	"github.com/bdlm/bedlam/factory"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureDB writes a duckdb file with one users row and returns its path.
func fixtureDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.duckdb")
	db, err := sql.Open("duckdb", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE SEQUENCE users_seq START 1`,
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY DEFAULT nextval('users_seq'),
			email VARCHAR NOT NULL,
			name VARCHAR,
			status VARCHAR DEFAULT 'active',
			score DOUBLE
		)`,
		`INSERT INTO users (email, name) VALUES ('ada@example.com', 'O''Hara')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func TestDescribeCommand(t *testing.T) {
	path := fixtureDB(t)

	var out bytes.Buffer
	require.NoError(t, runDescribe([]string{"-driver", "duckdb", "-duckdb-path", path, "-table", "users"}, &out))

	var cols []bedlam.Column
	require.NoError(t, json.Unmarshal(out.Bytes(), &cols))
	require.Len(t, cols, 5)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "PRI", cols[0].Key)
	assert.False(t, cols[1].Nullable)
}

func TestDumpCommand(t *testing.T) {
	path := fixtureDB(t)

	var out bytes.Buffer
	require.NoError(t, runDump([]string{"-driver", "duckdb", "-duckdb-path", path, "-table", "users", "-id", "1"}, &out))
	assert.Contains(t, out.String(), `INSERT INTO "users"`)
	assert.Contains(t, out.String(), `'O''Hara'`)

	err := runDump([]string{"-driver", "duckdb", "-duckdb-path", path, "-table", "users", "-id", "9"}, &out)
	assert.True(t, bedlam.IsNotFound(err))

	assert.Error(t, runDump([]string{"-driver", "duckdb", "-table", "users"}, &out))
}

func TestExportSchemaCommand(t *testing.T) {
	path := fixtureDB(t)
	dir := t.TempDir()

	var out bytes.Buffer
	require.NoError(t, runExportSchema([]string{"-driver", "duckdb", "-duckdb-path", path, "-table", "users", "-out-dir", dir}, &out))
	assert.Contains(t, out.String(), filepath.Join(dir, "users.json"))

	// The exported document describes the same columns through a file schema.
	cfg := bedlam.DefaultConfig()
	cfg.Datasource.Driver = bedlam.DriverDuckDB
	cfg.Record.SchemaSource = bedlam.SchemaSourceFile
	cfg.Record.SchemaDirectory = dir
	f, err := factory.New(cfg)
	require.NoError(t, err)
	ds, err := f.NewDatasource(context.Background())
	require.NoError(t, err)
	defer ds.Close(context.Background())

	schema, err := f.NewSchema(ds, "users")
	require.NoError(t, err)
	cols, err := schema.Columns(context.Background())
	require.NoError(t, err)

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"id", "email", "name", "status", "score"}, names)
	assert.Equal(t, "PRI", cols[0].Key)
	assert.Equal(t, "integer", cols[0].Type)
	assert.False(t, cols[1].Nullable)
	assert.Equal(t, "active", cols[3].Default)
	assert.Equal(t, "number", cols[4].Type)
}

func TestSchemaDocument(t *testing.T) {
	doc, err := schemaDocument("accounts", []bedlam.Column{
		{Name: "account_id", Type: "bigint", Key: "PRI", Default: "nextval('accounts_seq'::regclass)"},
		{Name: "opened", Type: "timestamp with time zone", Default: "now()"},
		{Name: "plan", Type: "text", Nullable: true, Default: "'free'::text"},
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(doc, &got))
	assert.Equal(t, []any{"account_id"}, got["x-primary-key"])
	assert.Equal(t, []any{"opened"}, got["required"])

	props := got["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "integer", "readOnly": true}, props["account_id"])
	assert.Equal(t, map[string]any{"type": "string", "format": "date-time"}, props["opened"])
	assert.Equal(t, map[string]any{"type": []any{"string", "null"}, "default": "free"}, props["plan"])
}

func TestLiteralDefault(t *testing.T) {
	tests := []struct {
		in     any
		want   any
		wantOK bool
	}{
		{in: nil, wantOK: false},
		{in: "'it''s'::text", want: "it's", wantOK: true},
		{in: "0", want: int64(0), wantOK: true},
		{in: "1.5", want: 1.5, wantOK: true},
		{in: "true", want: true, wantOK: true},
		{in: "now()", wantOK: false},
		{in: int64(3), want: int64(3), wantOK: true},
	}
	for _, tt := range tests {
		got, ok := literalDefault(tt.in)
		assert.Equal(t, tt.wantOK, ok, "%v", tt.in)
		if tt.wantOK {
			assert.Equal(t, tt.want, got, "%v", tt.in)
		}
	}
}

func TestParseIdentity(t *testing.T) {
	id, err := parseIdentity([]string{"id"}, "7")
	require.NoError(t, err)
	assert.Equal(t, bedlam.Identity{"id": int64(7)}, id)

	id, err = parseIdentity([]string{"order_id", "sku"}, "order_id=12, sku=A-1")
	require.NoError(t, err)
	assert.Equal(t, bedlam.Identity{"order_id": int64(12), "sku": "A-1"}, id)

	_, err = parseIdentity([]string{"order_id", "sku"}, "12")
	assert.Error(t, err)
	_, err = parseIdentity([]string{"id"}, "=3")
	assert.Error(t, err)
}

func TestJSONType(t *testing.T) {
	for in, want := range map[string]string{
		"integer":       "integer",
		"bigserial":     "integer",
		"numeric(10,2)": "number",
		"double":        "number",
		"boolean":       "boolean",
		"varchar(20)":   "string",
		"jsonb":         "object",
	} {
		got, _ := jsonType(in)
		assert.Equal(t, want, got, in)
	}
}
