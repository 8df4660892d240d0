package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bdlm/bedlam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const membersSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "x-primary-key": ["id"],
  "required": ["email"],
  "properties": {
    "id": {"type": "integer", "readOnly": true},
    "email": {"type": "string", "format": "email"},
    "age": {"type": ["integer", "null"], "minimum": 0},
    "status": {"type": "string", "default": "active"}
  }
}`

func writeSchemaFile(t *testing.T, dir, table, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, table+".json"), []byte(doc), 0o644))
}

func TestFileSchema_Columns(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "members", membersSchema)

	schema, err := NewFileSchema(nil, dir, "members")
	require.NoError(t, err)

	cols, err := schema.Columns(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 4)

	// document order, not alphabetical
	assert.Equal(t, []string{"id", "email", "age", "status"}, []string{cols[0].Name, cols[1].Name, cols[2].Name, cols[3].Name})

	assert.Equal(t, bedlam.Column{Name: "id", Type: "integer", Nullable: true, Key: "PRI", Extra: "auto_increment"}, cols[0])
	assert.Equal(t, bedlam.Column{Name: "email", Type: "string", Meta: map[string]any{"format": "email"}}, cols[1])
	assert.Equal(t, bedlam.Column{Name: "age", Type: "integer", Nullable: true}, cols[2])
	assert.Equal(t, "active", cols[3].DefaultValue())
}

func TestFileSchema_Missing(t *testing.T) {
	schema, err := NewFileSchema(nil, t.TempDir(), "members")
	require.NoError(t, err)

	err = schema.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, bedlam.ErrCodeSchemaNotFound, bedlam.ErrorCodeOf(err))
	assert.True(t, bedlam.IsNotFound(err))
}

func TestFileSchema_InvalidDocument(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "members", `{"type": "object", "properties": [}`)

	schema, err := NewFileSchema(nil, dir, "members")
	require.NoError(t, err)
	assert.Error(t, schema.Load(context.Background()))
}

func TestFileSchema_Validate(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "members", membersSchema)

	schema, err := NewFileSchema(nil, dir, "members")
	require.NoError(t, err)

	// nothing to check against before the document is read
	assert.NoError(t, schema.Validate(map[string]any{"age": -1}))

	require.NoError(t, schema.Load(context.Background()))
	assert.NoError(t, schema.Validate(map[string]any{"email": "ada@example.com", "age": 36, "id": nil}))

	err = schema.Validate(map[string]any{"email": "ada@example.com", "age": -1})
	require.Error(t, err)
	assert.Equal(t, bedlam.ErrCodeSchemaViolation, bedlam.ErrorCodeOf(err))
	assert.Equal(t, "members", err.(*bedlam.BedlamError).Schema)

	err = schema.Validate(map[string]any{"age": 3})
	assert.Equal(t, bedlam.ErrCodeSchemaViolation, bedlam.ErrorCodeOf(err))
}

func TestFileSchema_RecordSaveValidates(t *testing.T) {
	mock, ds := newMockDatasource(t)
	defer mock.Close()

	dir := t.TempDir()
	writeSchemaFile(t, dir, "members", membersSchema)

	schema, err := NewFileSchema(ds, dir, "members")
	require.NoError(t, err)
	require.NoError(t, schema.Load(context.Background()))

	rec, err := NewRecord(schema, []string{"id"}, DefaultRecordOptions())
	require.NoError(t, err)
	require.NoError(t, rec.Set("age", -4))

	saved, err := rec.Save(context.Background(), false)
	assert.False(t, saved)
	assert.Equal(t, bedlam.ErrCodeSchemaViolation, bedlam.ErrorCodeOf(err))
	// rejected before any statement
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaCache_FileSchema(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeSchemaFile(t, first, "members", membersSchema)
	writeSchemaFile(t, second, "members", `{"type": "object", "properties": {"id": {"type": "integer"}}}`)

	cache := NewSchemaCache()
	ctx := context.Background()

	a, err := cache.FileSchema(nil, first, "members")
	require.NoError(t, err)
	fields, err := a.Fields(ctx)
	require.NoError(t, err)
	assert.Len(t, fields, 4)

	// the cached source still validates
	assert.Equal(t, bedlam.ErrCodeSchemaViolation, bedlam.ErrorCodeOf(a.Validate(map[string]any{"age": 1})))

	// another directory replaces the cached document
	b, err := cache.FileSchema(nil, second, "members")
	require.NoError(t, err)
	fields, err = b.Fields(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, fields)
}

func TestPropertyOrder(t *testing.T) {
	names, err := propertyOrder([]byte(`{"b": {"type": "string"}, "a": {"properties": {"z": {}}}, "c": true}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, names)

	names, err = propertyOrder(nil)
	require.NoError(t, err)
	assert.Empty(t, names)
}
