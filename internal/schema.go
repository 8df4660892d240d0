package internal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/bdlm/bedlam"
	"go.uber.org/zap"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var columnType = bedlam.TypeFor[bedlam.Column]()

// columnSource produces the column list of a table.
type columnSource interface {
	columns(ctx context.Context, ds bedlam.Datasource, table string) ([]bedlam.Column, error)
}

// Schema holds the column metadata of one table in a static Object keyed by
// column name. It loads on first read.
type Schema struct {
	mu      sync.Mutex
	name    string
	ds      bedlam.Datasource
	source  columnSource
	columns *bedlam.Object
	loaded  bool
}

// NewSchema returns a schema described by the datasource itself.
func NewSchema(ds bedlam.Datasource, table string) (*Schema, error) {
	return newSchema(ds, table, describeSource{})
}

func newSchema(ds bedlam.Datasource, table string, source columnSource) (*Schema, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidTable, fmt.Sprintf("invalid table name '%s'", table))
	}
	s := &Schema{name: table, ds: ds, source: source}
	s.columns = s.emptyColumns()
	return s, nil
}

func (s *Schema) emptyColumns() *bedlam.Object {
	o := &bedlam.Object{}
	_ = o.SetType(columnType)
	_ = o.SetName(s.name)
	return o
}

func (s *Schema) Name() string                    { return s.name }
func (s *Schema) Datasource() bedlam.Datasource   { return s.ds }
func (s *Schema) Set(string, bedlam.Column) error { return bedlam.NewSchemaImmutableError(s.name) }
func (s *Schema) SetData([]bedlam.Column) error   { return bedlam.NewSchemaImmutableError(s.name) }

func (s *Schema) IsLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Load fetches the column list, replacing anything loaded before.
func (s *Schema) Load(ctx context.Context) error {
	cols, err := s.source.columns(ctx, s.ds, s.name)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return bedlam.NewSchemaNotFoundError(s.name)
	}

	next := s.emptyColumns()
	for _, c := range cols {
		if err := next.Set(c.Name, c); err != nil {
			return err
		}
	}
	next.SetStatic(true)

	s.mu.Lock()
	s.columns = next
	s.loaded = true
	s.mu.Unlock()
	zap.S().Debugw("schema loaded", "schema", s.name, "columns", len(cols))
	return nil
}

func (s *Schema) ensureLoaded(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.loaded && !s.columns.IsEmpty()
	s.mu.Unlock()
	if loaded {
		return nil
	}
	return s.Load(ctx)
}

func (s *Schema) Describe(ctx context.Context, field string) (bedlam.Column, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return bedlam.Column{}, err
	}
	col, ok := s.Lookup(field)
	if !ok {
		return bedlam.Column{}, bedlam.NewFieldNotInSchemaError(s.name, field)
	}
	return col, nil
}

func (s *Schema) Columns(ctx context.Context) ([]bedlam.Column, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bedlam.Column, 0, s.columns.Len())
	for _, v := range s.columns.All() {
		out = append(out, v.(bedlam.Column))
	}
	return out, nil
}

func (s *Schema) Fields(ctx context.Context) ([]string, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columns.Keys(), nil
}

func (s *Schema) Has(ctx context.Context, field string) (bool, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return false, err
	}
	_, ok := s.Lookup(field)
	return ok, nil
}

func (s *Schema) Lookup(field string) (bedlam.Column, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.columns.Lookup(field)
	if !ok {
		return bedlam.Column{}, false
	}
	return v.(bedlam.Column), true
}

// Validate checks data against the schema's validation rules, if the column
// source provides any.
func (s *Schema) Validate(data map[string]any) error {
	if v, ok := s.source.(interface{ validate(map[string]any) error }); ok {
		if err := v.validate(data); err != nil {
			return bedlam.NewConstraintError(bedlam.ErrCodeSchemaViolation, "record does not match its schema").
				WithSchema(s.name).
				WithCause(err)
		}
	}
	return nil
}

// describeSource runs the dialect's describe statement.
type describeSource struct{}

func (describeSource) columns(ctx context.Context, ds bedlam.Datasource, table string) ([]bedlam.Column, error) {
	if ds == nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeNoConnection, "schema has no datasource", nil)
	}
	d, err := dialectFor(ds.Dialect())
	if err != nil {
		return nil, err
	}
	q, err := ds.Prepare(ctx, d.DescribeSQL(table), map[string]any{"table": table})
	if err != nil {
		return nil, err
	}
	defer q.Close()

	var cols []bedlam.Column
	for {
		row, err := q.Next(ctx)
		if errors.Is(err, bedlam.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, err
		}
		cols = append(cols, columnFromRow(row))
	}
	return cols, nil
}

// metadataAliases maps backend specific describe columns to the normalized
// field, type, null, key, default and extra names.
var metadataAliases = map[string]string{
	"column_name":    "field",
	"name":           "field",
	"column_type":    "type",
	"data_type":      "type",
	"is_nullable":    "null",
	"nullable":       "null",
	"column_default": "default",
	"data_default":   "default",
	"dflt_value":     "default",
}

// columnFromRow normalizes one describe row. Keys are lower-cased first.
func columnFromRow(row *bedlam.Object) bedlam.Column {
	meta := make(map[string]any, row.Len())
	for k, v := range row.All() {
		key := strings.ToLower(k)
		if alias, ok := metadataAliases[key]; ok {
			key = alias
		}
		meta[key] = v
	}
	col := bedlam.Column{
		Name:     stringValue(meta["field"]),
		Type:     strings.ToLower(stringValue(meta["type"])),
		Nullable: truthy(meta["null"]),
		Key:      stringValue(meta["key"]),
		Default:  meta["default"],
		Extra:    stringValue(meta["extra"]),
	}
	for _, k := range []string{"field", "type", "null", "key", "default", "extra"} {
		delete(meta, k)
	}
	if len(meta) > 0 {
		col.Meta = meta
	}
	return col
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "YES", "Y", "TRUE", "1":
			return true
		}
	}
	return false
}
