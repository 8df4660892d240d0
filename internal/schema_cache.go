package internal

import (
	"context"
	"sync"

	"github.com/bdlm/bedlam"
)

// SchemaCache centralizes column metadata so every Schema of the same table
// shares one describe call. Entries are keyed by table name, so one cache
// serves one database.
type SchemaCache struct {
	mu      sync.RWMutex
	columns map[string][]bedlam.Column
	files   map[string]*fileSource
}

func NewSchemaCache() *SchemaCache {
	return &SchemaCache{
		columns: make(map[string][]bedlam.Column),
		files:   make(map[string]*fileSource),
	}
}

// Schema returns a datasource-described schema backed by the cache.
func (c *SchemaCache) Schema(ds bedlam.Datasource, table string) (*Schema, error) {
	return newSchema(ds, table, &cachedSource{cache: c, inner: describeSource{}})
}

// FileSchema returns a JSON Schema file backed schema. The parsed document
// is shared along with the columns.
func (c *SchemaCache) FileSchema(ds bedlam.Datasource, dir, table string) (*Schema, error) {
	c.mu.Lock()
	src, ok := c.files[table]
	if !ok || src.dir != dir {
		src = &fileSource{dir: dir}
		c.files[table] = src
		delete(c.columns, table)
	}
	c.mu.Unlock()
	return newSchema(ds, table, &cachedSource{cache: c, inner: src})
}

// Invalidate drops the cached metadata of table.
func (c *SchemaCache) Invalidate(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.columns, table)
	delete(c.files, table)
}

func (c *SchemaCache) get(table string) ([]bedlam.Column, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cols, ok := c.columns[table]
	return cols, ok
}

func (c *SchemaCache) put(table string, cols []bedlam.Column) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.columns[table] = cols
}

type cachedSource struct {
	cache *SchemaCache
	inner columnSource
}

func (s *cachedSource) columns(ctx context.Context, ds bedlam.Datasource, table string) ([]bedlam.Column, error) {
	if cols, ok := s.cache.get(table); ok {
		return cols, nil
	}
	cols, err := s.inner.columns(ctx, ds, table)
	if err != nil {
		return nil, err
	}
	if len(cols) > 0 {
		s.cache.put(table, cols)
	}
	return cols, nil
}

func (s *cachedSource) validate(data map[string]any) error {
	if v, ok := s.inner.(interface{ validate(map[string]any) error }); ok {
		return v.validate(data)
	}
	return nil
}
