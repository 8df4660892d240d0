package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bdlm/bedlam"
	"github.com/google/jsonschema-go/jsonschema"
)

// NewFileSchema returns a schema whose columns are the properties of the JSON
// Schema document <dir>/<table>.json. It serves database users that are not
// allowed to describe tables. Records bound to it are validated against the
// document before they are saved.
func NewFileSchema(ds bedlam.Datasource, dir, table string) (*Schema, error) {
	return newSchema(ds, table, &fileSource{dir: dir})
}

// fileSource reads and resolves the JSON Schema once.
type fileSource struct {
	dir string

	mu       sync.Mutex
	resolved *jsonschema.Resolved
}

// fileSchemaDocument carries the extension keywords jsonschema-go ignores.
type fileSchemaDocument struct {
	PrimaryKey []string        `json:"x-primary-key"`
	Properties json.RawMessage `json:"properties"`
}

func (f *fileSource) columns(_ context.Context, _ bedlam.Datasource, table string) ([]bedlam.Column, error) {
	path := filepath.Join(f.dir, table+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, bedlam.NewSchemaNotFoundError(table).WithDetail("path", path)
		}
		return nil, bedlam.NewStorageError(bedlam.ErrCodeSchemaNotFound, "read schema file", err).WithSchema(table)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema %s: %w", path, err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JSON schema %s: %w", path, err)
	}

	var doc fileSchemaDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to read schema extensions %s: %w", path, err)
	}
	order, err := propertyOrder(doc.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to read property order %s: %w", path, err)
	}
	if len(order) != len(schema.Properties) {
		order = order[:0]
		for name := range schema.Properties {
			order = append(order, name)
		}
		sort.Strings(order)
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}
	primary := make(map[string]bool, len(doc.PrimaryKey))
	for _, name := range doc.PrimaryKey {
		primary[name] = true
	}

	cols := make([]bedlam.Column, 0, len(order))
	for _, name := range order {
		prop := schema.Properties[name]
		if prop == nil {
			continue
		}
		col := bedlam.Column{
			Name:     name,
			Type:     propertyType(prop),
			Nullable: !required[name] || containsString(prop.Types, "null"),
		}
		if primary[name] {
			col.Key = "PRI"
		}
		if prop.ReadOnly {
			col.Extra = "auto_increment"
		}
		if len(prop.Default) > 0 {
			var def any
			if err := json.Unmarshal(prop.Default, &def); err == nil {
				col.Default = def
			}
		}
		if prop.Format != "" {
			col.Meta = map[string]any{"format": prop.Format}
		}
		cols = append(cols, col)
	}

	f.mu.Lock()
	f.resolved = resolved
	f.mu.Unlock()
	return cols, nil
}

// validate checks a record's data against the resolved document. Nil values
// are dropped first since unset columns are left to the database.
func (f *fileSource) validate(data map[string]any) error {
	f.mu.Lock()
	resolved := f.resolved
	f.mu.Unlock()
	if resolved == nil {
		return nil
	}
	// Round trip through JSON so numbers and nested values take the shapes
	// the validator expects.
	clean := make(map[string]any, len(data))
	for k, v := range data {
		if v != nil {
			clean[k] = v
		}
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return fmt.Errorf("failed to marshal record data: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("failed to unmarshal record data: %w", err)
	}
	return resolved.Validate(instance)
}

func propertyType(prop *jsonschema.Schema) string {
	if prop.Type != "" {
		return prop.Type
	}
	for _, t := range prop.Types {
		if t != "null" {
			return t
		}
	}
	return "mixed"
}

// propertyOrder lists the keys of the properties object in document order.
func propertyOrder(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var names []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected property key %v", tok)
		}
		names = append(names, name)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
