package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdlm/bedlam"
	"go.uber.org/zap"
)

var schemaType = bedlam.TypeFor[bedlam.Schema]()

// childKey is the primary key column of every related table.
const childKey = "id"

// Composite is a primary record plus the rows of related tables that point
// at it through {primary}_{pk} columns.
type Composite struct {
	pk      []string
	opts    RecordOptions
	primary string
	schemas *bedlam.Object
	data    *bedlam.Object
	id      bedlam.Identity

	dirty   bool
	loaded  bool
	loading bool
}

// NewComposite returns an empty composite keyed by pk.
func NewComposite(pk []string, opts RecordOptions) (*Composite, error) {
	if len(pk) == 0 {
		return nil, bedlam.NewIdentityError(bedlam.ErrCodeIdentityMissing, "a composite needs at least one primary key column")
	}
	schemas := &bedlam.Object{}
	if err := schemas.SetType(schemaType); err != nil {
		return nil, err
	}
	return &Composite{
		pk:      append([]string(nil), pk...),
		opts:    opts,
		schemas: schemas,
		data:    &bedlam.Object{},
	}, nil
}

// AddSchema attaches schema. Exactly one schema is primary; adding another
// primary replaces the previous choice.
func (c *Composite) AddSchema(schema bedlam.Schema, primary bool) error {
	if schema == nil {
		return bedlam.NewConfigurationError(bedlam.ErrCodeInvalidTable, "schema must not be nil")
	}
	if err := c.schemas.Set(schema.Name(), schema); err != nil {
		return err
	}
	if primary {
		c.primary = schema.Name()
	}
	return nil
}

func (c *Composite) Schema(name string) (bedlam.Schema, bool) {
	v, ok := c.schemas.Lookup(name)
	if !ok {
		return nil, false
	}
	return v.(bedlam.Schema), true
}

func (c *Composite) SetID(id bedlam.Identity) error {
	c.id = nil
	next := make(bedlam.Identity, len(c.pk))
	for _, field := range c.pk {
		v, ok := id[field]
		if !ok || v == nil {
			return bedlam.NewIdentityError(bedlam.ErrCodeIdentityPartial,
				fmt.Sprintf("'%s' is a required field in the primary key", field)).WithField(field)
		}
		next[field] = v
	}
	c.id = next
	return nil
}

func (c *Composite) ID() bedlam.Identity { return c.id.Clone() }

func (c *Composite) IsLoaded() bool  { return c.loaded }
func (c *Composite) IsLoading() bool { return c.loading }

// IsDirty reports whether any held record has unsaved changes.
func (c *Composite) IsDirty() bool {
	if c.dirty {
		return true
	}
	for _, rec := range c.records() {
		if rec.IsDirty() {
			return true
		}
	}
	return false
}

func (c *Composite) Primary() bedlam.Record {
	if rec, ok := c.data.Get(c.primary).(*Record); ok {
		return rec
	}
	return nil
}

func (c *Composite) Related(name string) []bedlam.Record {
	rows, ok := c.data.Get(name).([]any)
	if !ok {
		return nil
	}
	out := make([]bedlam.Record, 0, len(rows))
	for _, row := range rows {
		if rec, ok := row.(*Record); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (c *Composite) records() []*Record {
	var out []*Record
	for _, v := range c.data.All() {
		switch t := v.(type) {
		case *Record:
			out = append(out, t)
		case []any:
			for _, row := range t {
				if rec, ok := row.(*Record); ok {
					out = append(out, rec)
				}
			}
		}
	}
	return out
}

// Load reads the primary row and every related row set. Held records are
// only replaced when everything loaded.
func (c *Composite) Load(ctx context.Context, force bool) error {
	if len(c.id) == 0 {
		return bedlam.NewIdentityError(bedlam.ErrCodeIdentityMissing, "an identity must be set before data can be loaded")
	}
	if c.primary == "" {
		return bedlam.NewConfigurationError(bedlam.ErrCodeInvalidTable, "no primary schema has been added")
	}
	if c.loading || (c.loaded && !force) {
		return nil
	}
	c.loading = true
	defer func() { c.loading = false }()

	next := &bedlam.Object{}
	for name, v := range c.schemas.All() {
		schema := v.(bedlam.Schema)
		if name == c.primary {
			rec, err := c.loadRecord(ctx, schema, c.pk, c.id)
			if err != nil {
				return err
			}
			_ = next.Set(name, rec)
			continue
		}

		ids, err := c.childIDs(ctx, schema)
		if err != nil {
			return err
		}
		_ = next.Set(name, []any{})
		for _, childID := range ids {
			rec, err := c.loadRecord(ctx, schema, []string{childKey}, bedlam.Identity{childKey: childID})
			if err != nil {
				return err
			}
			_ = next.Add(name, rec)
		}
	}

	c.data = next
	c.dirty = false
	c.loaded = true
	zap.S().Debugw("composite loaded", "primary", c.primary, "id", map[string]any(c.id), "schemas", next.Len())
	return nil
}

func (c *Composite) loadRecord(ctx context.Context, schema bedlam.Schema, pk []string, id bedlam.Identity) (*Record, error) {
	rec, err := NewRecord(schema, pk, c.opts)
	if err != nil {
		return nil, err
	}
	if err := rec.SetID(id); err != nil {
		return nil, err
	}
	if err := rec.Load(ctx, false); err != nil {
		return nil, err
	}
	return rec, nil
}

// childIDs selects the ids of the rows of schema that belong to the primary
// row.
func (c *Composite) childIDs(ctx context.Context, schema bedlam.Schema) ([]any, error) {
	ds := schema.Datasource()
	if ds == nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeNoConnection, "schema has no datasource", nil).WithSchema(schema.Name())
	}
	d, err := dialectFor(ds.Dialect())
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(c.pk))
	params := make(map[string]any, len(c.pk))
	for i, field := range c.pk {
		keys[i] = c.primary + "_" + field
		params[paramName(keys[i])] = c.id[field]
	}
	stmt, err := renderStatement(d, "children", statementData{
		Table:  schema.Name(),
		Select: childKey,
		Keys:   keys,
	})
	if err != nil {
		return nil, bedlam.NewInternalError("render children", err)
	}

	q, err := ds.Prepare(ctx, stmt, params)
	if err != nil {
		return nil, err
	}
	defer q.Close()

	var ids []any
	for {
		row, err := q.Next(ctx)
		if errors.Is(err, bedlam.ErrNoRows) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, row.Get(childKey))
	}
}

// Save saves the primary record with force and every related record without
// it. The first failure stops the cascade.
func (c *Composite) Save(ctx context.Context, force bool) error {
	for name, v := range c.data.All() {
		switch t := v.(type) {
		case *Record:
			if _, err := t.Save(ctx, force); err != nil {
				return fmt.Errorf("save %s: %w", name, err)
			}
		case []any:
			for _, row := range t {
				rec, ok := row.(*Record)
				if !ok {
					continue
				}
				if _, err := rec.Save(ctx, false); err != nil {
					return fmt.Errorf("save %s: %w", name, err)
				}
			}
		}
	}
	c.dirty = false
	return nil
}
