package internal

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/bdlm/bedlam"
	"go.uber.org/zap"
)

// RecordOptions name the columns a Record treats specially.
type RecordOptions struct {
	StatusColumn    string
	DeletedStatus   string
	CreatedByColumn string
	UpdatedByColumn string
}

// DefaultRecordOptions mirrors bedlam.DefaultConfig().Record.
func DefaultRecordOptions() RecordOptions {
	return RecordOptions{
		StatusColumn:    "status",
		DeletedStatus:   "deleted",
		CreatedByColumn: "created_by",
		UpdatedByColumn: "updated_by",
	}
}

// Record is one row of a table. Field access needs a loaded schema; Load
// and Save load it on demand.
type Record struct {
	schema  bedlam.Schema
	dialect dialect
	pk      []string
	opts    RecordOptions

	id      bedlam.Identity
	data    *bedlam.Object
	clean   map[string]any
	dirty   bool
	loaded  bool
	loading bool
	errors  []string
}

// NewRecord binds a record to schema with the given primary key columns.
func NewRecord(schema bedlam.Schema, pk []string, opts RecordOptions) (*Record, error) {
	if schema == nil || schema.Datasource() == nil {
		return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidDriver, "a record needs a schema with a datasource")
	}
	if len(pk) == 0 {
		return nil, bedlam.NewIdentityError(bedlam.ErrCodeIdentityMissing, "a record needs at least one primary key column")
	}
	d, err := dialectFor(schema.Datasource().Dialect())
	if err != nil {
		return nil, err
	}
	data := &bedlam.Object{}
	_ = data.SetName(schema.Name())
	return &Record{
		schema:  schema,
		dialect: d,
		pk:      append([]string(nil), pk...),
		opts:    opts,
		data:    data,
		clean:   map[string]any{},
	}, nil
}

func (r *Record) Schema() bedlam.Schema { return r.schema }

func (r *Record) PK() []string { return append([]string(nil), r.pk...) }

func (r *Record) ID() bedlam.Identity { return r.id.Clone() }

func (r *Record) IsDirty() bool   { return r.dirty }
func (r *Record) IsLoaded() bool  { return r.loaded }
func (r *Record) IsLoading() bool { return r.loading }

// SetID sets the identity and copies it into the data. A missing column
// clears the identity.
func (r *Record) SetID(id bedlam.Identity) error {
	r.id = nil
	next := make(bedlam.Identity, len(r.pk))
	for _, field := range r.pk {
		v, ok := id[field]
		if !ok || v == nil {
			code := bedlam.ErrCodeIdentityPartial
			if len(id) == 0 {
				code = bedlam.ErrCodeIdentityMissing
			}
			return bedlam.NewIdentityError(code, fmt.Sprintf("'%s' is a required field in the primary key", field)).
				WithSchema(r.schema.Name()).
				WithField(field)
		}
		next[field] = v
	}
	r.id = next
	for _, field := range r.pk {
		r.setValue(field, next[field])
	}
	return nil
}

func (r *Record) checkField(field string) error {
	if !r.schema.IsLoaded() {
		return bedlam.NewConstraintError(bedlam.ErrCodeSchemaNotLoaded,
			fmt.Sprintf("the schema '%s' must be loaded before its fields are used", r.schema.Name())).
			WithSchema(r.schema.Name())
	}
	if _, ok := r.schema.Lookup(field); !ok {
		return bedlam.NewFieldNotInSchemaError(r.schema.Name(), field)
	}
	return nil
}

// Get returns the value of field, or nil when it has not been set.
func (r *Record) Get(field string) (any, error) {
	if err := r.checkField(field); err != nil {
		return nil, err
	}
	return r.data.Get(field), nil
}

// Set stores value and marks the record dirty when the value changes.
func (r *Record) Set(field string, value any) error {
	if err := r.checkField(field); err != nil {
		return err
	}
	r.setValue(field, value)
	return nil
}

func (r *Record) setValue(field string, value any) {
	if current, ok := r.data.Lookup(field); ok && reflect.DeepEqual(current, value) {
		return
	}
	// The data Object is untyped, so Set only fails on static containers.
	_ = r.data.Set(field, value)
	r.dirty = true
}

func (r *Record) Fields() []string { return r.data.Keys() }

func (r *Record) Data() *bedlam.Object { return r.data.Clone() }

func (r *Record) Describe(ctx context.Context) ([]bedlam.Column, error) {
	return r.schema.Columns(ctx)
}

func (r *Record) AddError(message string) { r.errors = append(r.errors, message) }

func (r *Record) Errors() []string { return append([]string(nil), r.errors...) }

func (r *Record) SetErrors(messages []string) { r.errors = append([]string(nil), messages...) }

func (r *Record) identityParams() map[string]any {
	params := make(map[string]any, len(r.pk))
	for _, field := range r.pk {
		params[paramName(field)] = r.id[field]
	}
	return params
}

// Load reads the row matching the identity. It is a no-op once loaded
// unless forced.
func (r *Record) Load(ctx context.Context, force bool) error {
	if len(r.id) == 0 {
		return bedlam.NewIdentityError(bedlam.ErrCodeIdentityMissing, "an identity must be set before data can be loaded").
			WithSchema(r.schema.Name())
	}
	if r.loading || (r.loaded && !force) {
		return nil
	}
	r.loading = true
	r.loaded = false
	defer func() { r.loading = false }()

	fields, err := r.schema.Fields(ctx)
	if err != nil {
		return err
	}
	stmt, err := renderStatement(r.dialect, "select", statementData{
		Table:   r.schema.Name(),
		Columns: fields,
		Keys:    r.pk,
	})
	if err != nil {
		return bedlam.NewInternalError("render select", err)
	}
	q, err := r.schema.Datasource().Prepare(ctx, stmt, r.identityParams())
	if err != nil {
		return err
	}
	defer q.Close()

	row, err := q.Next(ctx)
	if errors.Is(err, bedlam.ErrNoRows) {
		return bedlam.NewRecordNotFoundError(r.schema.Name(), r.id)
	}
	if err != nil {
		return err
	}
	if err := r.data.SetEntries(row.Entries()); err != nil {
		return err
	}
	r.clean = row.Data()
	r.dirty = false
	r.loaded = true
	return nil
}

// isNew reports whether any primary key column is unset or zero.
func (r *Record) isNew() bool {
	for _, field := range r.pk {
		if isZeroValue(r.data.Get(field)) {
			return true
		}
	}
	return false
}

func (r *Record) hasColumn(field string) bool {
	if field == "" {
		return false
	}
	_, ok := r.schema.Lookup(field)
	return ok
}

func (r *Record) isPK(field string) bool {
	return containsString(r.pk, field)
}

// Save inserts or updates the row and commits. It reports false without
// touching the datasource when the record is clean and force is false.
// Failed statements are not rolled back here; the caller owns the
// transaction.
func (r *Record) Save(ctx context.Context, force bool) (bool, error) {
	if !r.dirty && !force {
		return false, nil
	}
	fields, err := r.schema.Fields(ctx)
	if err != nil {
		return false, err
	}

	isNew := r.isNew()
	if actor, ok := bedlam.ActorFrom(ctx); ok {
		if isNew && r.hasColumn(r.opts.CreatedByColumn) {
			r.setValue(r.opts.CreatedByColumn, actor.ID)
		}
		if r.hasColumn(r.opts.UpdatedByColumn) {
			r.setValue(r.opts.UpdatedByColumn, actor.ID)
		}
	}

	if v, ok := r.schema.(interface{ Validate(map[string]any) error }); ok {
		if err := v.Validate(r.data.Data()); err != nil {
			return false, err
		}
	}

	params := make(map[string]any, len(fields))
	var columns []string
	for _, field := range fields {
		v, ok := r.data.Lookup(field)
		if !ok {
			continue
		}
		if r.isPK(field) && (!isNew || isZeroValue(v)) {
			continue
		}
		columns = append(columns, field)
		params[paramName(field)] = v
	}

	var (
		stmt      string
		returning = isNew && r.dialect.SupportsReturning()
	)
	if isNew {
		stmt, err = renderStatement(r.dialect, "insert", statementData{
			Table:     r.schema.Name(),
			Columns:   columns,
			Keys:      r.pk,
			Returning: returning,
		})
	} else {
		if len(columns) == 0 {
			return false, nil
		}
		for _, field := range r.pk {
			params[paramName(field)] = r.data.Get(field)
		}
		stmt, err = renderStatement(r.dialect, "update", statementData{
			Table:   r.schema.Name(),
			Columns: columns,
			Keys:    r.pk,
			Limit:   r.dialect.UpdateLimit(),
		})
	}
	if err != nil {
		return false, bedlam.NewInternalError("render save", err)
	}

	q, err := r.schema.Datasource().Prepare(ctx, stmt, params)
	if err != nil {
		return false, err
	}
	defer q.Close()

	if returning {
		row, err := q.Next(ctx)
		if err != nil {
			return false, err
		}
		for _, field := range r.pk {
			if v, ok := row.Lookup(field); ok {
				_ = r.data.Set(field, v)
			}
		}
		if err := q.Close(); err != nil {
			return false, err
		}
	} else {
		if err := q.Execute(ctx); err != nil {
			return false, err
		}
		if id, ok := q.LastInsertID(); isNew && ok && len(r.pk) == 1 {
			_ = r.data.Set(r.pk[0], id)
		}
	}
	if err := q.Commit(ctx); err != nil {
		return false, err
	}

	r.id = make(bedlam.Identity, len(r.pk))
	for _, field := range r.pk {
		r.id[field] = r.data.Get(field)
	}
	r.clean = r.data.Data()
	r.dirty = false
	zap.S().Debugw("record saved", "schema", r.schema.Name(), "id", map[string]any(r.id), "insert", isNew)
	return true, nil
}

// Reset restores every field and clears the dirty flag.
func (r *Record) Reset() error {
	for _, field := range r.data.Keys() {
		if err := r.ResetField(field); err != nil {
			return err
		}
	}
	r.dirty = false
	return nil
}

// ResetField restores field from the last load, falling back to the
// column default. Fields no longer in the schema are removed. The dirty flag
// is left as it was.
func (r *Record) ResetField(field string) error {
	if !r.schema.IsLoaded() {
		return r.checkField(field)
	}
	dirty := r.dirty
	defer func() { r.dirty = dirty }()

	col, ok := r.schema.Lookup(field)
	if !ok {
		return r.data.Delete(field)
	}
	if v, ok := r.clean[field]; ok && v != nil {
		return r.data.Set(field, v)
	}
	return r.data.Set(field, col.DefaultValue())
}

// DeleteRecord soft deletes through the status column when the schema has
// one and realDelete is false. Otherwise the row is removed.
func (r *Record) DeleteRecord(ctx context.Context, realDelete bool) error {
	fields, err := r.schema.Fields(ctx)
	if err != nil {
		return err
	}
	if r.isNew() {
		return bedlam.NewIdentityError(bedlam.ErrCodeIdentityMissing, "cannot delete a record without an identity").
			WithSchema(r.schema.Name())
	}

	soft := !realDelete && r.opts.StatusColumn != "" && containsString(fields, r.opts.StatusColumn)
	params := make(map[string]any, len(r.pk)+1)
	for _, field := range r.pk {
		params[paramName(field)] = r.data.Get(field)
	}

	var stmt string
	if soft {
		params[paramName(r.opts.StatusColumn)] = r.opts.DeletedStatus
		stmt, err = renderStatement(r.dialect, "update", statementData{
			Table:   r.schema.Name(),
			Columns: []string{r.opts.StatusColumn},
			Keys:    r.pk,
			Limit:   r.dialect.UpdateLimit(),
		})
	} else {
		stmt, err = renderStatement(r.dialect, "delete", statementData{
			Table: r.schema.Name(),
			Keys:  r.pk,
			Limit: r.dialect.UpdateLimit(),
		})
	}
	if err != nil {
		return bedlam.NewInternalError("render delete", err)
	}

	q, err := r.schema.Datasource().Prepare(ctx, stmt, params)
	if err != nil {
		return err
	}
	defer q.Close()
	if err := q.Execute(ctx); err != nil {
		return err
	}
	if err := q.Commit(ctx); err != nil {
		return err
	}

	if soft {
		_ = r.data.Set(r.opts.StatusColumn, r.opts.DeletedStatus)
		r.clean[r.opts.StatusColumn] = r.opts.DeletedStatus
	} else {
		r.loaded = false
	}
	zap.S().Debugw("record deleted", "schema", r.schema.Name(), "id", map[string]any(r.id), "soft", soft)
	return nil
}

// Copy inserts the current data as a new row and returns the new record.
func (r *Record) Copy(ctx context.Context) (bedlam.Record, error) {
	data := r.data.Clone()
	for _, field := range r.pk {
		_ = data.Delete(field)
	}
	c := &Record{
		schema:  r.schema,
		dialect: r.dialect,
		pk:      r.PK(),
		opts:    r.opts,
		data:    data,
		clean:   map[string]any{},
		dirty:   true,
	}
	if _, err := c.Save(ctx, true); err != nil {
		return nil, err
	}
	c.loaded = true
	return c, nil
}

// Dump renders the data as an INSERT statement with literal values.
func (r *Record) Dump() string {
	entries := r.data.Entries()
	data := statementData{Table: r.schema.Name()}
	for _, e := range entries {
		data.Columns = append(data.Columns, e.Key)
		data.Values = append(data.Values, e.Value)
	}
	out, err := renderStatement(r.dialect, "dump", data)
	if err != nil {
		return fmt.Sprintf("-- dump failed: %v", err)
	}
	return out
}
