package bedlam

import (
	"context"
)

// Datasource is a connection to a storage backend. A connected Datasource
// holds one open transaction that every Query prepared from it shares until
// Commit or Rollback; the next statement then begins a new one.
type Datasource interface {
	// Driver returns the configured driver name (pgx, postgres, duckdb).
	Driver() string
	// Dialect returns the SQL dialect used for placeholders and paging.
	Dialect() string
	// Connect opens the connection and begins a transaction.
	Connect(ctx context.Context) error
	// Prepare builds a Query from SQL with :name placeholders, connecting first
	// if needed.
	Prepare(ctx context.Context, sql string, params map[string]any) (Query, error)
	QuoteIdentifier(name string) string
	// Quote renders value as a SQL literal. It is meant for debugging output
	// only; statements always bind values as parameters.
	Quote(value any) string
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Close rolls back an open transaction and releases the connection.
	Close(ctx context.Context) error
}

// Query is a prepared statement with late-bound named parameters.
type Query interface {
	Bind(name string, value any) Query
	BindMap(params map[string]any) Query
	// Limit pages a SELECT. It fails once the query has run or when the
	// statement is not a SELECT.
	Limit(start, rows int) error
	Execute(ctx context.Context) error
	// Next returns the next row, executing the query first if needed. It
	// returns ErrNoRows after the last row.
	Next(ctx context.Context) (*Object, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// SQL returns the statement as sent to the driver.
	SQL() string
	// String interpolates the bound values for logging.
	String() string
	RowsAffected() int64
	LastInsertID() (int64, bool)
	Close() error
}

// Schema describes the columns of one table. It loads lazily on first read
// and cannot be modified by callers.
type Schema interface {
	Name() string
	Datasource() Datasource
	Load(ctx context.Context) error
	IsLoaded() bool
	// Describe returns the metadata for one column.
	Describe(ctx context.Context, field string) (Column, error)
	Columns(ctx context.Context) ([]Column, error)
	Fields(ctx context.Context) ([]string, error)
	Has(ctx context.Context, field string) (bool, error)
	// Lookup reads already loaded metadata without triggering a load.
	Lookup(field string) (Column, bool)
	// Set and SetData always fail.
	Set(field string, column Column) error
	SetData(columns []Column) error
}

// Record is one row of a Schema. Load state (unloaded, loading, loaded) and
// the dirty flag are tracked independently.
type Record interface {
	Schema() Schema
	PK() []string
	// SetID sets the identity. Every primary key column is required; on
	// failure the identity is cleared.
	SetID(id Identity) error
	ID() Identity
	Get(field string) (any, error)
	Set(field string, value any) error
	Fields() []string
	Data() *Object
	Describe(ctx context.Context) ([]Column, error)
	Load(ctx context.Context, force bool) error
	// Save writes the record when dirty or forced and reports whether a
	// statement was committed.
	Save(ctx context.Context, force bool) (bool, error)
	Reset() error
	ResetField(field string) error
	DeleteRecord(ctx context.Context, realDelete bool) error
	// Copy saves the data as a new row and returns the new Record. The
	// receiver is left untouched.
	Copy(ctx context.Context) (Record, error)
	// Dump renders the data as an INSERT statement.
	Dump() string
	AddError(message string)
	Errors() []string
	SetErrors(messages []string)
	IsDirty() bool
	IsLoaded() bool
	IsLoading() bool
}

// Composite groups a primary Record with one-to-many related Records loaded
// through {primary}_{pk} foreign key columns.
type Composite interface {
	SetID(id Identity) error
	ID() Identity
	AddSchema(schema Schema, primary bool) error
	Schema(name string) (Schema, bool)
	Primary() Record
	Related(name string) []Record
	Load(ctx context.Context, force bool) error
	Save(ctx context.Context, force bool) error
	IsDirty() bool
	IsLoaded() bool
	IsLoading() bool
}

// StateStore keeps serialized Objects by key.
type StateStore interface {
	Put(ctx context.Context, key string, obj *Object) error
	// Get returns a not_found error when key is absent.
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
