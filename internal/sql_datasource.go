package internal

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/bdlm/bedlam"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// SQLDatasource runs statements through database/sql. It serves the lib/pq
// "postgres" driver and the embedded "duckdb" driver.
type SQLDatasource struct {
	mu      sync.Mutex
	db      *sql.DB
	driver  string
	dialect dialect
	opts    DatasourceOptions
	tx      *sql.Tx
}

// NewSQLDatasource wraps an opened *sql.DB. The dialect defaults to the one
// native to driver.
func NewSQLDatasource(db *sql.DB, driver string, opts DatasourceOptions) (*SQLDatasource, error) {
	name := opts.Dialect
	if name == "" {
		switch driver {
		case bedlam.DriverDuckDB:
			name = DialectDuckDB
		case bedlam.DriverPostgres:
			name = DialectPostgres
		default:
			return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidDriver, "unsupported database/sql driver '"+driver+"'")
		}
	}
	d, err := dialectFor(name)
	if err != nil {
		return nil, err
	}
	return &SQLDatasource{db: db, driver: driver, dialect: d, opts: opts}, nil
}

// OpenSQLDatasource opens dsn with the lib/pq driver.
func OpenSQLDatasource(dsn string, opts DatasourceOptions) (*SQLDatasource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "open postgres", err)
	}
	return NewSQLDatasource(db, bedlam.DriverPostgres, opts)
}

func (ds *SQLDatasource) Driver() string  { return ds.driver }
func (ds *SQLDatasource) Dialect() string { return ds.dialect.Name() }

func (ds *SQLDatasource) options() DatasourceOptions { return ds.opts }

// DB exposes the underlying handle for health checks and fixtures.
func (ds *SQLDatasource) DB() *sql.DB { return ds.db }

func (ds *SQLDatasource) Connect(ctx context.Context) error {
	_, err := ds.begin(ctx)
	return err
}

func (ds *SQLDatasource) begin(ctx context.Context) (*sql.Tx, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.tx != nil {
		return ds.tx, nil
	}
	if ds.db == nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeNoConnection, "datasource has no connection", nil)
	}
	// The transaction must outlive the caller's context, so it is not bound to it.
	tx, err := ds.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "begin transaction", err)
	}
	ds.tx = tx
	return tx, nil
}

func (ds *SQLDatasource) Prepare(ctx context.Context, query string, params map[string]any) (bedlam.Query, error) {
	if err := ds.Connect(ctx); err != nil {
		return nil, err
	}
	return newQuery(ds, ds.dialect, query, params), nil
}

func (ds *SQLDatasource) exec(ctx context.Context, query string, args []any) (execResult, error) {
	tx, err := ds.begin(ctx)
	if err != nil {
		return execResult{}, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return execResult{}, err
	}
	out := execResult{}
	if n, err := res.RowsAffected(); err == nil {
		out.affected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.insertID = id
		out.hasInsertID = true
	}
	return out, nil
}

func (ds *SQLDatasource) query(ctx context.Context, query string, args []any) (rowCursor, error) {
	tx, err := ds.begin(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return &sqlCursor{rows: rows, cols: cols}, nil
}

func (ds *SQLDatasource) QuoteIdentifier(name string) string {
	return ds.dialect.QuoteIdentifier(name)
}

func (ds *SQLDatasource) Quote(value any) string {
	return quoteLiteral(value)
}

func (ds *SQLDatasource) Commit(context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.tx == nil {
		return nil
	}
	tx := ds.tx
	ds.tx = nil
	if err := tx.Commit(); err != nil {
		return bedlam.NewStorageError(bedlam.ErrCodeTransactionFailed, "commit failed", err)
	}
	return nil
}

func (ds *SQLDatasource) Rollback(context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.tx == nil {
		return nil
	}
	tx := ds.tx
	ds.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return bedlam.NewStorageError(bedlam.ErrCodeTransactionFailed, "rollback failed", err)
	}
	return nil
}

func (ds *SQLDatasource) Close(ctx context.Context) error {
	err := ds.Rollback(ctx)
	if err != nil {
		zap.S().Warnw("rollback on close failed", "driver", ds.driver, "err", err)
	}
	if ds.db != nil {
		if cerr := ds.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Ping checks connectivity without touching the transaction.
func (ds *SQLDatasource) Ping(ctx context.Context) error {
	if ds.db == nil {
		return bedlam.NewStorageError(bedlam.ErrCodeNoConnection, "datasource has no connection", nil)
	}
	if ds.driver == bedlam.DriverDuckDB {
		return DuckDBHealthCheck(ctx, ds.db)
	}
	return ds.db.PingContext(ctx)
}

type sqlCursor struct {
	rows *sql.Rows
	cols []string
}

func (c *sqlCursor) Next() bool        { return c.rows.Next() }
func (c *sqlCursor) Columns() []string { return c.cols }
func (c *sqlCursor) Err() error        { return c.rows.Err() }
func (c *sqlCursor) Close()            { c.rows.Close() }

func (c *sqlCursor) Values() ([]any, error) {
	values := make([]any, len(c.cols))
	ptrs := make([]any, len(c.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}
