package internal

import (
	"context"
	"errors"
	"sync"

	"github.com/bdlm/bedlam"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// pgxPool is the subset of pgxpool.Pool used by PostgresDatasource; pgxmock
// pools satisfy it in tests.
type pgxPool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresDatasource runs statements through a pgx pool. All statements share
// one transaction until Commit or Rollback.
type PostgresDatasource struct {
	mu      sync.Mutex
	pool    pgxPool
	dialect dialect
	opts    DatasourceOptions
	tx      pgx.Tx
}

// NewPostgresDatasource wraps pool. A nil pool yields a datasource whose
// statements fail with a storage error.
func NewPostgresDatasource(pool pgxPool, opts DatasourceOptions) (*PostgresDatasource, error) {
	name := opts.Dialect
	if name == "" {
		name = DialectPostgres
	}
	d, err := dialectFor(name)
	if err != nil {
		return nil, err
	}
	return &PostgresDatasource{pool: pool, dialect: d, opts: opts}, nil
}

func (ds *PostgresDatasource) Driver() string  { return bedlam.DriverPgx }
func (ds *PostgresDatasource) Dialect() string { return ds.dialect.Name() }

func (ds *PostgresDatasource) options() DatasourceOptions { return ds.opts }

// Connect checks the pool and begins the shared transaction.
func (ds *PostgresDatasource) Connect(ctx context.Context) error {
	_, err := ds.begin(ctx)
	return err
}

func (ds *PostgresDatasource) begin(ctx context.Context) (pgx.Tx, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.tx != nil {
		return ds.tx, nil
	}
	if ds.pool == nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeNoConnection, "datasource has no connection", nil)
	}
	tx, err := ds.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "begin transaction", err)
	}
	ds.tx = tx
	return tx, nil
}

func (ds *PostgresDatasource) Prepare(ctx context.Context, sql string, params map[string]any) (bedlam.Query, error) {
	if err := ds.Connect(ctx); err != nil {
		return nil, err
	}
	return newQuery(ds, ds.dialect, sql, params), nil
}

func (ds *PostgresDatasource) exec(ctx context.Context, sql string, args []any) (execResult, error) {
	tx, err := ds.begin(ctx)
	if err != nil {
		return execResult{}, err
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return execResult{}, err
	}
	return execResult{affected: tag.RowsAffected()}, nil
}

func (ds *PostgresDatasource) query(ctx context.Context, sql string, args []any) (rowCursor, error) {
	tx, err := ds.begin(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgxCursor{rows: rows}, nil
}

func (ds *PostgresDatasource) QuoteIdentifier(name string) string {
	return ds.dialect.QuoteIdentifier(name)
}

func (ds *PostgresDatasource) Quote(value any) string {
	return quoteLiteral(value)
}

func (ds *PostgresDatasource) Commit(ctx context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.tx == nil {
		return nil
	}
	tx := ds.tx
	ds.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return bedlam.NewStorageError(bedlam.ErrCodeTransactionFailed, "commit failed", err)
	}
	return nil
}

func (ds *PostgresDatasource) Rollback(ctx context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.tx == nil {
		return nil
	}
	tx := ds.tx
	ds.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return bedlam.NewStorageError(bedlam.ErrCodeTransactionFailed, "rollback failed", err)
	}
	return nil
}

// Close rolls back any open transaction and closes the pool.
func (ds *PostgresDatasource) Close(ctx context.Context) error {
	err := ds.Rollback(ctx)
	if err != nil {
		zap.S().Warnw("rollback on close failed", "err", err)
	}
	if ds.pool != nil {
		ds.pool.Close()
	}
	return err
}

// Ping checks connectivity without touching the transaction.
func (ds *PostgresDatasource) Ping(ctx context.Context) error {
	if ds.pool == nil {
		return bedlam.NewStorageError(bedlam.ErrCodeNoConnection, "datasource has no connection", nil)
	}
	return ds.pool.Ping(ctx)
}

type pgxCursor struct {
	rows pgx.Rows
}

func (c *pgxCursor) Next() bool             { return c.rows.Next() }
func (c *pgxCursor) Values() ([]any, error) { return c.rows.Values() }
func (c *pgxCursor) Err() error             { return c.rows.Err() }
func (c *pgxCursor) Close()                 { c.rows.Close() }

func (c *pgxCursor) Columns() []string {
	fields := c.rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
