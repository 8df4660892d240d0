package internal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/bdlm/bedlam"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// execResult is what a non-row statement reports back.
type execResult struct {
	affected    int64
	insertID    int64
	hasInsertID bool
}

// rowCursor adapts pgx.Rows and *sql.Rows.
type rowCursor interface {
	Next() bool
	Columns() []string
	Values() ([]any, error)
	Err() error
	Close()
}

// executor runs statements inside the owning datasource's transaction.
type executor interface {
	bedlam.Datasource
	exec(ctx context.Context, sql string, args []any) (execResult, error)
	query(ctx context.Context, sql string, args []any) (rowCursor, error)
	options() DatasourceOptions
}

// DatasourceOptions tune statement logging and execution.
type DatasourceOptions struct {
	Dialect            string
	QueryTimeout       time.Duration
	SlowQueryThreshold time.Duration
	LogQueries         bool
}

type query struct {
	ds       executor
	dialect  dialect
	raw      string
	params   map[string]any
	executed bool
	rows     rowCursor
	result   execResult
	compiled compiledStatement
}

func newQuery(ds executor, d dialect, sql string, params map[string]any) *query {
	q := &query{
		ds:      ds,
		dialect: d,
		raw:     sql,
		params:  make(map[string]any, len(params)),
	}
	for k, v := range params {
		q.params[k] = v
	}
	q.compiled = compileNamed(q.raw, d.Placeholder)
	return q
}

func (q *query) Bind(name string, value any) bedlam.Query {
	q.params[strings.TrimPrefix(name, ":")] = value
	return q
}

func (q *query) BindMap(params map[string]any) bedlam.Query {
	for k, v := range params {
		q.Bind(k, v)
	}
	return q
}

func (q *query) Limit(start, rows int) error {
	if q.executed {
		return bedlam.NewQueryError(bedlam.ErrCodeQueryExecuted, "cannot page a query that has already been executed")
	}
	if !isSelect(q.raw) {
		return bedlam.NewQueryError(bedlam.ErrCodeQueryNotSelect, "only SELECT statements can be paged")
	}
	if start < 0 || rows <= 0 {
		return bedlam.NewQueryError(bedlam.ErrCodeQueryBuildFailed,
			fmt.Sprintf("invalid page window start=%d rows=%d", start, rows))
	}
	q.raw = q.dialect.Paginate(q.raw, start, rows)
	q.compiled = compileNamed(q.raw, q.dialect.Placeholder)
	return nil
}

func (q *query) Execute(ctx context.Context) error {
	if q.rows != nil {
		q.rows.Close()
		q.rows = nil
	}
	args, err := q.compiled.args(q.params)
	if err != nil {
		return err
	}

	opts := q.ds.options()
	// Row sets outlive Execute, so the timeout only covers statements.
	if opts.QueryTimeout > 0 && !returnsRows(q.raw) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	if returnsRows(q.raw) {
		q.rows, err = q.ds.query(ctx, q.compiled.sql, args)
		q.result = execResult{}
	} else {
		q.result, err = q.ds.exec(ctx, q.compiled.sql, args)
	}
	elapsed := time.Since(start)

	if opts.LogQueries {
		zap.S().Debugw("query executed", "dialect", q.dialect.Name(), "sql", q.String(), "duration", elapsed, "err", err)
	}
	if opts.SlowQueryThreshold > 0 && elapsed > opts.SlowQueryThreshold {
		zap.S().Warnw("slow query", "sql", q.compiled.sql, "duration", elapsed, "threshold", opts.SlowQueryThreshold)
	}
	if err != nil {
		var be *bedlam.BedlamError
		if errors.As(err, &be) {
			return err
		}
		return bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, "query execution failed", err).
			WithDetail("sql", q.compiled.sql)
	}
	q.executed = true
	return nil
}

func (q *query) Next(ctx context.Context) (*bedlam.Object, error) {
	if !q.executed {
		if err := q.Execute(ctx); err != nil {
			return nil, err
		}
	}
	if q.rows == nil {
		return nil, bedlam.ErrNoRows
	}
	if !q.rows.Next() {
		err := q.rows.Err()
		q.rows.Close()
		q.rows = nil
		if err != nil {
			return nil, bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, "reading rows failed", err)
		}
		return nil, bedlam.ErrNoRows
	}
	values, err := q.rows.Values()
	if err != nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeQueryExecution, "reading row values failed", err)
	}
	columns := q.rows.Columns()
	entries := make([]bedlam.Entry, 0, len(columns))
	for i, col := range columns {
		var v any
		if i < len(values) {
			v = normalizeValue(values[i])
		}
		entries = append(entries, bedlam.Entry{Key: col, Value: v})
	}
	return bedlam.NewObject(entries...), nil
}

func (q *query) Commit(ctx context.Context) error {
	return q.ds.Commit(ctx)
}

func (q *query) Rollback(ctx context.Context) error {
	return q.ds.Rollback(ctx)
}

func (q *query) SQL() string {
	return q.compiled.sql
}

func (q *query) String() string {
	return interpolate(q.raw, q.params, q.ds.Quote)
}

func (q *query) RowsAffected() int64 {
	return q.result.affected
}

func (q *query) LastInsertID() (int64, bool) {
	return q.result.insertID, q.result.hasInsertID
}

func (q *query) Close() error {
	if q.rows != nil {
		q.rows.Close()
		q.rows = nil
	}
	return nil
}

// normalizeValue converts driver specific values into the plain values an
// Object validates: UUIDs as strings, numerics as float64, bytes as strings.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case [16]byte:
		id, _ := toUUID(t)
		return id.String()
	case uuid.UUID:
		return t.String()
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case *big.Int:
		if t.IsInt64() {
			return t.Int64()
		}
		return t.String()
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case int8:
		return int64(t)
	case float32:
		return float64(t)
	}
	// Named 16 byte arrays such as driver UUID types.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8 {
		var raw [16]byte
		reflect.Copy(reflect.ValueOf(&raw).Elem(), rv)
		return uuid.UUID(raw).String()
	}
	return v
}
