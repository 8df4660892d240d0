package internal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bdlm/bedlam"
	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"
)

// ValidateDuckDBConfig performs basic sanity checks on DuckDB settings.
func ValidateDuckDBConfig(cfg bedlam.DuckDBConfig) error {
	if cfg.MemoryLimitMB < 0 {
		return fmt.Errorf("invalid memoryLimitMB: must be >= 0")
	}
	if cfg.MaxParallelism < 0 {
		return fmt.Errorf("invalid maxParallelism: must be >= 0")
	}
	if cfg.MaxConnections < 1 {
		return fmt.Errorf("maxConnections must be >= 1")
	}
	// Path may be empty (in-memory)
	return nil
}

// OpenDuckDB opens and configures an embedded DuckDB database and wraps it
// in a datasource. Extension failures are logged and skipped.
func OpenDuckDB(ctx context.Context, cfg bedlam.DuckDBConfig, opts DatasourceOptions) (*SQLDatasource, error) {
	if err := ValidateDuckDBConfig(cfg); err != nil {
		return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidDriver, err.Error())
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "open duckdb", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "ping duckdb", err)
	}

	for _, ext := range cfg.Extensions {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("INSTALL %s;", ext)); err != nil {
			zap.S().Warnw("duckdb: install extension failed", "extension", ext, "err", err)
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("LOAD %s;", ext)); err != nil {
			zap.S().Warnw("duckdb: load extension failed", "extension", ext, "err", err)
		}
	}

	if cfg.MemoryLimitMB > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA memory_limit='%dMB';", cfg.MemoryLimitMB)); err != nil {
			zap.S().Warnw("duckdb: set memory_limit failed", "err", err, "memoryLimitMB", cfg.MemoryLimitMB)
		}
	}
	if cfg.MaxParallelism > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA threads=%d;", cfg.MaxParallelism)); err != nil {
			zap.S().Warnw("duckdb: set threads failed", "err", err, "maxParallelism", cfg.MaxParallelism)
		}
	}

	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = cfg.QueryTimeout
	}
	return NewSQLDatasource(db, bedlam.DriverDuckDB, opts)
}

// DuckDBHealthCheck runs a trivial query outside the shared transaction.
func DuckDBHealthCheck(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("duckdb client not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var v int
	if err := db.QueryRowContext(ctx, "SELECT 1;").Scan(&v); err != nil {
		return fmt.Errorf("duckdb health query failed: %w", err)
	}
	if v != 1 {
		return fmt.Errorf("unexpected duckdb health result: %d", v)
	}

	var threads int
	if err := db.QueryRowContext(ctx, "SELECT current_setting('threads');").Scan(&threads); err != nil {
		zap.S().Warnw("duckdb: threads setting query failed (non-fatal)", "err", err)
	} else if threads <= 0 {
		zap.S().Warnw("duckdb: threads setting invalid (non-fatal)", "threads", threads)
	}
	return nil
}
