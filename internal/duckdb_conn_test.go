package internal

import (
	"context"
	"testing"

	"github.com/bdlm/bedlam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDuckDBConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     bedlam.DuckDBConfig
		wantErr bool
	}{
		{name: "in-memory", cfg: bedlam.DuckDBConfig{MaxConnections: 1}},
		{name: "file with limits", cfg: bedlam.DuckDBConfig{Path: "/tmp/x.duckdb", MemoryLimitMB: 256, MaxParallelism: 2, MaxConnections: 4}},
		{name: "negative memory", cfg: bedlam.DuckDBConfig{MemoryLimitMB: -1, MaxConnections: 1}, wantErr: true},
		{name: "negative parallelism", cfg: bedlam.DuckDBConfig{MaxParallelism: -1, MaxConnections: 1}, wantErr: true},
		{name: "no connections", cfg: bedlam.DuckDBConfig{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDuckDBConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpenDuckDB_InvalidConfig(t *testing.T) {
	_, err := OpenDuckDB(context.Background(), bedlam.DuckDBConfig{}, DatasourceOptions{})
	require.Error(t, err)
	assert.Equal(t, bedlam.ErrorTypeConfiguration, bedlam.ErrorTypeOf(err))
}

func TestOpenDuckDB_InMemory(t *testing.T) {
	ctx := context.Background()
	ds, err := OpenDuckDB(ctx, bedlam.DuckDBConfig{MaxConnections: 1, MemoryLimitMB: 128, MaxParallelism: 1}, DatasourceOptions{})
	require.NoError(t, err)
	defer ds.Close(ctx)

	assert.Equal(t, bedlam.DriverDuckDB, ds.Driver())
	assert.Equal(t, DialectDuckDB, ds.Dialect())
	assert.NoError(t, ds.Ping(ctx))
	assert.NoError(t, DuckDBHealthCheck(ctx, ds.DB()))
	assert.Error(t, DuckDBHealthCheck(ctx, nil))
}
