package bedlam

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, DriverPgx, config.Datasource.Driver)
	assert.Equal(t, "localhost", config.Datasource.Host)
	assert.Equal(t, 5432, config.Datasource.Port)
	assert.Equal(t, 25, config.Datasource.MaxConnections)
	assert.Equal(t, 30*time.Second, config.Query.DefaultTimeout)
	assert.Equal(t, 50, config.Query.DefaultPageSize)
	assert.Equal(t, []string{"id"}, config.Record.PrimaryKey)
	assert.Equal(t, "status", config.Record.StatusColumn)
	assert.Equal(t, "deleted", config.Record.DeletedStatus)
	assert.Equal(t, SchemaSourceDatabase, config.Record.SchemaSource)
	assert.Equal(t, StateBackendNone, config.State.Backend)
	assert.Equal(t, 1*time.Second, config.Logging.SlowQueryThreshold)

	require.NoError(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{
			name:   "unsupported driver",
			mutate: func(c *Config) { c.Datasource.Driver = "sqlite" },
			field:  "datasource.driver",
		},
		{
			name:   "postgres without host or dsn",
			mutate: func(c *Config) { c.Datasource.Host = "" },
			field:  "datasource.host",
		},
		{
			name:   "invalid port",
			mutate: func(c *Config) { c.Datasource.Port = 70000 },
			field:  "datasource.port",
		},
		{
			name:   "no connections",
			mutate: func(c *Config) { c.Datasource.MaxConnections = 0 },
			field:  "datasource.maxConnections",
		},
		{
			name:   "iam without region",
			mutate: func(c *Config) { c.Datasource.UseIAM = true },
			field:  "datasource.region",
		},
		{
			name: "duckdb without connections",
			mutate: func(c *Config) {
				c.Datasource.Driver = DriverDuckDB
				c.Datasource.DuckDB.MaxConnections = 0
			},
			field: "datasource.duckdb.maxConnections",
		},
		{
			name:   "page size",
			mutate: func(c *Config) { c.Query.DefaultPageSize = 0 },
			field:  "query.defaultPageSize",
		},
		{
			name:   "max page size below default",
			mutate: func(c *Config) { c.Query.MaxPageSize = 10 },
			field:  "query.maxPageSize",
		},
		{
			name:   "empty primary key",
			mutate: func(c *Config) { c.Record.PrimaryKey = nil },
			field:  "record.primaryKey",
		},
		{
			name:   "file schemas need a directory",
			mutate: func(c *Config) { c.Record.SchemaSource = SchemaSourceFile },
			field:  "record.schemaDirectory",
		},
		{
			name:   "unknown schema source",
			mutate: func(c *Config) { c.Record.SchemaSource = "ldap" },
			field:  "record.schemaSource",
		},
		{
			name:   "bolt without path",
			mutate: func(c *Config) { c.State.Backend = StateBackendBolt },
			field:  "state.boltPath",
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.State.Backend = StateBackendS3
				c.State.Bucket = ""
			},
			field: "state.bucket",
		},
		{
			name:   "dynamodb without table",
			mutate: func(c *Config) { c.State.Backend = StateBackendDynamoDB },
			field:  "state.table",
		},
		{
			name:   "unknown state backend",
			mutate: func(c *Config) { c.State.Backend = "redis" },
			field:  "state.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfigValidation_DSNReplacesHost(t *testing.T) {
	config := DefaultConfig()
	config.Datasource.Host = ""
	config.Datasource.Port = 0
	config.Datasource.DSN = "postgres://bedlam@db/bedlam"

	assert.NoError(t, config.Validate())
}

func TestConfigValidation_DuckDB(t *testing.T) {
	config := DefaultConfig()
	config.Datasource.Driver = DriverDuckDB
	config.Datasource.Host = ""

	assert.NoError(t, config.Validate())
}
