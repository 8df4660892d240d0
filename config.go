package bedlam

import (
	"time"
)

// Config holds every setting needed to build datasources, schemas, records
// and state stores.
type Config struct {
	Datasource DatasourceConfig `json:"datasource"`
	Query      QueryConfig      `json:"query"`
	Record     RecordConfig     `json:"record"`
	State      StateConfig      `json:"state"`
	Logging    LoggingConfig    `json:"logging"`
}

// Supported datasource drivers.
const (
	DriverPgx      = "pgx"      // jackc/pgx pool
	DriverPostgres = "postgres" // database/sql with lib/pq
	DriverDuckDB   = "duckdb"   // database/sql with duckdb-go
)

// DatasourceConfig contains database connection settings
type DatasourceConfig struct {
	Driver          string        `json:"driver"`
	Dialect         string        `json:"dialect"` // defaults to the driver's native dialect
	DSN             string        `json:"dsn"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"sslMode"`
	MaxConnections  int           `json:"maxConnections"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime"`
	Timeout         time.Duration `json:"timeout"`
	UseIAM          bool          `json:"useIAM"` // generate an Aurora DSQL auth token as password
	Region          string        `json:"region"`
	DuckDB          DuckDBConfig  `json:"duckdb"`
}

// DuckDBConfig contains settings for the embedded DuckDB driver
type DuckDBConfig struct {
	Path           string        `json:"path"` // empty for in-memory
	MemoryLimitMB  int           `json:"memoryLimitMB"`
	MaxParallelism int           `json:"maxParallelism"`
	MaxConnections int           `json:"maxConnections"`
	Extensions     []string      `json:"extensions"`
	QueryTimeout   time.Duration `json:"queryTimeout"`
}

// QueryConfig contains query execution settings
type QueryConfig struct {
	DefaultTimeout  time.Duration `json:"defaultTimeout"`
	DefaultPageSize int           `json:"defaultPageSize"`
	MaxPageSize     int           `json:"maxPageSize"`
	LogQueries      bool          `json:"logQueries"`
}

// Schema sources.
const (
	SchemaSourceDatabase = "database"
	SchemaSourceFile     = "file"
)

// RecordConfig contains record conventions
type RecordConfig struct {
	PrimaryKey      []string `json:"primaryKey"`
	StatusColumn    string   `json:"statusColumn"`
	DeletedStatus   string   `json:"deletedStatus"`
	CreatedByColumn string   `json:"createdByColumn"`
	UpdatedByColumn string   `json:"updatedByColumn"`
	SchemaSource    string   `json:"schemaSource"`
	SchemaDirectory string   `json:"schemaDirectory"`
}

// State store backends.
const (
	StateBackendNone     = ""
	StateBackendBolt     = "bolt"
	StateBackendS3       = "s3"
	StateBackendDynamoDB = "dynamodb"
)

// StateConfig selects where serialized Objects are kept
type StateConfig struct {
	Backend  string `json:"backend"`
	BoltPath string `json:"boltPath"`
	Bucket   string `json:"bucket"` // bolt bucket or S3 bucket
	Prefix   string `json:"prefix"`
	Table    string `json:"table"` // DynamoDB table
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"` // custom endpoint (MinIO, DynamoDB local)
	// Static credentials for custom endpoints. The default AWS credential
	// chain is used when empty.
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level              string        `json:"level"`
	Format             string        `json:"format"`
	SlowQueryThreshold time.Duration `json:"slowQueryThreshold"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Datasource: DatasourceConfig{
			Driver:          DriverPgx,
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxConnections:  25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         30 * time.Second,
			DuckDB: DuckDBConfig{
				MaxConnections: 1,
				QueryTimeout:   30 * time.Second,
			},
		},
		Query: QueryConfig{
			DefaultTimeout:  30 * time.Second,
			DefaultPageSize: 50,
			MaxPageSize:     1000,
		},
		Record: RecordConfig{
			PrimaryKey:      []string{"id"},
			StatusColumn:    "status",
			DeletedStatus:   "deleted",
			CreatedByColumn: "created_by",
			UpdatedByColumn: "updated_by",
			SchemaSource:    SchemaSourceDatabase,
		},
		State: StateConfig{
			Bucket: "bedlam_state",
		},
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "json",
			SlowQueryThreshold: 1 * time.Second,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Datasource.Driver {
	case DriverPgx, DriverPostgres:
		if c.Datasource.DSN == "" && c.Datasource.Host == "" {
			return &ConfigError{Field: "datasource.host", Message: "host or dsn is required"}
		}
		if c.Datasource.DSN == "" && (c.Datasource.Port <= 0 || c.Datasource.Port > 65535) {
			return &ConfigError{Field: "datasource.port", Message: "must be a valid TCP port"}
		}
		if c.Datasource.MaxConnections <= 0 {
			return &ConfigError{Field: "datasource.maxConnections", Message: "must be greater than 0"}
		}
		if c.Datasource.UseIAM && c.Datasource.Region == "" {
			return &ConfigError{Field: "datasource.region", Message: "is required when useIAM is set"}
		}
	case DriverDuckDB:
		if c.Datasource.DuckDB.MaxConnections < 1 {
			return &ConfigError{Field: "datasource.duckdb.maxConnections", Message: "must be greater than 0"}
		}
		if c.Datasource.DuckDB.MemoryLimitMB < 0 {
			return &ConfigError{Field: "datasource.duckdb.memoryLimitMB", Message: "must be >= 0"}
		}
	default:
		return &ConfigError{Field: "datasource.driver", Message: "unsupported driver '" + c.Datasource.Driver + "'"}
	}

	if c.Query.DefaultPageSize <= 0 {
		return &ConfigError{Field: "query.defaultPageSize", Message: "must be greater than 0"}
	}
	if c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return &ConfigError{Field: "query.maxPageSize", Message: "must be greater than or equal to defaultPageSize"}
	}

	if len(c.Record.PrimaryKey) == 0 {
		return &ConfigError{Field: "record.primaryKey", Message: "must name at least one column"}
	}
	switch c.Record.SchemaSource {
	case SchemaSourceDatabase:
	case SchemaSourceFile:
		if c.Record.SchemaDirectory == "" {
			return &ConfigError{Field: "record.schemaDirectory", Message: "is required for file schemas"}
		}
	default:
		return &ConfigError{Field: "record.schemaSource", Message: "must be 'database' or 'file'"}
	}

	switch c.State.Backend {
	case StateBackendNone:
	case StateBackendBolt:
		if c.State.BoltPath == "" {
			return &ConfigError{Field: "state.boltPath", Message: "is required for the bolt backend"}
		}
	case StateBackendS3:
		if c.State.Bucket == "" {
			return &ConfigError{Field: "state.bucket", Message: "is required for the s3 backend"}
		}
	case StateBackendDynamoDB:
		if c.State.Table == "" {
			return &ConfigError{Field: "state.table", Message: "is required for the dynamodb backend"}
		}
	default:
		return &ConfigError{Field: "state.backend", Message: "unsupported backend '" + c.State.Backend + "'"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
