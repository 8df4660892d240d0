package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bdlm/bedlam"
	"github.com/bdlm/bedlam/internal"
	"go.uber.org/zap"
)

// Factory builds datasources, schemas, records and state stores from one
// Config. Schemas built by the same Factory share column metadata, so a
// table is described once per process.
//
// Usage:
//
//	import (
//	    "github.com/bdlm/bedlam"
//	    "github.com/bdlm/bedlam/factory"
//	)
//
//	f, err := factory.New(bedlam.DefaultConfig())
//	if err != nil {
//	    // handle error
//	}
//	ds, err := f.NewDatasource(ctx)
//	rec, err := f.NewRecord(ctx, ds, "users")
type Factory struct {
	config *bedlam.Config
	cache  *internal.SchemaCache
}

// New validates config and returns a Factory for it.
func New(config *bedlam.Config) (*Factory, error) {
	if config == nil {
		config = bedlam.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Factory{config: config, cache: internal.NewSchemaCache()}, nil
}

func (f *Factory) Config() *bedlam.Config { return f.config }

func (f *Factory) datasourceOptions() internal.DatasourceOptions {
	return internal.DatasourceOptions{
		Dialect:            f.config.Datasource.Dialect,
		QueryTimeout:       f.config.Query.DefaultTimeout,
		SlowQueryThreshold: f.config.Logging.SlowQueryThreshold,
		LogQueries:         f.config.Query.LogQueries,
	}
}

func (f *Factory) recordOptions() internal.RecordOptions {
	return internal.RecordOptions{
		StatusColumn:    f.config.Record.StatusColumn,
		DeletedStatus:   f.config.Record.DeletedStatus,
		CreatedByColumn: f.config.Record.CreatedByColumn,
		UpdatedByColumn: f.config.Record.UpdatedByColumn,
	}
}

// NewDatasource opens the configured driver. Postgres connections are pinged
// before they are returned.
func (f *Factory) NewDatasource(ctx context.Context) (bedlam.Datasource, error) {
	cfg := f.config.Datasource
	switch cfg.Driver {
	case bedlam.DriverDuckDB:
		ds, err := internal.OpenDuckDB(ctx, cfg.DuckDB, f.datasourceOptions())
		if err != nil {
			return nil, err
		}
		return ds, nil

	case bedlam.DriverPgx, bedlam.DriverPostgres:
		if err := internal.ValidatePostgresConfig(cfg); err != nil {
			return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidDriver, err.Error())
		}
		password, err := f.password(ctx)
		if err != nil {
			return nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if cfg.Driver == bedlam.DriverPostgres {
			ds, err := internal.OpenSQLDatasource(internal.PostgresDSN(cfg, password), f.datasourceOptions())
			if err != nil {
				return nil, err
			}
			if err := ds.Ping(pingCtx); err != nil {
				ds.Close(ctx)
				return nil, bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "ping postgres", err)
			}
			return ds, nil
		}

		pool, err := internal.NewPostgresPool(ctx, cfg, password)
		if err != nil {
			return nil, bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "create connection pool", err)
		}
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "ping postgres", err)
		}
		ds, err := internal.NewPostgresDatasource(pool, f.datasourceOptions())
		if err != nil {
			pool.Close()
			return nil, err
		}
		return ds, nil
	}
	return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidDriver, fmt.Sprintf("unsupported driver '%s'", cfg.Driver))
}

// password returns an Aurora DSQL auth token when IAM auth is enabled, and
// the configured password otherwise.
func (f *Factory) password(ctx context.Context) (string, error) {
	cfg := f.config.Datasource
	if !cfg.UseIAM {
		return cfg.Password, nil
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return "", bedlam.NewConfigurationError(bedlam.ErrCodeInvalidDriver, "load aws config").WithCause(err)
	}
	endpoint := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
	if err != nil {
		return "", bedlam.NewStorageError(bedlam.ErrCodeConnectionFailed, "generate IAM auth token", err)
	}
	zap.S().Infow("generated IAM auth token for postgres connection", "endpoint", endpoint)
	return token, nil
}

// NewSchema returns the schema of table from the configured source. It is
// not loaded yet.
func (f *Factory) NewSchema(ds bedlam.Datasource, table string) (bedlam.Schema, error) {
	var (
		schema *internal.Schema
		err    error
	)
	if f.config.Record.SchemaSource == bedlam.SchemaSourceFile {
		schema, err = f.cache.FileSchema(ds, f.config.Record.SchemaDirectory, table)
	} else {
		schema, err = f.cache.Schema(ds, table)
	}
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// InvalidateSchema drops the cached columns of table, e.g. after a migration.
func (f *Factory) InvalidateSchema(table string) {
	f.cache.Invalidate(table)
}

// NewRecord returns an empty record of table with its schema loaded. The
// primary key comes from the schema's PRI columns, falling back to
// Record.PrimaryKey.
func (f *Factory) NewRecord(ctx context.Context, ds bedlam.Datasource, table string) (bedlam.Record, error) {
	schema, err := f.NewSchema(ds, table)
	if err != nil {
		return nil, err
	}
	pk, err := f.primaryKey(ctx, schema)
	if err != nil {
		return nil, err
	}
	rec, err := internal.NewRecord(schema, pk, f.recordOptions())
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (f *Factory) primaryKey(ctx context.Context, schema bedlam.Schema) ([]string, error) {
	cols, err := schema.Columns(ctx)
	if err != nil {
		return nil, err
	}
	var pk []string
	for _, c := range cols {
		if c.Key == "PRI" {
			pk = append(pk, c.Name)
		}
	}
	if len(pk) == 0 {
		pk = append(pk, f.config.Record.PrimaryKey...)
	}
	return pk, nil
}

// NewComposite returns a composite with primary as its primary schema and
// every related table attached. All schemas are loaded.
func (f *Factory) NewComposite(ctx context.Context, ds bedlam.Datasource, primary string, related ...string) (bedlam.Composite, error) {
	schema, err := f.NewSchema(ds, primary)
	if err != nil {
		return nil, err
	}
	pk, err := f.primaryKey(ctx, schema)
	if err != nil {
		return nil, err
	}
	c, err := internal.NewComposite(pk, f.recordOptions())
	if err != nil {
		return nil, err
	}
	if err := c.AddSchema(schema, true); err != nil {
		return nil, err
	}
	for _, table := range related {
		s, err := f.NewSchema(ds, table)
		if err != nil {
			return nil, err
		}
		if err := s.Load(ctx); err != nil {
			return nil, err
		}
		if err := c.AddSchema(s, false); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewStateStore opens the configured state backend.
func (f *Factory) NewStateStore(ctx context.Context) (bedlam.StateStore, error) {
	cfg := f.config.State
	switch cfg.Backend {
	case bedlam.StateBackendBolt:
		store, err := internal.NewBoltStateStore(cfg.BoltPath, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		return store, nil
	case bedlam.StateBackendS3:
		awsCfg, err := f.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			// MinIO and friends only serve path style requests.
			o.UsePathStyle = cfg.Endpoint != ""
		})
		store, err := internal.NewS3StateStore(client, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	case bedlam.StateBackendDynamoDB:
		awsCfg, err := f.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		store, err := internal.NewDynamoDBStateStore(dynamodb.NewFromConfig(awsCfg), cfg.Table, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidDriver, "no state backend configured")
}

func (f *Factory) awsConfig(ctx context.Context) (aws.Config, error) {
	cfg := f.config.State
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, bedlam.NewConfigurationError(bedlam.ErrCodeInvalidDriver, "load aws config").WithCause(err)
	}
	return awsCfg, nil
}
