package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bdlm/bedlam"
	"github.com/bdlm/bedlam/factory"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Server serves records over HTTP from one datasource.
type Server struct {
	factory *factory.Factory
	ds      bedlam.Datasource
	state   bedlam.StateStore // nil when no state backend is configured
	mux     *http.ServeMux
	mu      sync.Mutex
}

// NewServer creates a new Server instance
func NewServer(f *factory.Factory, ds bedlam.Datasource, state bedlam.StateStore) *Server {
	return &Server{
		factory: f,
		ds:      ds,
		state:   state,
		mux:     http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/api/v1/", s.apiHandler)
	if s.state != nil {
		s.mux.HandleFunc("/state/v1/", s.handleState)
	}
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.ds.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeSuccess(w, http.StatusOK, map[string]string{"driver": s.ds.Driver(), "dialect": s.ds.Dialect()})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func main() {
	config := loadConfig()

	logger, err := newLogger(config.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	f, err := factory.New(config)
	if err != nil {
		sugar.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ds, err := f.NewDatasource(ctx)
	if err != nil {
		sugar.Fatalf("failed to open datasource: %v", err)
	}
	defer ds.Close(context.Background())

	var state bedlam.StateStore
	if config.State.Backend != bedlam.StateBackendNone {
		state, err = f.NewStateStore(ctx)
		if err != nil {
			sugar.Fatalf("failed to open state store: %v", err)
		}
		defer state.Close()
	}

	server := NewServer(f, ds, state)
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	httpServer := &http.Server{Addr: ":" + port, Handler: server, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	sugar.Infow("starting server", "port", port, "driver", config.Datasource.Driver, "state", config.State.Backend)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Fatalf("server error: %v", err)
	}
}

// loadConfig reads the configuration from the environment on top of the
// defaults.
func loadConfig() *bedlam.Config {
	config := bedlam.DefaultConfig()

	ds := &config.Datasource
	ds.Driver = getEnv("DB_DRIVER", ds.Driver)
	ds.Dialect = getEnv("DB_DIALECT", ds.Dialect)
	ds.DSN = getEnv("DB_DSN", ds.DSN)
	ds.Host = getEnv("DB_HOST", ds.Host)
	ds.Port = getEnvInt("DB_PORT", ds.Port)
	ds.Database = getEnv("DB_NAME", "bedlam")
	ds.Username = getEnv("DB_USER", "postgres")
	ds.Password = getEnv("DB_PASSWORD", "")
	ds.SSLMode = getEnv("DB_SSL_MODE", ds.SSLMode)
	ds.MaxConnections = getEnvInt("DB_MAX_CONNECTIONS", ds.MaxConnections)
	ds.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", ds.MaxIdleConns)
	ds.ConnMaxLifetime = time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_SECONDS", 3600)) * time.Second
	ds.ConnMaxIdleTime = time.Duration(getEnvInt("DB_CONN_MAX_IDLE_TIME_SECONDS", 300)) * time.Second
	ds.Timeout = time.Duration(getEnvInt("DB_TIMEOUT_SECONDS", 30)) * time.Second
	ds.UseIAM = getEnvBool("DB_USE_IAM", false)
	ds.Region = getEnv("AWS_REGION", "")
	ds.DuckDB.Path = getEnv("DUCKDB_PATH", "")
	ds.DuckDB.MemoryLimitMB = getEnvInt("DUCKDB_MEMORY_LIMIT_MB", 0)
	ds.DuckDB.MaxParallelism = getEnvInt("DUCKDB_MAX_PARALLELISM", 0)
	if ext := getEnv("DUCKDB_EXTENSIONS", ""); ext != "" {
		ds.DuckDB.Extensions = strings.Split(ext, ",")
	}

	config.Query.LogQueries = getEnvBool("LOG_QUERIES", false)
	config.Query.DefaultTimeout = time.Duration(getEnvInt("QUERY_TIMEOUT_SECONDS", 30)) * time.Second

	rec := &config.Record
	if pk := getEnv("PRIMARY_KEY", ""); pk != "" {
		rec.PrimaryKey = strings.Split(pk, ",")
	}
	rec.StatusColumn = getEnv("STATUS_COLUMN", rec.StatusColumn)
	rec.DeletedStatus = getEnv("DELETED_STATUS", rec.DeletedStatus)
	rec.SchemaSource = getEnv("SCHEMA_SOURCE", rec.SchemaSource)
	rec.SchemaDirectory = getEnv("SCHEMA_DIR", "")

	st := &config.State
	st.Backend = getEnv("STATE_BACKEND", st.Backend)
	st.BoltPath = getEnv("STATE_BOLT_PATH", "")
	st.Bucket = getEnv("STATE_BUCKET", st.Bucket)
	st.Prefix = getEnv("STATE_PREFIX", "")
	st.Table = getEnv("STATE_TABLE", "")
	st.Region = getEnv("AWS_REGION", "")
	st.Endpoint = getEnv("STATE_ENDPOINT", "")
	st.AccessKeyID = getEnv("STATE_ACCESS_KEY_ID", "")
	st.SecretAccessKey = getEnv("STATE_SECRET_ACCESS_KEY", "")

	config.Logging.Level = getEnv("LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("LOG_FORMAT", config.Logging.Format)
	config.Logging.SlowQueryThreshold = time.Duration(getEnvInt("SLOW_QUERY_MS", 1000)) * time.Millisecond
	return config
}

// newLogger builds a production logger, or a development console logger when
// the format is "console".
func newLogger(cfg bedlam.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
