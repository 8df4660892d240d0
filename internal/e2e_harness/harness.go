package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"github.com/bdlm/bedlam/internal"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestHarness owns the containers an end to end test runs against. Stop
// methods are safe to call when the matching Start failed.
type TestHarness struct {
	PGContainer testcontainers.Container
	PGDSN       string
	PGDB        *sql.DB
	S3Container testcontainers.Container
	S3Endpoint  string
}

const (
	s3AccessKey = "minio"
	s3SecretKey = "minio123"

	pgReadyTimeout = 20 * time.Second
)

// start runs req and returns host:port of its first exposed port.
func start(ctx context.Context, req testcontainers.ContainerRequest) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("start %s: %w", req.Image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	port, err := container.MappedPort(ctx, req.ExposedPorts[0])
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	return container, net.JoinHostPort(host, port.Port()), nil
}

// StartPostgres starts Postgres 16 with a "bedlam" database and returns its
// DSN once it accepts queries.
func (h *TestHarness) StartPostgres(ctx context.Context) (string, error) {
	container, addr, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "bedlam",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second),
	})
	if err != nil {
		return "", err
	}
	h.PGContainer = container
	h.PGDSN = fmt.Sprintf("postgres://postgres:password@%s/bedlam?sslmode=disable", addr)

	deadline := time.Now().Add(pgReadyTimeout)
	for {
		err := internal.PostgresHealthCheck(ctx, h.PGDSN, time.Second)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("postgres did not become ready: %w", err)
		}
		time.Sleep(250 * time.Millisecond)
	}

	db, err := sql.Open("postgres", h.PGDSN)
	if err != nil {
		return "", err
	}
	h.PGDB = db
	return h.PGDSN, nil
}

// StopPostgres closes the seed connection and terminates the container.
func (h *TestHarness) StopPostgres(ctx context.Context) error {
	if h.PGDB != nil {
		_ = h.PGDB.Close()
		h.PGDB = nil
	}
	return terminate(ctx, &h.PGContainer)
}

// StartS3 starts MinIO and returns its http endpoint.
func (h *TestHarness) StartS3(ctx context.Context) (string, error) {
	container, addr, err := start(ctx, testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     s3AccessKey,
			"MINIO_ROOT_PASSWORD": s3SecretKey,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	})
	if err != nil {
		return "", err
	}
	h.S3Container = container
	h.S3Endpoint = "http://" + addr
	return h.S3Endpoint, nil
}

// StopS3 terminates the MinIO container.
func (h *TestHarness) StopS3(ctx context.Context) error {
	return terminate(ctx, &h.S3Container)
}

func terminate(ctx context.Context, c *testcontainers.Container) error {
	if *c == nil {
		return nil
	}
	err := (*c).Terminate(ctx)
	*c = nil
	return err
}
