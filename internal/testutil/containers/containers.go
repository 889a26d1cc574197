//go:build integration

// Package containers starts throwaway Redis, MinIO, and PostgreSQL
// containers for the storage backend integration suites. Every helper is
// gated behind the "integration" build tag so unit builds never pull in
// Docker dependencies.
//
//	result, err := containers.StartRedis(ctx)
//	if err != nil { ... }
//	defer result.Terminate(ctx)
package containers

import (
	"context"
	"fmt"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// Images used by the helpers.
const (
	DefaultRedisImage    = "docker.io/redis:7-alpine"
	DefaultMinIOImage    = "docker.io/minio/minio:latest"
	DefaultPostgresImage = "docker.io/postgres:16-alpine"
)

// Credentials for the ephemeral containers. They are only ever used
// against containers bound to localhost.
const (
	DefaultMinIOAccessKey   = "minioadmin"
	DefaultMinIOSecretKey   = "minioadmin"
	DefaultPostgresDatabase = "agent_lifecycle_test"
	DefaultPostgresUser     = "lifecycle"
	DefaultPostgresPassword = "lifecycle"
)

// ===========================================================================
// Redis
// ===========================================================================

// RedisResult is a running Redis container. ConnString is a redis:// URI
// suitable for the Redis client's URI setting.
type RedisResult struct {
	Container  *tcredis.RedisContainer
	ConnString string
}

// Terminate stops the container.
func (r *RedisResult) Terminate(ctx context.Context) error {
	if r == nil || r.Container == nil {
		return nil
	}
	return r.Container.Terminate(ctx)
}

// StartRedis starts an unauthenticated Redis 7 container.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}
	return &RedisResult{Container: container, ConnString: connStr}, nil
}

// ===========================================================================
// MinIO
// ===========================================================================

// MinIOResult is a running MinIO container with its host:port endpoint
// and root credentials.
type MinIOResult struct {
	Container *tcminio.MinioContainer
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Terminate stops the container.
func (r *MinIOResult) Terminate(ctx context.Context) error {
	if r == nil || r.Container == nil {
		return nil
	}
	return r.Container.Terminate(ctx)
}

// StartMinIO starts a MinIO container with the default root credentials.
func StartMinIO(ctx context.Context) (*MinIOResult, error) {
	container, err := tcminio.Run(ctx,
		DefaultMinIOImage,
		tcminio.WithUsername(DefaultMinIOAccessKey),
		tcminio.WithPassword(DefaultMinIOSecretKey),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start minio container: %w", err)
	}

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get minio endpoint: %w", err)
	}
	return &MinIOResult{
		Container: container,
		Endpoint:  endpoint,
		AccessKey: DefaultMinIOAccessKey,
		SecretKey: DefaultMinIOSecretKey,
	}, nil
}

// ===========================================================================
// PostgreSQL
// ===========================================================================

// PostgresResult is a running PostgreSQL container. ConnString carries
// sslmode=disable since the container listens without TLS.
type PostgresResult struct {
	Container  *tcpostgres.PostgresContainer
	ConnString string
}

// Terminate stops the container.
func (r *PostgresResult) Terminate(ctx context.Context) error {
	if r == nil || r.Container == nil {
		return nil
	}
	return r.Container.Terminate(ctx)
}

// StartPostgres starts a PostgreSQL 16 container and waits until it
// accepts connections.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		DefaultPostgresImage,
		tcpostgres.WithDatabase(DefaultPostgresDatabase),
		tcpostgres.WithUsername(DefaultPostgresUser),
		tcpostgres.WithPassword(DefaultPostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get postgres connection string: %w", err)
	}
	return &PostgresResult{Container: container, ConnString: connStr}, nil
}
