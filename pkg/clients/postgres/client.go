// Package postgres is the SQL backend for durable agent state. Its
// [Client] implements lifecycle.FileStore over one table keyed by state
// path:
//
//	CREATE TABLE agent_state_files (
//	    path       TEXT PRIMARY KEY,
//	    body       BYTEA NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	)
//
// Bodies are stored as raw bytes so documents round-trip unchanged.
// Call [Client.EnsureSchema] once at startup. For tests, use
// [NewFromPool] with pgxmock.
package postgres

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

const tracerName = "github.com/StricklySoft/agent-lifecycle/pkg/clients/postgres"

// Pool is the subset of pgx pool operations the [Client] uses. It is
// satisfied by [*pgxpool.Pool] and by pgxmock pools.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Client stores agent state documents as table rows. It is safe for
// concurrent use.
type Client struct {
	pool         Pool
	config       *Config
	tracer       trace.Tracer
	databaseName string
	sql          statements
}

// statements are rendered once per table name.
type statements struct {
	schema string
	exists string
	get    string
	put    string
	delete string
	list   string
}

func newStatements(table string) statements {
	t := pgx.Identifier{table}.Sanitize()
	return statements{
		schema: `CREATE TABLE IF NOT EXISTS ` + t + ` (
	path       TEXT PRIMARY KEY,
	body       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		exists: `SELECT EXISTS (SELECT 1 FROM ` + t + ` WHERE path = $1)`,
		get:    `SELECT body FROM ` + t + ` WHERE path = $1`,
		put: `INSERT INTO ` + t + ` (path, body, updated_at) VALUES ($1, $2, now())
ON CONFLICT (path) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		delete: `DELETE FROM ` + t + ` WHERE path = $1`,
		list:   `SELECT path FROM ` + t + ` WHERE path LIKE $1 AND path NOT LIKE $2 ORDER BY path`,
	}
}

// NewClient validates cfg, opens a connection pool, and verifies it with
// a ping. The caller must Close the client.
//
// Error codes returned:
//   - [sserr.CodeValidation] and its variants: invalid configuration
//   - [sserr.CodeInternalConfiguration]: TLS setup failure
//   - [sserr.CodeUnavailableDependency]: cannot reach the database
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat,
			"postgres: failed to parse connection string")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration,
			"postgres: failed to configure TLS")
	}
	if tlsCfg != nil {
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"postgres: failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"postgres: failed to connect to database")
	}

	dbName := cfg.Database
	if cfg.URI != "" {
		if u, parseErr := url.Parse(cfg.URI); parseErr == nil {
			dbName = strings.TrimPrefix(u.Path, "/")
		}
	}

	c := NewFromPool(pool, &cfg)
	c.databaseName = dbName
	return c, nil
}

// NewFromPool wraps an existing [Pool]. cfg is not validated; nil means
// the default table.
func NewFromPool(pool Pool, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	return &Client{
		pool:         pool,
		config:       cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.Database,
		sql:          newStatements(table),
	}
}

// EnsureSchema creates the state table when it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "EnsureSchema", c.sql.schema)
	_, err := c.pool.Exec(ctx, c.sql.schema)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postgres: failed to create state table")
	}
	return nil
}

// Exists reports whether a row is stored for path.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	ctx, span := c.startSpan(ctx, "Exists", c.sql.exists)
	var found bool
	err := c.pool.QueryRow(ctx, c.sql.exists, path).Scan(&found)
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "postgres: exists failed")
	}
	return found, nil
}

// Get returns the document stored for path. A missing row is reported
// with [sserr.CodeNotFoundKey].
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "Get", c.sql.get)
	var body []byte
	err := c.pool.QueryRow(ctx, c.sql.get, path).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		finishSpan(span, nil)
		return nil, sserr.KeyNotFound(path)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: get failed")
	}
	return body, nil
}

// Put upserts the document for path.
func (c *Client) Put(ctx context.Context, path string, data []byte) error {
	ctx, span := c.startSpan(ctx, "Put", c.sql.put)
	_, err := c.pool.Exec(ctx, c.sql.put, path, data)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postgres: put failed")
	}
	return nil
}

// Delete removes the row for path. Deleting a missing row is not an error.
func (c *Client) Delete(ctx context.Context, path string) error {
	ctx, span := c.startSpan(ctx, "Delete", c.sql.delete)
	_, err := c.pool.Exec(ctx, c.sql.delete, path)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postgres: delete failed")
	}
	return nil
}

// List returns the paths directly under prefix, sorted.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "List", c.sql.list)
	dir := escapeLike(strings.TrimSuffix(prefix, "/") + "/")

	rows, err := c.pool.Query(ctx, c.sql.list, dir+"%", dir+"%/%")
	if err != nil {
		finishSpan(span, err)
		return nil, wrapError(err, "postgres: list failed")
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: list failed")
	}
	return paths, nil
}

// Health pings the database, applying [DefaultHealthTimeout] when ctx
// has no deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "SELECT 1")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: health check failed")
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

func (c *Client) startSpan(ctx context.Context, operationName, sql string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "postgres."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", c.databaseName),
		attribute.String("db.statement", truncateSQL(sql)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike quotes LIKE metacharacters using the default backslash
// escape.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// wrapError classifies a database error. Deadline expiry and connection
// exceptions (SQLSTATE class 08) are retryable; cancellation is internal;
// anything else is a file persistence failure.
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return sserr.Wrap(err, sserr.CodeTimeoutStorage, message)
	case errors.Is(err, context.Canceled):
		return sserr.Wrap(err, sserr.CodeInternal, message)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08") {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, message)
	}
	return sserr.Wrap(err, sserr.CodePersistenceFile, message)
}
