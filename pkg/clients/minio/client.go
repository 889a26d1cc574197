// Package minio is the object storage backend for durable agent state.
// Its [Client] implements lifecycle.FileStore over a single bucket: each
// state path ("agent_states/scraper-1.json") is an object key.
//
//	cfg := minio.DefaultConfig()
//	cfg.AccessKey = os.Getenv("MINIO_ACCESS_KEY")
//	cfg.SecretKey = minio.Secret(os.Getenv("MINIO_SECRET_KEY"))
//	client, err := minio.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	if err := client.EnsureBucket(ctx); err != nil {
//	    return err
//	}
//
// For tests, use [NewFromStore] with a mock [ObjectStore].
package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

const tracerName = "github.com/StricklySoft/agent-lifecycle/pkg/clients/minio"

// contentType is set on every stored state document.
const contentType = "application/json"

// ObjectStore is the subset of the minio-go API the [Client] uses. It is
// satisfied by [*minio.Client] and by mocks.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// Client stores agent state documents as objects. It is safe for
// concurrent use.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg, creates the minio-go client, and probes the
// server with BucketExists. The bucket need not exist yet; see
// [Client.EnsureBucket].
//
// Error codes returned:
//   - [sserr.CodeValidationRequired], [sserr.CodeValidationFormat]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: cannot reach MinIO
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "minio: failed to create client")
	}
	if _, err := mc.BucketExists(ctx, cfg.Bucket); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}

	return &Client{store: mc, config: &cfg, tracer: otel.Tracer(tracerName)}, nil
}

// NewFromStore wraps an existing [ObjectStore]. cfg is not validated; nil
// means [DefaultConfig].
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{store: store, config: cfg, tracer: otel.Tracer(tracerName)}
}

// Bucket returns the bucket holding the state documents.
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// EnsureBucket creates the bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "EnsureBucket", "BucketExists "+c.config.Bucket)
	exists, err := c.store.BucketExists(ctx, c.config.Bucket)
	if err == nil && !exists {
		err = c.store.MakeBucket(ctx, c.config.Bucket, minio.MakeBucketOptions{Region: c.config.Region})
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: failed to ensure bucket")
	}
	return nil
}

// Exists reports whether an object is stored at path.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	ctx, span := c.startSpan(ctx, "Exists", "StatObject "+path)
	_, err := c.store.StatObject(ctx, c.config.Bucket, path, minio.StatObjectOptions{})
	if isNoSuchKey(err) {
		finishSpan(span, nil)
		return false, nil
	}
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "minio: stat failed")
	}
	return true, nil
}

// Get returns the object stored at path. A missing object is reported
// with [sserr.CodeNotFoundKey].
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "Get", "GetObject "+path)
	data, err := c.read(ctx, path)
	if isNoSuchKey(err) {
		finishSpan(span, nil)
		return nil, sserr.KeyNotFound(path)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "minio: get failed")
	}
	return data, nil
}

// read downloads the object. minio-go reports a missing key on the
// first read, not on GetObject.
func (c *Client) read(ctx context.Context, path string) ([]byte, error) {
	obj, err := c.store.GetObject(ctx, c.config.Bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

// Put stores data at path, replacing any existing object.
func (c *Client) Put(ctx context.Context, path string, data []byte) error {
	ctx, span := c.startSpan(ctx, "Put", "PutObject "+path)
	_, err := c.store.PutObject(ctx, c.config.Bucket, path,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: put failed")
	}
	return nil
}

// Delete removes the object at path. Deleting a missing object is not
// an error.
func (c *Client) Delete(ctx context.Context, path string) error {
	ctx, span := c.startSpan(ctx, "Delete", "RemoveObject "+path)
	err := c.store.RemoveObject(ctx, c.config.Bucket, path, minio.RemoveObjectOptions{})
	if isNoSuchKey(err) {
		err = nil
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: delete failed")
	}
	return nil
}

// List returns the object keys directly under prefix, in the order the
// server lists them. Nested "directories" are not descended into.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "List", "ListObjects "+prefix)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dir := strings.TrimSuffix(prefix, "/") + "/"
	var keys []string
	for obj := range c.store.ListObjects(ctx, c.config.Bucket, minio.ListObjectsOptions{Prefix: dir}) {
		if obj.Err != nil {
			finishSpan(span, obj.Err)
			return nil, wrapError(obj.Err, "minio: list failed")
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	finishSpan(span, nil)
	return keys, nil
}

// Health probes the bucket, applying [DefaultHealthTimeout] when ctx has
// no deadline. Failures are reported with [sserr.CodeUnavailableDependency].
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "BucketExists "+c.config.Bucket)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	_, err := c.store.BucketExists(ctx, c.config.Bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, operationName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", c.config.Bucket),
		attribute.String("db.statement", truncateStatement(statement)),
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

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	return errors.As(err, &resp) && resp.Code == "NoSuchKey"
}

// wrapError classifies a storage error the same way as the other
// backends: deadline expiry is a timeout, cancellation is internal, and
// anything else is a retryable file persistence failure.
func wrapError(err error, message string) *sserr.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return sserr.Wrap(err, sserr.CodeTimeoutStorage, message)
	case errors.Is(err, context.Canceled):
		return sserr.Wrap(err, sserr.CodeInternal, message)
	default:
		return sserr.Wrap(err, sserr.CodePersistenceFile, message)
	}
}
