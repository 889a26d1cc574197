package minio

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/agent-lifecycle/internal/testutil"
	sserr "github.com/StricklySoft/agent-lifecycle/pkg/errors"
)

// ===========================================================================
// Mock Implementation
// ===========================================================================

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectStore) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Get(0).(*minio.Object), args.Error(1)
}

func (m *mockObjectStore) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Error(0)
}

func (m *mockObjectStore) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func (m *mockObjectStore) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucketName, opts)
	return args.Get(0).(<-chan minio.ObjectInfo)
}

func (m *mockObjectStore) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectStore) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	args := m.Called(ctx, bucketName, opts)
	return args.Error(0)
}

var noSuchKey = minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404, Message: "The specified key does not exist."}

func listing(objs ...minio.ObjectInfo) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(objs))
	for _, o := range objs {
		ch <- o
	}
	close(ch)
	return ch
}

// ===========================================================================
// Put, Get, Delete, Exists
// ===========================================================================

// TestClient_Put verifies bucket, key, size, content type, and body.
func TestClient_Put(t *testing.T) {
	t.Parallel()
	m := &mockObjectStore{}
	body := []byte(`{"agent_id":"scraper-1"}`)
	var uploaded []byte
	m.On("PutObject", mock.Anything, DefaultBucket, "agent_states/scraper-1.json",
		mock.Anything,
		int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"},
	).Run(func(args mock.Arguments) {
		uploaded, _ = io.ReadAll(args.Get(3).(io.Reader))
	}).Return(minio.UploadInfo{}, nil)

	err := NewFromStore(m, nil).Put(context.Background(), "agent_states/scraper-1.json", body)

	require.NoError(t, err)
	m.AssertExpectations(t)
	assert.Equal(t, body, uploaded)
}

// TestClient_Put_Error verifies persistence classification.
func TestClient_Put_Error(t *testing.T) {
	t.Parallel()
	m := &mockObjectStore{}
	m.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("503 slow down"))

	err := NewFromStore(m, nil).Put(context.Background(), "p", []byte("x"))

	testutil.RequireErrorCode(t, err, sserr.CodePersistenceFile)
	assert.True(t, sserr.IsRetryable(err))
}

// TestClient_Get_RequestError verifies wrapping of an immediate failure.
func TestClient_Get_RequestError(t *testing.T) {
	t.Parallel()
	m := &mockObjectStore{}
	m.On("GetObject", mock.Anything, DefaultBucket, "p", minio.GetObjectOptions{}).
		Return((*minio.Object)(nil), context.DeadlineExceeded)

	_, err := NewFromStore(m, nil).Get(context.Background(), "p")

	testutil.RequireErrorCode(t, err, sserr.CodeTimeoutStorage)
}

// TestClient_Get_Missing verifies that NoSuchKey becomes not-found.
func TestClient_Get_Missing(t *testing.T) {
	t.Parallel()
	m := &mockObjectStore{}
	m.On("GetObject", mock.Anything, DefaultBucket, "agent_states/ghost.json", mock.Anything).
		Return((*minio.Object)(nil), noSuchKey)

	_, err := NewFromStore(m, nil).Get(context.Background(), "agent_states/ghost.json")

	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundKey)
}

// TestClient_Exists verifies the stat outcomes.
func TestClient_Exists(t *testing.T) {
	t.Parallel()
	m := &mockObjectStore{}
	m.On("StatObject", mock.Anything, DefaultBucket, "present", mock.Anything).Return(minio.ObjectInfo{Key: "present"}, nil)
	m.On("StatObject", mock.Anything, DefaultBucket, "absent", mock.Anything).Return(minio.ObjectInfo{}, noSuchKey)
	m.On("StatObject", mock.Anything, DefaultBucket, "broken", mock.Anything).Return(minio.ObjectInfo{}, errors.New("boom"))
	c := NewFromStore(m, nil)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Exists(ctx, "broken")
	testutil.AssertErrorCode(t, err, sserr.CodePersistenceFile)
}

// TestClient_Delete verifies that a missing object is not an error.
func TestClient_Delete(t *testing.T) {
	t.Parallel()
	m := &mockObjectStore{}
	m.On("RemoveObject", mock.Anything, DefaultBucket, "gone", mock.Anything).Return(noSuchKey)
	m.On("RemoveObject", mock.Anything, DefaultBucket, "denied", mock.Anything).
		Return(minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403})
	c := NewFromStore(m, nil)

	require.NoError(t, c.Delete(context.Background(), "gone"))
	testutil.AssertErrorCode(t, c.Delete(context.Background(), "denied"), sserr.CodePersistenceFile)
}

// ===========================================================================
// List
// ===========================================================================

// TestClient_List verifies the prefix and that nested prefixes are skipped.
func TestClient_List(t *testing.T) {
	t.Parallel()
	m := &mockObjectStore{}
	m.On("ListObjects", mock.Anything, DefaultBucket, minio.ListObjectsOptions{Prefix: "agent_states/"}).
		Return(listing(
			minio.ObjectInfo{Key: "agent_states/a.json"},
			minio.ObjectInfo{Key: "agent_states/archive/"},
			minio.ObjectInfo{Key: "agent_states/b.json"},
		))

	keys, err := NewFromStore(m, nil).List(context.Background(), "agent_states")

	require.NoError(t, err)
	assert.Equal(t, []string{"agent_states/a.json", "agent_states/b.json"}, keys)
}

// TestClient_List_Error verifies that an in-stream error aborts listing.
func TestClient_List_Error(t *testing.T) {
	t.Parallel()
	m := &mockObjectStore{}
	m.On("ListObjects", mock.Anything, DefaultBucket, mock.Anything).
		Return(listing(
			minio.ObjectInfo{Key: "agent_states/a.json"},
			minio.ObjectInfo{Err: errors.New("connection reset")},
		))

	keys, err := NewFromStore(m, nil).List(context.Background(), "agent_states/")

	assert.Nil(t, keys)
	testutil.AssertErrorCode(t, err, sserr.CodePersistenceFile)
}

// ===========================================================================
// Bucket management and health
// ===========================================================================

// TestClient_EnsureBucket verifies that the bucket is created only when
// missing.
func TestClient_EnsureBucket(t *testing.T) {
	t.Parallel()
	cfg := &Config{Bucket: "fleet-states", Region: "eu-west-1"}

	missing := &mockObjectStore{}
	missing.On("BucketExists", mock.Anything, "fleet-states").Return(false, nil)
	missing.On("MakeBucket", mock.Anything, "fleet-states", minio.MakeBucketOptions{Region: "eu-west-1"}).Return(nil)
	require.NoError(t, NewFromStore(missing, cfg).EnsureBucket(context.Background()))
	missing.AssertExpectations(t)

	present := &mockObjectStore{}
	present.On("BucketExists", mock.Anything, "fleet-states").Return(true, nil)
	require.NoError(t, NewFromStore(present, cfg).EnsureBucket(context.Background()))
	present.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
}

// TestClient_Health verifies unavailable classification.
func TestClient_Health(t *testing.T) {
	t.Parallel()
	m := &mockObjectStore{}
	m.On("BucketExists", mock.Anything, DefaultBucket).Return(false, errors.New("dial tcp: refused")).Once()
	m.On("BucketExists", mock.Anything, DefaultBucket).Return(false, nil).Once()
	c := NewFromStore(m, nil)

	testutil.AssertErrorCode(t, c.Health(context.Background()), sserr.CodeUnavailableDependency)
	assert.NoError(t, c.Health(context.Background()))
	assert.Equal(t, DefaultBucket, c.Bucket())
}

// TestWrapError verifies the classification table.
func TestWrapError(t *testing.T) {
	t.Parallel()
	assert.Nil(t, wrapError(nil, "x"))
	assert.Equal(t, sserr.CodeTimeoutStorage, wrapError(context.DeadlineExceeded, "x").Code)
	assert.Equal(t, sserr.CodeInternal, wrapError(context.Canceled, "x").Code)
	assert.Equal(t, sserr.CodePersistenceFile, wrapError(errors.New("boom"), "x").Code)
	assert.True(t, isNoSuchKey(noSuchKey))
	assert.False(t, isNoSuchKey(nil))
}
