package remotestore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakefront/s3console/pkg/apperror"
	"github.com/lakefront/s3console/pkg/cache"
	"github.com/lakefront/s3console/pkg/retry"
)

// fakeStore counts calls and fails on demand.
type fakeStore struct {
	mu          sync.Mutex
	listBuckets atomic.Int64
	listObjects atomic.Int64
	failWith    error
}

func (f *fakeStore) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWith
}

func (f *fakeStore) setErr(err error) {
	f.mu.Lock()
	f.failWith = err
	f.mu.Unlock()
}

func (f *fakeStore) ListBuckets(ctx context.Context) ([]Bucket, error) {
	f.listBuckets.Add(1)
	if err := f.err(); err != nil {
		return nil, err
	}
	return []Bucket{{Name: "docs"}}, nil
}

func (f *fakeStore) ListObjects(ctx context.Context, bucket, prefix string) (*ObjectListing, error) {
	f.listObjects.Add(1)
	if err := f.err(); err != nil {
		return nil, err
	}
	return &ObjectListing{Objects: []Object{{Key: prefix + "q1.pdf", Size: 42}}}, nil
}

func (f *fakeStore) CreateBucket(ctx context.Context, input CreateBucketInput) error { return f.err() }
func (f *fakeStore) DeleteBucket(ctx context.Context, name string) error            { return f.err() }
func (f *fakeStore) PutObject(ctx context.Context, input UploadInput) error         { return f.err() }
func (f *fakeStore) DeleteObject(ctx context.Context, bucket, key string) error     { return f.err() }
func (f *fakeStore) CreateFolder(ctx context.Context, bucket, path string) error    { return f.err() }
func (f *fakeStore) SetVersioning(ctx context.Context, bucket string, enabled bool) error {
	return f.err()
}
func (f *fakeStore) SetEncryption(ctx context.Context, bucket string, enabled bool) error {
	return f.err()
}
func (f *fakeStore) PutBucketConfig(ctx context.Context, bucket string, kind ConfigKind, doc []byte) error {
	return f.err()
}
func (f *fakeStore) DeleteBucketConfig(ctx context.Context, bucket string, kind ConfigKind) error {
	return f.err()
}

func newTestFacade(t *testing.T, raw Store, cfg Config) *CachedStore {
	t.Helper()
	c := cache.New(cache.Config{SweepInterval: -1})
	t.Cleanup(c.Close)
	return NewCached(raw, c, nil, cfg)
}

func TestKeyDerivation(t *testing.T) {
	assert.Equal(t, "buckets_fr-par", bucketsKey("fr-par"))
	assert.Equal(t, "objects_docs_reports/", objectsKey("docs", "reports/"))
	assert.Equal(t, "objects_docs_reports/", objectsKey("docs", "/reports/"))
	assert.Equal(t, "objects_docs_", objectsKey("docs", ""))
	assert.True(t, strings.Contains(objectsKey("docs", "reports/"), objectsBucketPattern("docs")))
}

func TestGetObjectsPopulatesCacheOnMiss(t *testing.T) {
	raw := &fakeStore{}
	s := newTestFacade(t, raw, Config{Region: "fr-par"})

	listing, err := s.GetObjects(context.Background(), "docs", "reports/")
	require.NoError(t, err)
	require.Len(t, listing.Objects, 1)
	assert.Equal(t, int64(1), raw.listObjects.Load())

	// Second call within the TTL window issues zero network calls.
	again, err := s.GetObjects(context.Background(), "docs", "reports/")
	require.NoError(t, err)
	assert.Equal(t, listing, again)
	assert.Equal(t, int64(1), raw.listObjects.Load())
}

func TestGetBucketsCachesPerRegion(t *testing.T) {
	raw := &fakeStore{}
	s := newTestFacade(t, raw, Config{Region: "fr-par"})

	_, err := s.GetBuckets(context.Background())
	require.NoError(t, err)
	_, err = s.GetBuckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), raw.listBuckets.Load())
}

func TestDeleteObjectInvalidatesAllBucketListings(t *testing.T) {
	raw := &fakeStore{}
	s := newTestFacade(t, raw, Config{Region: "fr-par"})

	ctx := context.Background()
	_, err := s.GetObjects(ctx, "docs", "")
	require.NoError(t, err)
	_, err = s.GetObjects(ctx, "docs", "reports/")
	require.NoError(t, err)
	_, err = s.GetObjects(ctx, "photos", "")
	require.NoError(t, err)
	require.Equal(t, int64(3), raw.listObjects.Load())

	require.NoError(t, s.DeleteObject(ctx, "docs", "reports/q1.pdf"))

	// Every listing under "docs" refetches; "photos" stays cached.
	_, err = s.GetObjects(ctx, "docs", "")
	require.NoError(t, err)
	_, err = s.GetObjects(ctx, "docs", "reports/")
	require.NoError(t, err)
	_, err = s.GetObjects(ctx, "photos", "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), raw.listObjects.Load())
}

func TestFailedMutationLeavesCacheIntact(t *testing.T) {
	raw := &fakeStore{}
	s := newTestFacade(t, raw, Config{Region: "fr-par"})

	ctx := context.Background()
	_, err := s.GetObjects(ctx, "docs", "")
	require.NoError(t, err)

	raw.setErr(&apperror.HTTPError{StatusCode: 404, Resource: apperror.ResourceObject})
	require.Error(t, s.DeleteObject(ctx, "docs", "missing.pdf"))
	raw.setErr(nil)

	// The cache still represents the last-known-good state.
	_, err = s.GetObjects(ctx, "docs", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), raw.listObjects.Load())
}

func TestBucketMutationsInvalidateBucketListing(t *testing.T) {
	raw := &fakeStore{}
	s := newTestFacade(t, raw, Config{Region: "fr-par"})

	ctx := context.Background()
	_, err := s.GetBuckets(ctx)
	require.NoError(t, err)

	require.NoError(t, s.CreateBucket(ctx, CreateBucketInput{Name: "fresh"}))

	_, err = s.GetBuckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), raw.listBuckets.Load())
}

func TestAuthFailureTriggersTeardownOnce(t *testing.T) {
	raw := &fakeStore{}
	raw.setErr(&apperror.HTTPError{StatusCode: 401, UpstreamCode: "InvalidAccessKeyId"})

	var teardowns atomic.Int64
	s := newTestFacade(t, raw, Config{
		Region:        "fr-par",
		Teardown:      func() { teardowns.Add(1) },
		TeardownDelay: 5 * time.Millisecond,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := s.DeleteBucket(ctx, "docs")
		require.Error(t, err)
		assert.Equal(t, apperror.CodeInvalidCredentials, apperror.CodeOf(err))
	}

	assert.Eventually(t, func() bool { return teardowns.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), teardowns.Load(), "teardown fires once")
}

func TestUploadCancelAbortsOperation(t *testing.T) {
	raw := &fakeStore{}
	blocked := make(chan struct{})
	slow := &slowStore{fakeStore: raw, blocked: blocked}
	s := newTestFacade(t, slow, Config{Region: "fr-par"})

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Upload(context.Background(), UploadInput{Bucket: "docs", Key: "big.bin"}, "op-1")
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(s.ActiveOperations()) == 1
	}, time.Second, time.Millisecond)

	require.True(t, s.Cancel("op-1"))
	close(blocked)

	err := <-errCh
	require.Error(t, err)
	assert.Equal(t, apperror.CodeOperationCancelled, apperror.CodeOf(err))
	assert.False(t, s.Cancel("op-1"), "registry entry removed once settled")
}

// countingStore records how many body bytes each PutObject attempt read
// and fails the first failFirst attempts with a retryable server error.
type countingStore struct {
	*fakeStore
	mu        sync.Mutex
	failFirst int
	reads     []int64
}

func (s *countingStore) PutObject(ctx context.Context, input UploadInput) error {
	n, err := io.Copy(io.Discard, input.Body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, n)
	if len(s.reads) <= s.failFirst {
		return &apperror.HTTPError{StatusCode: 500, UpstreamCode: "InternalError"}
	}
	return nil
}

// plainReader hides Seek so the facade has to buffer the body itself.
type plainReader struct{ io.Reader }

func fastUploadRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Factor:      2,
	}
}

func TestUploadRetryReplaysFullBody(t *testing.T) {
	raw := &countingStore{fakeStore: &fakeStore{}, failFirst: 1}
	s := newTestFacade(t, raw, Config{Region: "fr-par", UploadRetry: fastUploadRetry()})

	payload := []byte("twenty bytes exactly")
	_, err := s.Upload(context.Background(), UploadInput{
		Bucket: "docs",
		Key:    "report.pdf",
		Body:   plainReader{bytes.NewReader(payload)},
		Size:   int64(len(payload)),
	}, "")
	require.NoError(t, err)

	// Both attempts read the complete payload, not the EOF the first
	// attempt left behind.
	want := int64(len(payload))
	assert.Equal(t, []int64{want, want}, raw.reads)
}

func TestUploadRetryRewindsSeekableBody(t *testing.T) {
	raw := &countingStore{fakeStore: &fakeStore{}, failFirst: 2}
	s := newTestFacade(t, raw, Config{Region: "fr-par", UploadRetry: fastUploadRetry()})

	payload := []byte("seekable payload")
	_, err := s.Upload(context.Background(), UploadInput{
		Bucket: "docs",
		Key:    "notes.txt",
		Body:   bytes.NewReader(payload),
		Size:   int64(len(payload)),
	}, "")
	require.NoError(t, err)

	want := int64(len(payload))
	assert.Equal(t, []int64{want, want, want}, raw.reads)
}

func TestReplayBodySpoolsLargeBodies(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64)
	body, err := newReplayBody(plainReader{bytes.NewReader(payload)}, int64(len(payload)), 16)
	require.NoError(t, err)
	defer func() { _ = body.close() }()

	first, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, first)

	require.NoError(t, body.rewind())
	second, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, second)
}

// slowStore blocks PutObject until released, honoring context cancellation.
type slowStore struct {
	*fakeStore
	blocked chan struct{}
}

func (s *slowStore) PutObject(ctx context.Context, input UploadInput) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.blocked:
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
}
