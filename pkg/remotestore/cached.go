package remotestore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lakefront/s3console/pkg/apperror"
	"github.com/lakefront/s3console/pkg/cache"
	"github.com/lakefront/s3console/pkg/requestqueue"
	"github.com/lakefront/s3console/pkg/retry"
)

// TTLs holds the per-resource cache lifetimes. Bucket listings change
// rarely and live longer than object listings.
type TTLs struct {
	Buckets     time.Duration
	Objects     time.Duration
	Credentials time.Duration
}

// DefaultTTLs returns the stock cache lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{
		Buckets:     5 * time.Minute,
		Objects:     time.Minute,
		Credentials: 30 * time.Minute,
	}
}

// Config configures a CachedStore.
type Config struct {
	// Region scopes the bucket-listing cache key.
	Region string

	// TTLs are the per-resource cache lifetimes. Zero fields use defaults.
	TTLs TTLs

	// Teardown runs once, shortly after the first auth-class failure.
	// A stale credential fails every subsequent call identically, so the
	// session is torn down instead. Nil disables the side effect.
	Teardown func()

	// TeardownDelay is how long after the auth failure Teardown fires.
	// Default 2s.
	TeardownDelay time.Duration

	// OnRetry observes scheduled retries for UI feedback. May be nil.
	OnRetry retry.OnRetry

	// UploadRetry overrides the upload retry policy. Zero uses
	// retry.UploadPolicy.
	UploadRetry retry.Policy

	// Logger receives facade diagnostics. Nil disables logging.
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	def := DefaultTTLs()
	if c.TTLs.Buckets <= 0 {
		c.TTLs.Buckets = def.Buckets
	}
	if c.TTLs.Objects <= 0 {
		c.TTLs.Objects = def.Objects
	}
	if c.TTLs.Credentials <= 0 {
		c.TTLs.Credentials = def.Credentials
	}
	if c.TeardownDelay <= 0 {
		c.TeardownDelay = 2 * time.Second
	}
	if c.UploadRetry == (retry.Policy{}) {
		c.UploadRetry = retry.UploadPolicy()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// CachedStore composes a raw Store with the TTL cache, the retry engine,
// and the request queue.
//
// Reads check the cache first and populate it on miss. Mutations invalidate
// the affected key families strictly after a successful response: a failed
// mutation leaves the cache representing the last-known-good state.
type CachedStore struct {
	raw   Store
	cache *cache.Cache
	queue *requestqueue.Queue // nil dispatches directly

	metaRetry   *retry.Engine
	uploadRetry *retry.Engine

	cfg    Config
	logger *zap.Logger

	teardownOnce sync.Once

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// NewCached wraps raw with caching, retry, and optional queue gating.
func NewCached(raw Store, c *cache.Cache, q *requestqueue.Queue, cfg Config) *CachedStore {
	cfg = cfg.withDefaults()
	return &CachedStore{
		raw:         raw,
		cache:       c,
		queue:       q,
		metaRetry:   retry.New(retry.MetadataPolicy(), cfg.Logger),
		uploadRetry: retry.New(cfg.UploadRetry, cfg.Logger),
		cfg:         cfg,
		logger:      cfg.Logger,
		active:      make(map[string]context.CancelFunc),
	}
}

// GetBuckets returns the bucket listing, from cache when fresh.
func (s *CachedStore) GetBuckets(ctx context.Context) ([]Bucket, error) {
	key := bucketsKey(s.cfg.Region)
	if v, ok := s.cache.Get(key); ok {
		if buckets, ok := v.([]Bucket); ok {
			return buckets, nil
		}
	}

	buckets, err := dispatch(ctx, s, requestqueue.PriorityInteractive, func(ctx context.Context) ([]Bucket, error) {
		return s.raw.ListBuckets(ctx)
	})
	if err != nil {
		return nil, s.fail("GetBuckets", err)
	}

	s.cache.Set(key, buckets, s.cfg.TTLs.Buckets)
	return buckets, nil
}

// GetObjects returns one object-listing page, from cache when fresh.
func (s *CachedStore) GetObjects(ctx context.Context, bucket, prefix string) (*ObjectListing, error) {
	key := objectsKey(bucket, prefix)
	if v, ok := s.cache.Get(key); ok {
		if listing, ok := v.(*ObjectListing); ok {
			return listing, nil
		}
	}

	listing, err := dispatch(ctx, s, requestqueue.PriorityInteractive, func(ctx context.Context) (*ObjectListing, error) {
		return s.raw.ListObjects(ctx, bucket, prefix)
	})
	if err != nil {
		return nil, s.fail("GetObjects", err)
	}

	s.cache.Set(key, listing, s.cfg.TTLs.Objects)
	return listing, nil
}

// CreateBucket creates a bucket and invalidates the bucket listing.
func (s *CachedStore) CreateBucket(ctx context.Context, input CreateBucketInput) error {
	err := s.mutate(ctx, func(ctx context.Context) error {
		return s.raw.CreateBucket(ctx, input)
	})
	if err != nil {
		return s.fail("CreateBucket", err)
	}
	s.cache.ClearPattern(bucketsKeyPrefix)
	return nil
}

// DeleteBucket deletes a bucket and invalidates the bucket listing plus any
// object listings cached for it.
func (s *CachedStore) DeleteBucket(ctx context.Context, name string) error {
	err := s.mutate(ctx, func(ctx context.Context) error {
		return s.raw.DeleteBucket(ctx, name)
	})
	if err != nil {
		return s.fail("DeleteBucket", err)
	}
	s.cache.ClearPattern(bucketsKeyPrefix)
	s.cache.ClearPattern(objectsBucketPattern(name))
	return nil
}

// Upload streams an object up and invalidates the bucket's object listings.
// The body is buffered or spooled so retry attempts replay the full payload.
//
// opID keys the abort registry; empty generates one. Returns the operation
// id so callers can cancel long uploads.
func (s *CachedStore) Upload(ctx context.Context, input UploadInput, opID string) (string, error) {
	if opID == "" {
		opID = uuid.NewString()
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.activeMu.Lock()
	s.active[opID] = cancel
	s.activeMu.Unlock()
	defer func() {
		s.activeMu.Lock()
		delete(s.active, opID)
		s.activeMu.Unlock()
	}()

	attempt := input
	var body *replayBody
	if input.Body != nil {
		var err error
		body, err = newReplayBody(input.Body, input.Size, uploadBufferMaxMemory)
		if err != nil {
			return opID, s.fail("Upload", err)
		}
		defer func() { _ = body.close() }()
		attempt.Body = body
	}

	err := s.uploadRetry.Do(opCtx, func(ctx context.Context) error {
		if body != nil {
			if err := body.rewind(); err != nil {
				return err
			}
		}
		return s.raw.PutObject(ctx, attempt)
	}, s.cfg.OnRetry)
	if err != nil {
		return opID, s.fail("Upload", err)
	}

	s.cache.ClearPattern(objectsBucketPattern(input.Bucket))
	return opID, nil
}

// Cancel aborts an active upload. Best-effort: the abort takes effect at
// the transport's next suspension point. Reports whether opID was active.
func (s *CachedStore) Cancel(opID string) bool {
	s.activeMu.Lock()
	cancel, ok := s.active[opID]
	s.activeMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveOperations lists the ids of in-flight cancellable operations.
func (s *CachedStore) ActiveOperations() []string {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// DeleteObject deletes an object and invalidates the bucket's object
// listings, whatever path they were listed under.
func (s *CachedStore) DeleteObject(ctx context.Context, bucket, key string) error {
	err := s.mutate(ctx, func(ctx context.Context) error {
		return s.raw.DeleteObject(ctx, bucket, key)
	})
	if err != nil {
		return s.fail("DeleteObject", err)
	}
	s.cache.ClearPattern(objectsBucketPattern(bucket))
	return nil
}

// CreateFolder creates a zero-byte folder marker.
func (s *CachedStore) CreateFolder(ctx context.Context, bucket, path string) error {
	err := s.mutate(ctx, func(ctx context.Context) error {
		return s.raw.CreateFolder(ctx, bucket, path)
	})
	if err != nil {
		return s.fail("CreateFolder", err)
	}
	s.cache.ClearPattern(objectsBucketPattern(bucket))
	return nil
}

// SetVersioning toggles bucket versioning.
func (s *CachedStore) SetVersioning(ctx context.Context, bucket string, enabled bool) error {
	err := s.mutate(ctx, func(ctx context.Context) error {
		return s.raw.SetVersioning(ctx, bucket, enabled)
	})
	if err != nil {
		return s.fail("SetVersioning", err)
	}
	s.cache.ClearPattern(bucketsKeyPrefix)
	return nil
}

// SetEncryption toggles bucket encryption.
func (s *CachedStore) SetEncryption(ctx context.Context, bucket string, enabled bool) error {
	err := s.mutate(ctx, func(ctx context.Context) error {
		return s.raw.SetEncryption(ctx, bucket, enabled)
	})
	if err != nil {
		return s.fail("SetEncryption", err)
	}
	s.cache.ClearPattern(bucketsKeyPrefix)
	return nil
}

// PutBucketConfig replaces a bucket configuration document.
func (s *CachedStore) PutBucketConfig(ctx context.Context, bucket string, kind ConfigKind, doc []byte) error {
	err := s.mutate(ctx, func(ctx context.Context) error {
		return s.raw.PutBucketConfig(ctx, bucket, kind, doc)
	})
	if err != nil {
		return s.fail("PutBucketConfig", err)
	}
	s.cache.ClearPattern(bucketsKeyPrefix)
	return nil
}

// DeleteBucketConfig removes a bucket configuration document.
func (s *CachedStore) DeleteBucketConfig(ctx context.Context, bucket string, kind ConfigKind) error {
	err := s.mutate(ctx, func(ctx context.Context) error {
		return s.raw.DeleteBucketConfig(ctx, bucket, kind)
	})
	if err != nil {
		return s.fail("DeleteBucketConfig", err)
	}
	s.cache.ClearPattern(bucketsKeyPrefix)
	return nil
}

// dispatch runs op through the queue (when configured) and the metadata
// retry engine.
func dispatch[T any](ctx context.Context, s *CachedStore, priority int, op func(context.Context) (T, error)) (T, error) {
	wrapped := func(ctx context.Context) (T, error) {
		return retry.DoValue(ctx, s.metaRetry, op, s.cfg.OnRetry)
	}
	if s.queue == nil {
		return wrapped(ctx)
	}
	return requestqueue.EnqueueValue(ctx, s.queue, wrapped, requestqueue.Options{Priority: priority})
}

func (s *CachedStore) mutate(ctx context.Context, op func(context.Context) error) error {
	_, err := dispatch(ctx, s, requestqueue.PriorityNormal, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// fail classifies err, logs it, and schedules session teardown on
// auth-class failures. Never swallows: the classified error is returned.
func (s *CachedStore) fail(op string, err error) error {
	appErr := apperror.Classify(err)
	s.logger.Warn("remote store operation failed",
		zap.String("op", op),
		zap.String("code", string(appErr.Code)),
		zap.Error(err))

	if apperror.IsAuth(appErr) && s.cfg.Teardown != nil {
		s.teardownOnce.Do(func() {
			delay := s.cfg.TeardownDelay
			s.logger.Info("auth failure, scheduling session teardown",
				zap.Duration("delay", delay))
			go func() {
				time.Sleep(delay)
				s.cfg.Teardown()
			}()
		})
	}

	return appErr
}
