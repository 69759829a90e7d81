package histsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/s3console/pkg/history"
)

const (
	// DefaultBatchSize caps each push batch.
	DefaultBatchSize = 50

	// DefaultInterval is the periodic sync cadence.
	DefaultInterval = 30 * time.Second

	// DefaultAuthDebounce delays the first sync after authentication so a
	// burst of login-time operations coalesces into one batch.
	DefaultAuthDebounce = 1 * time.Second

	// DefaultFetchLimit bounds each pull from the server. Matches the local
	// per-user cap so a pull never fetches more than the store would keep.
	DefaultFetchLimit = history.DefaultMaxEntries
)

// EngineConfig configures the sync engine.
type EngineConfig struct {
	// BatchSize caps each push batch. Zero uses DefaultBatchSize.
	BatchSize int

	// Interval is the periodic sync cadence. Zero uses DefaultInterval.
	Interval time.Duration

	// AuthDebounce delays the post-authentication sync. Zero uses
	// DefaultAuthDebounce; negative disables the delay.
	AuthDebounce time.Duration

	// FetchLimit bounds each pull from the server. Zero uses
	// DefaultFetchLimit; negative requests everything.
	FetchLimit int

	// Logger receives engine diagnostics. nil uses zap.NewNop.
	Logger *zap.Logger
}

// Engine replicates one user's history partition to the remote service.
type Engine struct {
	store  *history.Store
	remote Remote
	user   history.UserID
	logger *zap.Logger

	batchSize    int
	interval     time.Duration
	authDebounce time.Duration
	fetchLimit   int

	mu            sync.Mutex
	authenticated bool
	authCh        chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewEngine creates a sync engine for the given user partition. Call Run to
// start the background loop.
func NewEngine(store *history.Store, remote Remote, user history.UserID, cfg EngineConfig) *Engine {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	authDebounce := cfg.AuthDebounce
	if authDebounce == 0 {
		authDebounce = DefaultAuthDebounce
	} else if authDebounce < 0 {
		authDebounce = 0
	}
	fetchLimit := cfg.FetchLimit
	if fetchLimit == 0 {
		fetchLimit = DefaultFetchLimit
	} else if fetchLimit < 0 {
		fetchLimit = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		store:        store,
		remote:       remote,
		user:         user,
		logger:       logger,
		batchSize:    batchSize,
		interval:     interval,
		authDebounce: authDebounce,
		fetchLimit:   fetchLimit,
		authCh:       make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// SetAuthenticated flips the authentication gate. Turning it on schedules a
// debounced full sync; turning it off pauses the loop.
func (e *Engine) SetAuthenticated(ok bool) {
	e.mu.Lock()
	was := e.authenticated
	e.authenticated = ok
	e.mu.Unlock()

	if ok && !was {
		select {
		case e.authCh <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) isAuthenticated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authenticated
}

// Run drives the periodic sync loop until ctx is cancelled or Close is
// called. Intended to run in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-e.authCh:
			if e.authDebounce > 0 {
				select {
				case <-time.After(e.authDebounce):
				case <-ctx.Done():
					return
				case <-e.stop:
					return
				}
			}
			e.cycle(ctx)
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

// Close stops the Run loop and waits for it to exit.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

// cycle runs one gated full sync, logging failures instead of surfacing
// them; the next tick retries.
func (e *Engine) cycle(ctx context.Context) {
	if !e.isAuthenticated() {
		return
	}
	enabled, err := e.store.SyncEnabled(ctx, e.user)
	if err != nil {
		e.logger.Warn("read sync preference", zap.Error(err))
		return
	}
	if !enabled {
		return
	}
	if err := e.FullSync(ctx); err != nil {
		e.logger.Warn("history sync cycle failed", zap.Error(err))
	}
}

// FullSync pushes pending entries, then pulls and merges the server's view.
func (e *Engine) FullSync(ctx context.Context) error {
	if err := e.SyncPending(ctx); err != nil {
		return err
	}
	return e.FetchFromServer(ctx)
}

// SyncPending pushes outbox batches oldest-first until the outbox drains.
// A push failure leaves the remaining outbox untouched for the next cycle.
func (e *Engine) SyncPending(ctx context.Context) error {
	for {
		batch, err := e.store.PendingOldestFirst(ctx, e.user, e.batchSize)
		if err != nil {
			return fmt.Errorf("load pending entries: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		acked, err := e.remote.Push(ctx, batch)
		if err != nil {
			return fmt.Errorf("push history batch: %w", err)
		}
		if err := e.store.MarkSynced(ctx, e.user, acked); err != nil {
			return fmt.Errorf("mark entries synced: %w", err)
		}

		e.logger.Debug("history batch pushed",
			zap.Int("sent", len(batch)),
			zap.Int("acked", len(acked)))

		// A partial ack means the server rejected some entries; stop
		// instead of resending the same ids in a tight loop.
		if len(acked) < len(batch) {
			return nil
		}
	}
}

// FetchFromServer pulls the server's entries and merges them into the local
// store by id. Safe to call repeatedly.
func (e *Engine) FetchFromServer(ctx context.Context) error {
	entries, err := e.remote.Fetch(ctx, e.fetchLimit)
	if err != nil {
		return fmt.Errorf("fetch remote history: %w", err)
	}
	if err := e.store.MergeRemote(ctx, e.user, entries); err != nil {
		return fmt.Errorf("merge remote history: %w", err)
	}
	return nil
}

// ClearAll deletes the user's history locally and remotely. The local clear
// always wins: a remote failure is logged and the divergence left for the
// server to resolve, never restored locally.
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.store.ClearUser(ctx, e.user); err != nil {
		return fmt.Errorf("clear local history: %w", err)
	}
	remoteErr := ""
	if err := e.remote.Clear(ctx); err != nil {
		remoteErr = err.Error()
		e.logger.Warn("remote history clear failed, local cleared anyway",
			zap.String("user", e.user.String()),
			zap.Error(err))
	}
	if err := e.store.RecordClearDivergence(ctx, e.user, remoteErr); err != nil {
		e.logger.Warn("record clear divergence failed", zap.Error(err))
	}
	return nil
}
