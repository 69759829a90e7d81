package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/lakefront/s3console/pkg/apperror"
)

// Tracker wraps operations with history entry lifecycle management: one
// started entry on entry, completed or failed on return.
type Tracker struct {
	store  *Store
	user   UserID
	logger *zap.Logger
}

// NewTracker binds a tracker to a user partition.
func NewTracker(store *Store, user UserID, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, user: user, logger: logger}
}

// User returns the partition this tracker records into.
func (t *Tracker) User() UserID {
	return t.user
}

// Run records op around fn. The operation's error is returned unchanged;
// history bookkeeping failures are logged, never surfaced.
func (t *Tracker) Run(ctx context.Context, op OperationType, bucket, object string, fn func(context.Context) error) error {
	id, err := t.store.Begin(ctx, t.user, op, bucket, object, "")
	if err != nil {
		t.logger.Warn("history begin failed", zap.String("operation", string(op)), zap.Error(err))
	}

	opErr := fn(ctx)
	if opErr != nil {
		classified := apperror.Classify(opErr)
		if err := t.store.Fail(ctx, t.user, id, string(classified.Code), classified.UserMessage); err != nil {
			t.logger.Warn("history fail update failed", zap.String("id", id), zap.Error(err))
		}
		return opErr
	}

	if err := t.store.Complete(ctx, t.user, id, ""); err != nil {
		t.logger.Warn("history complete update failed", zap.String("id", id), zap.Error(err))
	}
	return nil
}

// Progress exposes mid-operation progress updates for long transfers.
func (t *Tracker) Progress(ctx context.Context, id string, percent int) {
	if err := t.store.SetProgress(ctx, t.user, id, percent); err != nil {
		t.logger.Warn("history progress update failed", zap.String("id", id), zap.Error(err))
	}
}

// Begin starts an entry directly for callers that manage the lifecycle
// themselves (uploads with progress callbacks).
func (t *Tracker) Begin(ctx context.Context, op OperationType, bucket, object string) string {
	id, err := t.store.Begin(ctx, t.user, op, bucket, object, "")
	if err != nil {
		t.logger.Warn("history begin failed", zap.String("operation", string(op)), zap.Error(err))
	}
	return id
}

// Finish terminates an entry started with Begin.
func (t *Tracker) Finish(ctx context.Context, id string, opErr error) {
	if opErr != nil {
		classified := apperror.Classify(opErr)
		if err := t.store.Fail(ctx, t.user, id, string(classified.Code), classified.UserMessage); err != nil {
			t.logger.Warn("history fail update failed", zap.String("id", id), zap.Error(err))
		}
		return
	}
	if err := t.store.Complete(ctx, t.user, id, ""); err != nil {
		t.logger.Warn("history complete update failed", zap.String("id", id), zap.Error(err))
	}
}
