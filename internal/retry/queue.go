// Package retry drains the durable queue of operations that failed against
// the remote store. Entries persist in SQLite, so a queued send survives a
// process restart and replays on the next drain.
package retry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/thiagokf/chatd/internal/bus"
	"github.com/thiagokf/chatd/internal/store"
	"go.uber.org/zap"
)

// Replayer re-executes a queued operation. Implemented by the sync engine;
// a returned error leaves the entry queued for the next pass.
type Replayer interface {
	Replay(kind string, payload []byte) error
}

const (
	// maxAttempts is how many failed replays an entry gets before it is
	// discarded as undeliverable.
	maxAttempts = 3

	defaultPollInterval = 10 * time.Second
)

// backoff maps an entry's retry count to the minimum wait before its next
// attempt.
var backoff = []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second, 300 * time.Second}

func delayFor(retryCount int) time.Duration {
	if retryCount >= len(backoff) {
		return backoff[len(backoff)-1]
	}
	return backoff[retryCount]
}

// Queue owns the pending_operations table: the sync engine enqueues into it,
// and the drain loop replays entries oldest-first once their backoff elapses.
type Queue struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	replayer Replayer

	poll   time.Duration
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Queue {
	return &Queue{
		db:     db,
		bus:    b,
		logger: logger,
		poll:   defaultPollInterval,
		kick:   make(chan struct{}, 1),
	}
}

// SetReplayer wires the sync engine in after construction; the engine and
// the queue reference each other, so one side has to connect late.
func (q *Queue) SetReplayer(r Replayer) {
	q.mu.Lock()
	q.replayer = r
	q.mu.Unlock()
}

// Enqueue persists a deferred operation. Implements the sync engine's queue
// surface.
func (q *Queue) Enqueue(kind string, payload []byte) error {
	if err := q.db.EnqueueOperation(kind, payload); err != nil {
		return err
	}
	q.logger.Info("operation queued", zap.String("kind", kind))
	return nil
}

// Pending reports how many operations await replay.
func (q *Queue) Pending() (int, error) {
	return q.db.CountPendingOperations()
}

// Start launches the drain loop: a slow poll plus an immediate pass whenever
// connectivity returns.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})

	events, unsub := q.bus.Subscribe("net.online", 8)

	go func() {
		defer close(q.done)
		defer unsub()
		ticker := time.NewTicker(q.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.drain(false)
			case <-events:
				// Reconnect: replay right away instead of waiting out backoff.
				q.drain(true)
			case <-q.kick:
				q.drain(true)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the drain loop and waits for an in-flight pass to finish.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
}

// Force requests an immediate drain pass that ignores backoff delays. Used
// by the user-facing "retry now" affordance.
func (q *Queue) Force() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// drain replays every due entry oldest-first. With ignoreBackoff set, every
// entry is due. Entries that exhausted their attempts are discarded.
func (q *Queue) drain(ignoreBackoff bool) {
	q.mu.Lock()
	replayer := q.replayer
	q.mu.Unlock()
	if replayer == nil {
		return
	}

	ops, err := q.db.PendingOperations()
	if err != nil {
		q.logger.Error("failed to read pending operations", zap.Error(err))
		return
	}
	if len(ops) == 0 {
		return
	}

	now := time.Now().UnixMilli()
	for _, op := range ops {
		if op.RetryCount >= maxAttempts {
			q.discard(op)
			continue
		}
		if !ignoreBackoff {
			since := op.LastAttempt
			if since == 0 {
				since = op.CreatedAt
			}
			if now-since < delayFor(op.RetryCount).Milliseconds() {
				continue
			}
		}

		if err := replayer.Replay(op.Kind, op.Payload); err != nil {
			q.logger.Warn("replay failed",
				zap.Int64("op_id", op.ID),
				zap.String("kind", op.Kind),
				zap.Int("retry_count", op.RetryCount+1),
				zap.Error(err))
			if err := q.db.BumpAttempt(op.ID); err != nil {
				q.logger.Error("failed to bump attempt", zap.Int64("op_id", op.ID), zap.Error(err))
			}
			if op.RetryCount+1 >= maxAttempts {
				op.RetryCount++
				q.discard(op)
			}
			continue
		}

		if err := q.db.DeleteOperation(op.ID); err != nil {
			q.logger.Error("failed to delete drained operation", zap.Int64("op_id", op.ID), zap.Error(err))
			continue
		}
		q.bus.Publish(bus.Event{Kind: "retry.drained", Timestamp: time.Now(), Payload: map[string]string{
			"kind": op.Kind,
		}})
	}

	_ = q.db.SetState("last_drain", strconv.FormatInt(now, 10))
}

func (q *Queue) discard(op store.PendingOperation) {
	if err := q.db.DeleteOperation(op.ID); err != nil {
		q.logger.Error("failed to discard operation", zap.Int64("op_id", op.ID), zap.Error(err))
		return
	}
	q.logger.Warn("operation discarded after repeated failures",
		zap.Int64("op_id", op.ID),
		zap.String("kind", op.Kind),
		zap.Int("attempts", op.RetryCount))
	q.bus.Publish(bus.Event{Kind: "retry.discarded", Timestamp: time.Now(), Payload: map[string]string{
		"kind": op.Kind,
	}})
}
