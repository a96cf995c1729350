// Package sync reconciles the local store with the remote real-time store:
// it pushes local mutations, subscribes to remote changes, and merges both
// sides with last-write-wins keyed by the remote-assigned timestamp.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thiagokf/chatd/internal/ai"
	"github.com/thiagokf/chatd/internal/bus"
	"github.com/thiagokf/chatd/internal/identity"
	"github.com/thiagokf/chatd/internal/remote"
	"github.com/thiagokf/chatd/internal/store"
	"go.uber.org/zap"
)

// Terminal validation errors surfaced to the caller, never queued.
var (
	// ErrRestrictedDM rejects a direct conversation between two fan-role
	// users; only the creator may be messaged by fans.
	ErrRestrictedDM = errors.New("sync: direct messages between fans are not allowed")

	// ErrConflict is returned by group metadata updates when the remote copy
	// changed since it was read. The caller decides whether to overwrite.
	ErrConflict = errors.New("sync: conversation changed remotely")

	// ErrPostingRestricted rejects a send into a creator-only conversation
	// by anyone without the creator role.
	ErrPostingRestricted = errors.New("sync: posting is restricted to the creator")
)

// Queue is the deferred-operation surface the engine pushes retryable
// failures into. Satisfied by *retry.Queue.
type Queue interface {
	Enqueue(kind string, payload []byte) error
}

// Operation kinds replayed through the retry queue.
const (
	OpSendMessage      = "send_message"
	OpSyncConversation = "sync_conversation"
)

// opPayload identifies the entity to replay. The message ID is the one
// generated at creation, so a replay can never mint a duplicate.
type opPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
}

// Engine is the bidirectional sync engine. All local-store writes happen on
// the caller's goroutine or inside the per-conversation watch loop; remote
// I/O never holds store state across a suspension.
type Engine struct {
	db     *store.DB
	rs     remote.Store
	queue  Queue
	ident  identity.Provider
	bus    *bus.Bus
	ai     ai.Client
	logger *zap.Logger

	mu      sync.Mutex
	watches map[string]context.CancelFunc
}

// NewEngine creates a sync engine. The queue may be nil in tests that never
// hit retryable failures; a nil AI client degrades to neutral results.
func NewEngine(db *store.DB, rs remote.Store, q Queue, ident identity.Provider, b *bus.Bus, aic ai.Client, logger *zap.Logger) *Engine {
	if aic == nil {
		aic = ai.Noop{}
	}
	return &Engine{
		db:      db,
		rs:      rs,
		queue:   q,
		ident:   ident,
		bus:     b,
		ai:      aic,
		logger:  logger,
		watches: make(map[string]context.CancelFunc),
	}
}

// Stop tears down every open conversation watch.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.watches {
		cancel()
		delete(e.watches, id)
	}
}

// Replay re-attempts a queued operation against the same push path that
// originally failed. Implements retry.Replayer.
func (e *Engine) Replay(kind string, payload []byte) error {
	var p opPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode op payload: %w", err)
	}
	ctx := context.Background()
	switch kind {
	case OpSendMessage:
		return e.pushMessage(ctx, p.ConversationID, p.MessageID, false)
	case OpSyncConversation:
		return e.pushConversation(ctx, p.ConversationID, false)
	default:
		return fmt.Errorf("unknown operation kind %q", kind)
	}
}

// enqueue hands a failed push to the retry queue. Queue errors are logged
// and swallowed: losing a retry entry degrades to a user-triggered resend.
func (e *Engine) enqueue(kind string, p opPayload) {
	if e.queue == nil {
		return
	}
	payload, _ := json.Marshal(p)
	if err := e.queue.Enqueue(kind, payload); err != nil {
		e.logger.Error("failed to enqueue operation", zap.String("kind", kind), zap.Error(err))
		return
	}
	e.bus.Publish(bus.Event{Kind: "retry.queued", Timestamp: time.Now(), Payload: map[string]string{
		"kind":            kind,
		"conversation_id": p.ConversationID,
		"message_id":      p.MessageID,
	}})
}
