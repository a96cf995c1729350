// Package typing manages the current user's typing marker and renders the
// typing state of everyone else in a conversation.
package typing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/thiagokf/chatd/internal/identity"
	"github.com/thiagokf/chatd/internal/remote"
	"go.uber.org/zap"
)

// throttleWindow is how long one typing marker stays up before it expires
// on its own. Keystrokes inside the window are absorbed; the next keystroke
// after expiry re-arms it.
const throttleWindow = 3 * time.Second

// Service throttles the local user's typing writes and guarantees cleanup:
// every marker is paired with a local expiry timer and a server-side
// disconnect hook, so no reader can be stuck watching a ghost typist.
type Service struct {
	rs     remote.SignalStore
	ident  identity.Provider
	logger *zap.Logger

	window time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer // conversationID -> expiry
}

func NewService(rs remote.SignalStore, ident identity.Provider, logger *zap.Logger) *Service {
	return &Service{
		rs:     rs,
		ident:  ident,
		logger: logger,
		window: throttleWindow,
		timers: make(map[string]*time.Timer),
	}
}

// StartTyping marks the current user as typing in the conversation. While a
// marker is already up this is a no-op, which is what keeps a fast typist
// from writing on every keystroke.
func (s *Service) StartTyping(ctx context.Context, conversationID string) {
	me := s.ident.UserID()

	s.mu.Lock()
	if _, alive := s.timers[conversationID]; alive {
		s.mu.Unlock()
		return
	}
	s.timers[conversationID] = time.AfterFunc(s.window, func() {
		s.expire(conversationID)
	})
	s.mu.Unlock()

	// Typing markers are best-effort: a failed write costs one indicator,
	// not a retry entry.
	if err := s.rs.SetTyping(ctx, conversationID, me); err != nil {
		s.logger.Debug("typing write failed", zap.String("conversation_id", conversationID), zap.Error(err))
		s.cancelTimer(conversationID)
		return
	}
	if err := s.rs.OnDisconnectClearTyping(conversationID, me); err != nil {
		s.logger.Debug("typing disconnect hook failed", zap.Error(err))
	}
}

// StopTyping clears the marker immediately: called on send and on leaving
// the conversation view, so readers never wait out the window.
func (s *Service) StopTyping(ctx context.Context, conversationID string) {
	s.cancelTimer(conversationID)
	if err := s.rs.ClearTyping(ctx, conversationID, s.ident.UserID()); err != nil {
		s.logger.Debug("typing clear failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

// StopAll clears every live marker; called on shutdown.
func (s *Service) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.StopTyping(ctx, id)
	}
}

// Observe streams the set of users typing in a conversation, with the
// current user filtered out of every snapshot. A slow consumer loses old
// snapshots, never the latest one: the final empty set must always land or
// the observer renders a phantom typist.
func (s *Service) Observe(conversationID string, buf int) (<-chan []string, func()) {
	me := s.ident.UserID()
	srcBuf := buf
	if srcBuf < 16 {
		srcBuf = 16
	}
	src, unsub := s.rs.WatchTyping(conversationID, srcBuf)
	out := make(chan []string, buf)

	go func() {
		defer close(out)
		for users := range src {
			filtered := make([]string, 0, len(users))
			for _, u := range users {
				if u != me {
					filtered = append(filtered, u)
				}
			}
			for {
				select {
				case out <- filtered:
				default:
					// Full: evict the stale snapshot and retry with the
					// latest.
					select {
					case <-out:
					default:
					}
					continue
				}
				break
			}
		}
	}()
	return out, unsub
}

// expire fires when the throttle window closes without a StopTyping: the
// marker comes down on its own.
func (s *Service) expire(conversationID string) {
	s.mu.Lock()
	delete(s.timers, conversationID)
	s.mu.Unlock()
	if err := s.rs.ClearTyping(context.Background(), conversationID, s.ident.UserID()); err != nil {
		s.logger.Debug("typing expiry clear failed", zap.Error(err))
	}
}

func (s *Service) cancelTimer(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[conversationID]; ok {
		t.Stop()
		delete(s.timers, conversationID)
	}
}

// Format renders a typing-user list for display. Up to three names are
// spelled out; beyond that the tail collapses into a count.
func Format(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2, 3:
		last := names[len(names)-1]
		return strings.Join(names[:len(names)-1], ", ") + " and " + last + " are typing..."
	default:
		return fmt.Sprintf("%s, %s and %d others are typing...", names[0], names[1], len(names)-2)
	}
}
