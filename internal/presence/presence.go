// Package presence maintains the current user's online state in the remote
// store and exposes peers' presence for display.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/thiagokf/chatd/internal/identity"
	"github.com/thiagokf/chatd/internal/remote"
	"go.uber.org/zap"
)

// offlineWriteTimeout bounds the farewell presence write on shutdown. Past
// it the write is abandoned: the disconnect hook would have covered a crash,
// and a hung shutdown is worse than a stale last-seen.
const offlineWriteTimeout = 3 * time.Second

// Service owns the current user's userPresence record. Every online write is
// paired with a freshly registered disconnect hook, since registrations do
// not survive manual presence writes.
type Service struct {
	rs     remote.SignalStore
	ident  identity.Provider
	logger *zap.Logger

	mu         sync.Mutex
	activeConv string
}

func NewService(rs remote.SignalStore, ident identity.Provider, logger *zap.Logger) *Service {
	return &Service{rs: rs, ident: ident, logger: logger}
}

// SetOnline marks the user online and arms the disconnect hook that flips
// them offline if the connection drops without a clean shutdown.
func (s *Service) SetOnline(ctx context.Context) {
	s.mu.Lock()
	conv := s.activeConv
	s.mu.Unlock()
	s.writeOnline(ctx, conv)
}

// SetActiveConversation records which conversation the user is looking at,
// so peers can render "in this chat" state.
func (s *Service) SetActiveConversation(ctx context.Context, conversationID string) {
	s.mu.Lock()
	s.activeConv = conversationID
	s.mu.Unlock()
	s.writeOnline(ctx, conversationID)
}

// ClearActiveConversation drops the active-conversation marker while staying
// online.
func (s *Service) ClearActiveConversation(ctx context.Context) {
	s.mu.Lock()
	s.activeConv = ""
	s.mu.Unlock()
	s.writeOnline(ctx, "")
}

func (s *Service) writeOnline(ctx context.Context, conversationID string) {
	me := s.ident.UserID()
	rec := remote.PresenceRecord{
		UserID:                me,
		Online:                true,
		CurrentConversationID: conversationID,
	}
	// Presence is best-effort: a failed write self-heals on the next one.
	if err := s.rs.SetPresence(ctx, rec); err != nil {
		s.logger.Debug("presence write failed", zap.Error(err))
		return
	}
	if err := s.rs.OnDisconnectSetPresence(remote.PresenceRecord{UserID: me, Online: false}); err != nil {
		s.logger.Debug("presence disconnect hook failed", zap.Error(err))
	}
}

// SetOffline performs the clean-shutdown sequence: cancel the disconnect
// hook so it cannot race the manual write, then write offline under a short
// deadline. A write that misses the deadline is abandoned.
func (s *Service) SetOffline(ctx context.Context) {
	me := s.ident.UserID()
	if err := s.rs.CancelDisconnectHooks(me); err != nil {
		s.logger.Debug("failed to cancel disconnect hooks", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(ctx, offlineWriteTimeout)
	defer cancel()
	rec := remote.PresenceRecord{
		UserID:   me,
		Online:   false,
		LastSeen: time.Now().UnixMilli(),
	}
	if err := s.rs.SetPresence(ctx, rec); err != nil {
		s.logger.Warn("offline presence write abandoned", zap.Error(err))
	}
}

// Peer returns another user's presence, or nil if they never connected.
func (s *Service) Peer(ctx context.Context, userID string) (*remote.PresenceRecord, error) {
	return s.rs.Presence(ctx, userID)
}

// Observe streams a peer's presence writes.
func (s *Service) Observe(userID string, buf int) (<-chan remote.PresenceRecord, func()) {
	return s.rs.WatchPresence(userID, buf)
}
