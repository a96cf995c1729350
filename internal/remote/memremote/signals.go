package memremote

import (
	"context"
	"time"

	"github.com/thiagokf/chatd/internal/remote"
)

// SetTyping writes conversations/{id}/typing/{userID}.
func (s *Store) SetTyping(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	if err := s.checkUp(); err != nil {
		s.mu.Unlock()
		return err
	}
	set := s.typing[conversationID]
	if set == nil {
		set = make(map[string]bool)
		s.typing[conversationID] = set
	}
	set[userID] = true
	snapshot := sortedKeys(set)
	w := s.typingWatchers[conversationID]
	s.mu.Unlock()

	w.notify(snapshot)
	return nil
}

// ClearTyping removes the typing marker. Removing an absent marker is a no-op.
func (s *Store) ClearTyping(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	if err := s.checkUp(); err != nil {
		s.mu.Unlock()
		return err
	}
	set := s.typing[conversationID]
	if _, ok := set[userID]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(set, userID)
	snapshot := sortedKeys(set)
	w := s.typingWatchers[conversationID]
	s.mu.Unlock()

	w.notify(snapshot)
	return nil
}

// TypingUsers returns the currently-typing user set for a conversation.
func (s *Store) TypingUsers(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return nil, err
	}
	return sortedKeys(s.typing[conversationID]), nil
}

// WatchTyping streams snapshots of the typing set for a conversation.
func (s *Store) WatchTyping(conversationID string, buf int) (<-chan []string, func()) {
	s.mu.Lock()
	w := s.typingWatchers[conversationID]
	if w == nil {
		w = newWatchers[[]string]()
		s.typingWatchers[conversationID] = w
	}
	s.mu.Unlock()
	return w.add(buf)
}

// SetPresence writes userPresence/{userID}. A zero LastSeen is filled in from
// the server clock.
func (s *Store) SetPresence(_ context.Context, rec remote.PresenceRecord) error {
	s.mu.Lock()
	if err := s.checkUp(); err != nil {
		s.mu.Unlock()
		return err
	}
	if rec.UserID == "" {
		s.mu.Unlock()
		return remote.ErrInvalidArgument
	}
	if rec.LastSeen == 0 {
		rec.LastSeen = s.serverNow()
	}
	s.presence[rec.UserID] = rec
	w := s.presenceWatchers[rec.UserID]
	s.mu.Unlock()

	w.notify(rec)
	return nil
}

// Presence returns userPresence/{userID}, or nil if never written.
func (s *Store) Presence(_ context.Context, userID string) (*remote.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return nil, err
	}
	rec, ok := s.presence[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// WatchPresence streams presence writes for a user.
func (s *Store) WatchPresence(userID string, buf int) (<-chan remote.PresenceRecord, func()) {
	s.mu.Lock()
	w := s.presenceWatchers[userID]
	if w == nil {
		w = newWatchers[remote.PresenceRecord]()
		s.presenceWatchers[userID] = w
	}
	s.mu.Unlock()
	return w.add(buf)
}

// OnDisconnectClearTyping registers a server-side removal of the typing
// marker, fired when the registering client's connection drops.
func (s *Store) OnDisconnectClearTyping(conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return err
	}
	s.hooks[userID] = append(s.hooks[userID], func() {
		s.forceClearTyping(conversationID, userID)
	})
	return nil
}

// forceClearTyping runs server-side, so it ignores the simulated client
// availability gate.
func (s *Store) forceClearTyping(conversationID, userID string) {
	s.mu.Lock()
	set := s.typing[conversationID]
	delete(set, userID)
	snapshot := sortedKeys(set)
	w := s.typingWatchers[conversationID]
	s.mu.Unlock()

	w.notify(snapshot)
}

// OnDisconnectSetPresence registers a server-side presence write, fired when
// the registering client's connection drops. LastSeen is assigned at fire
// time, not registration time.
func (s *Store) OnDisconnectSetPresence(rec remote.PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return err
	}
	s.hooks[rec.UserID] = append(s.hooks[rec.UserID], func() {
		r := rec
		r.LastSeen = time.Now().UnixMilli()
		s.forcePutPresence(r)
	})
	return nil
}

// forcePutPresence runs server-side, bypassing the availability gate.
func (s *Store) forcePutPresence(rec remote.PresenceRecord) {
	s.mu.Lock()
	s.presence[rec.UserID] = rec
	w := s.presenceWatchers[rec.UserID]
	s.mu.Unlock()

	w.notify(rec)
}

// CancelDisconnectHooks drops every hook registered by userID. Called before
// a clean shutdown writes presence manually.
func (s *Store) CancelDisconnectHooks(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hooks, userID)
	return nil
}

// FireDisconnect simulates the server detecting a dropped connection: every
// hook registered by userID runs once and the registrations are cleared.
func (s *Store) FireDisconnect(userID string) {
	s.mu.Lock()
	hooks := s.hooks[userID]
	delete(s.hooks, userID)
	s.mu.Unlock()

	for _, h := range hooks {
		h()
	}
}
