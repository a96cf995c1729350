// Package memremote is an in-process implementation of the remote store
// contract. It backs tests and single-machine deployments, and is the
// reference for the disconnect-hook semantics: hooks registered here can be
// fired directly to simulate a client dying without cleanup.
package memremote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/thiagokf/chatd/internal/remote"
)

// Store holds the whole remote tree in memory behind one mutex.
type Store struct {
	mu          sync.Mutex
	clock       int64
	unavailable bool

	conversations map[string]remote.ConversationRecord
	messages      map[string]map[string]remote.MessageRecord
	seqs          map[string]int64
	typing        map[string]map[string]bool
	presence      map[string]remote.PresenceRecord
	hooks         map[string][]func()

	convWatchers     map[string]*watchers[remote.ConversationRecord]
	msgWatchers      map[string]*watchers[remote.MessageRecord]
	typingWatchers   map[string]*watchers[[]string]
	presenceWatchers map[string]*watchers[remote.PresenceRecord]
}

// New creates an empty in-memory remote store.
func New() *Store {
	return &Store{
		conversations:    make(map[string]remote.ConversationRecord),
		messages:         make(map[string]map[string]remote.MessageRecord),
		seqs:             make(map[string]int64),
		typing:           make(map[string]map[string]bool),
		presence:         make(map[string]remote.PresenceRecord),
		hooks:            make(map[string][]func()),
		convWatchers:     make(map[string]*watchers[remote.ConversationRecord]),
		msgWatchers:      make(map[string]*watchers[remote.MessageRecord]),
		typingWatchers:   make(map[string]*watchers[[]string]),
		presenceWatchers: make(map[string]*watchers[remote.PresenceRecord]),
	}
}

// SetUnavailable toggles simulated network loss: every subsequent operation
// fails with remote.ErrUnavailable until cleared.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	s.unavailable = down
	s.mu.Unlock()
}

// serverNow issues a strictly increasing server timestamp in milliseconds.
// Callers must hold s.mu.
func (s *Store) serverNow() int64 {
	now := time.Now().UnixMilli()
	if now <= s.clock {
		now = s.clock + 1
	}
	s.clock = now
	return now
}

func (s *Store) checkUp() error {
	if s.unavailable {
		return remote.ErrUnavailable
	}
	return nil
}

// PutConversation writes conversations/{id}, assigning UpdatedAt from the
// server clock. LastMessageTS is refreshed only when the preview changed.
func (s *Store) PutConversation(_ context.Context, rec remote.ConversationRecord) (remote.ConversationRecord, error) {
	s.mu.Lock()
	if err := s.checkUp(); err != nil {
		s.mu.Unlock()
		return remote.ConversationRecord{}, err
	}
	if rec.ID == "" || len(rec.ParticipantIDs) == 0 {
		s.mu.Unlock()
		return remote.ConversationRecord{}, remote.ErrInvalidArgument
	}

	now := s.serverNow()
	prev, existed := s.conversations[rec.ID]
	rec.UpdatedAt = now
	if existed {
		rec.CreatedAt = prev.CreatedAt
		if rec.LastMessage == prev.LastMessage {
			rec.LastMessageTS = prev.LastMessageTS
		} else {
			rec.LastMessageTS = now
		}
	} else {
		rec.CreatedAt = now
		if rec.LastMessage != "" {
			rec.LastMessageTS = now
		}
	}
	rec.ParticipantIDs = copySet(rec.ParticipantIDs)
	rec.AdminIDs = copySet(rec.AdminIDs)
	s.conversations[rec.ID] = rec
	w := s.convWatchers[rec.ID]
	s.mu.Unlock()

	w.notify(rec)
	return rec, nil
}

// GetConversation returns conversations/{id}, or nil if absent.
func (s *Store) GetConversation(_ context.Context, id string) (*remote.ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return nil, err
	}
	rec, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	rec.ParticipantIDs = copySet(rec.ParticipantIDs)
	rec.AdminIDs = copySet(rec.AdminIDs)
	return &rec, nil
}

// PutMessage writes messages/{conversationID}/{messageID}, assigning the
// server timestamp and per-conversation sequence number. Re-putting the same
// message ID keeps the original server fields and never shrinks readBy, so
// replays are idempotent.
func (s *Store) PutMessage(_ context.Context, rec remote.MessageRecord) (remote.MessageRecord, error) {
	s.mu.Lock()
	if err := s.checkUp(); err != nil {
		s.mu.Unlock()
		return remote.MessageRecord{}, err
	}
	if rec.ID == "" || rec.ConversationID == "" {
		s.mu.Unlock()
		return remote.MessageRecord{}, remote.ErrInvalidArgument
	}

	conv := s.messages[rec.ConversationID]
	if conv == nil {
		conv = make(map[string]remote.MessageRecord)
		s.messages[rec.ConversationID] = conv
	}

	prev, existed := conv[rec.ID]
	if existed {
		rec.ServerTS = prev.ServerTS
		rec.Seq = prev.Seq
		rec.ReadBy = mergeReadBy(prev.ReadBy, rec.ReadBy)
	} else {
		rec.ServerTS = s.serverNow()
		s.seqs[rec.ConversationID]++
		rec.Seq = s.seqs[rec.ConversationID]
		rec.ReadBy = mergeReadBy(nil, rec.ReadBy)
	}
	conv[rec.ID] = rec
	w := s.msgWatchers[rec.ConversationID]
	s.mu.Unlock()

	w.notify(rec)
	return rec, nil
}

// ListMessagesSince returns messages newer than sinceTS in server order.
func (s *Store) ListMessagesSince(_ context.Context, conversationID string, sinceTS int64) ([]remote.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUp(); err != nil {
		return nil, err
	}
	var out []remote.MessageRecord
	for _, rec := range s.messages[conversationID] {
		if rec.ServerTS > sinceTS {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerTS < out[j].ServerTS })
	return out, nil
}

// WriteReadReceipt sets readBy/{userID} with a server timestamp. Writing the
// same reader twice is a no-op returning the original timestamp.
func (s *Store) WriteReadReceipt(_ context.Context, conversationID, messageID, userID string) (int64, error) {
	s.mu.Lock()
	if err := s.checkUp(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	conv := s.messages[conversationID]
	rec, ok := conv[messageID]
	if !ok {
		s.mu.Unlock()
		return 0, remote.ErrNotFound
	}
	if ts, ok := rec.ReadBy[userID]; ok {
		s.mu.Unlock()
		return ts, nil
	}
	ts := s.serverNow()
	rec.ReadBy = mergeReadBy(rec.ReadBy, map[string]int64{userID: ts})
	conv[messageID] = rec
	w := s.msgWatchers[conversationID]
	s.mu.Unlock()

	w.notify(rec)
	return ts, nil
}

// WatchConversation streams every write to conversations/{id}.
func (s *Store) WatchConversation(id string, buf int) (<-chan remote.ConversationRecord, func()) {
	s.mu.Lock()
	w := s.convWatchers[id]
	if w == nil {
		w = newWatchers[remote.ConversationRecord]()
		s.convWatchers[id] = w
	}
	s.mu.Unlock()
	return w.add(buf)
}

// WatchMessages streams every message write under messages/{conversationID}.
func (s *Store) WatchMessages(conversationID string, buf int) (<-chan remote.MessageRecord, func()) {
	s.mu.Lock()
	w := s.msgWatchers[conversationID]
	if w == nil {
		w = newWatchers[remote.MessageRecord]()
		s.msgWatchers[conversationID] = w
	}
	s.mu.Unlock()
	return w.add(buf)
}

func copySet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		if v {
			out[k] = true
		}
	}
	return out
}

func mergeReadBy(prev, incoming map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(prev)+len(incoming))
	for k, v := range incoming {
		out[k] = v
	}
	// Existing receipts win: readBy only grows and never rewrites.
	for k, v := range prev {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
