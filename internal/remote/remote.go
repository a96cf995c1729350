// Package remote defines the contract with the hosted real-time store: a
// hierarchical key-value tree with server-assigned timestamps, observable
// paths, and disconnect-triggered writes as a primitive.
package remote

import "context"

// ConversationRecord is the remote shape of conversations/{id}. Participant
// and admin sets are membership maps, since ordered arrays are not natively
// queryable in the remote tree.
type ConversationRecord struct {
	ID             string
	ParticipantIDs map[string]bool
	AdminIDs       map[string]bool
	IsGroup        bool
	IsCreatorOnly  bool
	LastMessage    string
	LastMessageTS  int64 // server-assigned
	UnreadCount    int
	CreatedAt      int64
	UpdatedAt      int64 // server-assigned, the LWW conflict key
}

// MessageRecord is the remote shape of messages/{conversationID}/{messageID}.
type MessageRecord struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	ServerTS       int64 // server-assigned
	Seq            int64 // server-assigned
	Status         string
	IsSystem       bool
	ReadBy         map[string]int64 // userID -> server-assigned read timestamp
}

// PresenceRecord is the remote shape of userPresence/{userID}.
type PresenceRecord struct {
	UserID                string
	Online                bool
	LastSeen              int64
	CurrentConversationID string
}

// SignalStore is the ephemeral-signal surface of the remote store: typing
// markers and presence, both protected by disconnect hooks registered with
// the store itself so a crashed client still clears its state.
type SignalStore interface {
	SetTyping(ctx context.Context, conversationID, userID string) error
	ClearTyping(ctx context.Context, conversationID, userID string) error
	TypingUsers(ctx context.Context, conversationID string) ([]string, error)
	// WatchTyping streams snapshots of the currently-typing user set.
	WatchTyping(conversationID string, buf int) (<-chan []string, func())

	SetPresence(ctx context.Context, rec PresenceRecord) error
	Presence(ctx context.Context, userID string) (*PresenceRecord, error)
	WatchPresence(userID string, buf int) (<-chan PresenceRecord, func())

	// Disconnect hooks. Registrations do not survive a manual presence
	// write, so callers re-issue them after every SetPresence.
	OnDisconnectClearTyping(conversationID, userID string) error
	OnDisconnectSetPresence(rec PresenceRecord) error
	CancelDisconnectHooks(userID string) error
}

// Store is the full remote contract consumed by the sync engine. Put
// operations return the stored record with server-assigned fields filled in.
type Store interface {
	SignalStore

	PutConversation(ctx context.Context, rec ConversationRecord) (ConversationRecord, error)
	GetConversation(ctx context.Context, id string) (*ConversationRecord, error)
	PutMessage(ctx context.Context, rec MessageRecord) (MessageRecord, error)
	// ListMessagesSince returns the messages under a conversation with a
	// server timestamp strictly greater than sinceTS, ordered by server
	// timestamp. Catch-up read for records written while no watch was open.
	ListMessagesSince(ctx context.Context, conversationID string, sinceTS int64) ([]MessageRecord, error)
	// WriteReadReceipt records readBy/{userID} with a server timestamp.
	// Idempotent: a second write for the same reader is a no-op and returns
	// the original timestamp.
	WriteReadReceipt(ctx context.Context, conversationID, messageID, userID string) (int64, error)

	WatchConversation(id string, buf int) (<-chan ConversationRecord, func())
	WatchMessages(conversationID string, buf int) (<-chan MessageRecord, func())
}
