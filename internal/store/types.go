package store

import "encoding/json"

// Sync status values shared by conversations, messages and pending operations.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncFailed  = "failed"
)

// Conversation represents a local conversation row. ParticipantIDs and
// AdminIDs are sets; slice position records join order, which the group
// leave operation uses to find the oldest remaining participant.
type Conversation struct {
	ID              string
	ParticipantIDs  []string
	AdminIDs        []string
	IsGroup         bool
	IsCreatorOnly   bool
	LastMessageText string
	LastMessageAt   int64
	UnreadCount     int
	IsArchived      bool
	IsPinned        bool
	SyncStatus      string
	CreatedAt       int64
	UpdatedAt       int64
}

// Message represents a local message row.
//
// LocalCreatedAt is assigned at creation and never changes; ServerTS and Seq
// stay zero until the remote store acknowledges the write. Ordering is by
// (LocalCreatedAt, ServerTS, Seq) so a message has a stable sort position
// before the round-trip completes.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	LocalCreatedAt int64
	ServerTS       int64
	Seq            int64
	Status         string // sending, sent, delivered, read
	SyncStatus     string // pending, synced, failed
	ReadBy         map[string]int64
	IsSystem       bool
}

// PendingOperation is a retry queue entry for a push that failed transiently.
type PendingOperation struct {
	ID          int64
	Kind        string
	Payload     []byte
	CreatedAt   int64
	RetryCount  int
	LastAttempt int64
}

func encodeIDSet(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func decodeIDSet(raw string) []string {
	var ids []string
	_ = json.Unmarshal([]byte(raw), &ids)
	return ids
}

func encodeReadBy(m map[string]int64) string {
	if len(m) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func decodeReadBy(raw string) map[string]int64 {
	m := map[string]int64{}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}
