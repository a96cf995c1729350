package store

import (
	"database/sql"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on conversation_id + id).
// LocalCreatedAt is write-once: an upsert never moves an existing message's
// local creation time, so sort positions stay stable.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, body, local_created_at,
			server_ts, seq, status, sync_status, read_by, is_system, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, id) DO UPDATE SET
			body = excluded.body,
			server_ts = CASE WHEN excluded.server_ts > 0 THEN excluded.server_ts ELSE messages.server_ts END,
			seq = CASE WHEN excluded.seq > 0 THEN excluded.seq ELSE messages.seq END,
			status = excluded.status,
			sync_status = excluded.sync_status,
			read_by = excluded.read_by,
			is_system = excluded.is_system`,
		m.ID, m.ConversationID, m.SenderID, m.Text, m.LocalCreatedAt,
		m.ServerTS, m.Seq, m.Status, m.SyncStatus, encodeReadBy(m.ReadBy), m.IsSystem, now)
	return err
}

const messageColumns = `id, conversation_id, sender_id, body, local_created_at,
	server_ts, seq, status, sync_status, read_by, is_system`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var readBy string
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.LocalCreatedAt,
		&m.ServerTS, &m.Seq, &m.Status, &m.SyncStatus, &readBy, &m.IsSystem)
	if err != nil {
		return nil, err
	}
	m.ReadBy = decodeReadBy(readBy)
	return &m, nil
}

// GetMessage returns a single message, or nil if absent.
func (db *DB) GetMessage(conversationID, id string) (*Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND id = ?`,
		conversationID, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns messages for a conversation in stable order:
// (local_created_at, server_ts, seq) ascending. Keyset pagination by
// local_created_at: pass afterTs=0 for the start of the conversation.
func (db *DB) ListMessages(conversationID string, afterTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND local_created_at > ?
		ORDER BY local_created_at ASC, server_ts ASC, seq ASC
		LIMIT ?`, conversationID, afterTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// SetMessageSyncStatus updates only the transport-visible sync flag.
func (db *DB) SetMessageSyncStatus(conversationID, id, syncStatus string) error {
	_, err := db.Exec(`UPDATE messages SET sync_status = ? WHERE conversation_id = ? AND id = ?`,
		syncStatus, conversationID, id)
	return err
}

// SetMessageStatus updates the sender-visible delivery status. Callers are
// expected to have run the transition through the delivery state machine.
func (db *DB) SetMessageStatus(conversationID, id, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE conversation_id = ? AND id = ?`,
		status, conversationID, id)
	return err
}

// SetServerFields fills in the remote-assigned ordering fields after an ack.
func (db *DB) SetServerFields(conversationID, id string, serverTS, seq int64) error {
	_, err := db.Exec(`UPDATE messages SET server_ts = ?, seq = ? WHERE conversation_id = ? AND id = ?`,
		serverTS, seq, conversationID, id)
	return err
}

// MergeReadBy records a read receipt. The read_by map only grows: an
// existing entry for userID is never overwritten or removed.
func (db *DB) MergeReadBy(conversationID, id, userID string, ts int64) error {
	m, err := db.GetMessage(conversationID, id)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	if _, ok := m.ReadBy[userID]; ok {
		return nil
	}
	if m.ReadBy == nil {
		m.ReadBy = map[string]int64{}
	}
	m.ReadBy[userID] = ts
	_, err = db.Exec(`UPDATE messages SET read_by = ? WHERE conversation_id = ? AND id = ?`,
		encodeReadBy(m.ReadBy), conversationID, id)
	return err
}
