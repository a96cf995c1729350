package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = now
	}
	_, err := db.Exec(`
		INSERT INTO conversations (id, participant_ids, admin_ids, is_group, is_creator_only,
			last_message_text, last_message_at, unread_count, is_archived, is_pinned,
			sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participant_ids = excluded.participant_ids,
			admin_ids = excluded.admin_ids,
			is_group = excluded.is_group,
			is_creator_only = excluded.is_creator_only,
			last_message_text = excluded.last_message_text,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			is_archived = excluded.is_archived,
			is_pinned = excluded.is_pinned,
			sync_status = excluded.sync_status,
			updated_at = excluded.updated_at`,
		c.ID, encodeIDSet(c.ParticipantIDs), encodeIDSet(c.AdminIDs), c.IsGroup, c.IsCreatorOnly,
		c.LastMessageText, c.LastMessageAt, c.UnreadCount, c.IsArchived, c.IsPinned,
		c.SyncStatus, c.CreatedAt, c.UpdatedAt)
	return err
}

const conversationColumns = `id, participant_ids, admin_ids, is_group, is_creator_only,
	last_message_text, last_message_at, unread_count, is_archived, is_pinned,
	sync_status, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var participants, admins string
	err := row.Scan(&c.ID, &participants, &admins, &c.IsGroup, &c.IsCreatorOnly,
		&c.LastMessageText, &c.LastMessageAt, &c.UnreadCount, &c.IsArchived, &c.IsPinned,
		&c.SyncStatus, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ParticipantIDs = decodeIDSet(participants)
	c.AdminIDs = decodeIDSet(admins)
	return &c, nil
}

// GetConversation returns a single conversation by ID, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	row := db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns conversations sorted pinned-first, then by last
// message timestamp descending. Archived conversations are excluded unless
// includeArchived is set.
func (db *DB) ListConversations(includeArchived bool, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if !includeArchived {
		query += ` WHERE is_archived = 0`
	}
	query += ` ORDER BY is_pinned DESC, last_message_at DESC LIMIT ? OFFSET ?`

	rows, err := db.Query(query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// SetConversationSyncStatus updates only the transport-visible sync flag.
func (db *DB) SetConversationSyncStatus(id, syncStatus string) error {
	_, err := db.Exec(`UPDATE conversations SET sync_status = ? WHERE id = ?`, syncStatus, id)
	return err
}

// SetArchived marks a conversation archived or restores it.
func (db *DB) SetArchived(id string, archived bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET is_archived = ?, updated_at = ? WHERE id = ?`, archived, now, id)
	return err
}

// SetPinned pins or unpins a conversation.
func (db *DB) SetPinned(id string, pinned bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET is_pinned = ?, updated_at = ? WHERE id = ?`, pinned, now, id)
	return err
}

// IncrementUnread bumps the unread counter for a conversation.
func (db *DB) IncrementUnread(id string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = unread_count + 1 WHERE id = ?`, id)
	return err
}

// ResetUnread clears the unread counter, typically when the view opens.
func (db *DB) ResetUnread(id string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, id)
	return err
}

// UpdateLastMessage refreshes the conversation preview fields.
func (db *DB) UpdateLastMessage(id, text string, at int64) error {
	_, err := db.Exec(`
		UPDATE conversations
		SET last_message_text = ?, last_message_at = MAX(last_message_at, ?)
		WHERE id = ?`, text, at, id)
	return err
}
