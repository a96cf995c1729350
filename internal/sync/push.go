package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thiagokf/chatd/internal/bus"
	"github.com/thiagokf/chatd/internal/delivery"
	"github.com/thiagokf/chatd/internal/identity"
	"github.com/thiagokf/chatd/internal/remote"
	"github.com/thiagokf/chatd/internal/store"
	"go.uber.org/zap"
)

// SendMessage commits a message locally with an optimistic sending status,
// then pushes it to the remote log. The returned message reflects the local
// commit; the push outcome arrives through sync_status updates and bus
// events.
func (e *Engine) SendMessage(ctx context.Context, conversationID, text string) (*store.Message, error) {
	conv, err := e.db.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}
	if conv.IsCreatorOnly && e.ident.Role() != identity.RoleCreator {
		return nil, ErrPostingRestricted
	}

	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       e.ident.UserID(),
		Text:           text,
		LocalCreatedAt: time.Now().UnixMilli(),
		Status:         string(delivery.Sending),
		SyncStatus:     store.SyncPending,
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		return nil, fmt.Errorf("commit message: %w", err)
	}
	if err := e.db.UpdateLastMessage(conversationID, text, msg.LocalCreatedAt); err != nil {
		e.logger.Warn("failed to update conversation preview", zap.Error(err))
	}
	e.publishMessage("message.upserted", msg)

	if err := e.pushMessage(ctx, conversationID, msg.ID, true); err != nil {
		return msg, err
	}
	return msg, nil
}

// pushMessage pushes one message to the remote store. Transient failures
// mark the message failed and, when queueOnFailure is set, hand it to the
// retry queue; the retry queue itself calls with queueOnFailure=false so a
// failed replay leaves the entry in place for the next pass.
func (e *Engine) pushMessage(ctx context.Context, conversationID, messageID string, queueOnFailure bool) error {
	msg, err := e.db.GetMessage(conversationID, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		// Already absent locally; nothing to replay.
		return nil
	}

	acked, err := e.rs.PutMessage(ctx, remote.MessageRecord{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		Status:         string(delivery.Sent),
		IsSystem:       msg.IsSystem,
	})
	if err != nil {
		if !remote.Retryable(err) {
			// Terminal: surface, never queue. The status stays frozen at
			// sending until the user intervenes.
			_ = e.db.SetMessageSyncStatus(conversationID, messageID, store.SyncFailed)
			e.publishSendFailed(msg, err)
			return err
		}
		_ = e.db.SetMessageSyncStatus(conversationID, messageID, store.SyncFailed)
		if queueOnFailure {
			e.enqueue(OpSendMessage, opPayload{ConversationID: conversationID, MessageID: messageID})
		}
		e.publishSendFailed(msg, err)
		return err
	}

	if err := e.db.SetServerFields(conversationID, messageID, acked.ServerTS, acked.Seq); err != nil {
		return err
	}
	if err := e.db.SetMessageSyncStatus(conversationID, messageID, store.SyncSynced); err != nil {
		return err
	}
	next, terr := delivery.Transition(delivery.Status(msg.Status), delivery.Sent)
	if terr == nil {
		_ = e.db.SetMessageStatus(conversationID, messageID, string(next))
	}

	e.logger.Info("message synced",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", messageID),
		zap.Int64("server_ts", acked.ServerTS))
	e.bus.Publish(bus.Event{Kind: "message.send_ack", Timestamp: time.Now(), Payload: map[string]string{
		"conversation_id": conversationID,
		"message_id":      messageID,
	}})
	return nil
}

// SyncConversation pushes a conversation's current local state to the remote
// store. Conversation-level failures requeue silently: unlike messages, they
// surface no inline affordance.
func (e *Engine) SyncConversation(ctx context.Context, conversationID string) error {
	return e.pushConversation(ctx, conversationID, true)
}

func (e *Engine) pushConversation(ctx context.Context, conversationID string, queueOnFailure bool) error {
	conv, err := e.db.GetConversation(conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return nil
	}

	acked, err := e.rs.PutConversation(ctx, conversationRecord(conv))
	if err != nil {
		if !remote.Retryable(err) {
			_ = e.db.SetConversationSyncStatus(conversationID, store.SyncFailed)
			return err
		}
		_ = e.db.SetConversationSyncStatus(conversationID, store.SyncFailed)
		if queueOnFailure {
			e.enqueue(OpSyncConversation, opPayload{ConversationID: conversationID})
		}
		return err
	}

	// Adopt the server-assigned timestamp so later LWW comparisons are
	// against the authoritative clock, not ours.
	conv.UpdatedAt = acked.UpdatedAt
	conv.SyncStatus = store.SyncSynced
	if err := e.db.UpsertConversation(conv); err != nil {
		return err
	}
	e.bus.Publish(bus.Event{Kind: "conv.synced", Timestamp: time.Now(), Payload: conversationID})
	return nil
}

// readReceiptPage is how many messages one receipt pass loads at a time.
const readReceiptPage = 500

// MarkConversationRead writes the current user's read receipt for every
// message in the conversation they have not read yet, and clears the unread
// counter. Receipts for our own messages are skipped. The whole history is
// paged through, since the unread messages are by definition the newest.
func (e *Engine) MarkConversationRead(ctx context.Context, conversationID string) error {
	me := e.ident.UserID()

	var after int64
	for {
		msgs, err := e.db.ListMessages(conversationID, after, readReceiptPage)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			if m.SenderID == me {
				continue
			}
			if _, ok := m.ReadBy[me]; ok {
				continue
			}
			ts, err := e.rs.WriteReadReceipt(ctx, conversationID, m.ID, me)
			if err != nil {
				if errors.Is(err, remote.ErrNotFound) {
					continue
				}
				// Read receipts are best-effort; the next open retries them.
				e.logger.Warn("read receipt failed",
					zap.String("message_id", m.ID), zap.Error(err))
				continue
			}
			if err := e.db.MergeReadBy(conversationID, m.ID, me, ts); err != nil {
				return err
			}
		}
		after = msgs[len(msgs)-1].LocalCreatedAt
		if len(msgs) < readReceiptPage {
			break
		}
	}
	return e.db.ResetUnread(conversationID)
}

func (e *Engine) publishMessage(kind string, msg *store.Message) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: map[string]string{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
	}})
}

func (e *Engine) publishSendFailed(msg *store.Message, err error) {
	e.logger.Error("failed to send message",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID),
		zap.Error(err))
	e.bus.Publish(bus.Event{Kind: "message.send_failed", Timestamp: time.Now(), Payload: map[string]string{
		"conversation_id": msg.ConversationID,
		"message_id":      msg.ID,
		"error":           err.Error(),
	}})
}

// conversationRecord serializes participant and admin slices into the
// remote store's membership-map representation.
func conversationRecord(c *store.Conversation) remote.ConversationRecord {
	return remote.ConversationRecord{
		ID:             c.ID,
		ParticipantIDs: toSet(c.ParticipantIDs),
		AdminIDs:       toSet(c.AdminIDs),
		IsGroup:        c.IsGroup,
		IsCreatorOnly:  c.IsCreatorOnly,
		LastMessage:    c.LastMessageText,
		UnreadCount:    c.UnreadCount,
		CreatedAt:      c.CreatedAt,
	}
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
