package sync

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/thiagokf/chatd/internal/bus"
	"github.com/thiagokf/chatd/internal/delivery"
	"github.com/thiagokf/chatd/internal/remote"
	"github.com/thiagokf/chatd/internal/store"
	"go.uber.org/zap"
)

// StartWatch opens the long-lived subscription for a conversation: message
// and conversation records stream in and are merged into the local store.
// Starting an already-watched conversation is a no-op.
func (e *Engine) StartWatch(ctx context.Context, conversationID string) {
	e.mu.Lock()
	if _, ok := e.watches[conversationID]; ok {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.watches[conversationID] = cancel
	e.mu.Unlock()

	msgCh, unsubMsgs := e.rs.WatchMessages(conversationID, 256)
	convCh, unsubConv := e.rs.WatchConversation(conversationID, 64)

	// Catch up after subscribing, not before: anything written in between
	// arrives on both paths and the merge is idempotent either way.
	e.backfill(ctx, conversationID)

	go func() {
		defer unsubMsgs()
		defer unsubConv()
		for {
			select {
			case rec := <-msgCh:
				if err := e.applyRemoteMessage(rec); err != nil {
					e.logger.Error("failed to apply remote message",
						zap.String("message_id", rec.ID), zap.Error(err))
				}
			case rec := <-convCh:
				if err := e.applyRemoteConversation(rec); err != nil {
					e.logger.Error("failed to apply remote conversation",
						zap.String("conversation_id", rec.ID), zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// backfill reconciles records written while no watch was open. The cursor
// holds the newest server timestamp this client has merged; everything after
// it replays through the normal merge path. Failures are left to the live
// watch and the next StartWatch.
func (e *Engine) backfill(ctx context.Context, conversationID string) {
	if rec, err := e.rs.GetConversation(ctx, conversationID); err == nil && rec != nil {
		if err := e.applyRemoteConversation(*rec); err != nil {
			e.logger.Error("failed to apply remote conversation",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}

	var since int64
	if v, err := e.db.GetState("cursor:" + conversationID); err == nil && v != "" {
		since, _ = strconv.ParseInt(v, 10, 64)
	}
	recs, err := e.rs.ListMessagesSince(ctx, conversationID, since)
	if err != nil {
		e.logger.Warn("catch-up read failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	for _, rec := range recs {
		if err := e.applyRemoteMessage(rec); err != nil {
			e.logger.Error("failed to apply remote message",
				zap.String("message_id", rec.ID), zap.Error(err))
		}
	}
}

// StopWatch tears down the subscription when the conversation view loses
// focus.
func (e *Engine) StopWatch(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.watches[conversationID]; ok {
		cancel()
		delete(e.watches, conversationID)
	}
}

// applyRemoteMessage merges one inbound message record. Application is
// idempotent: replays and echoes of our own sends update flags but never
// duplicate rows, shrink readBy, or move a message's sort position.
func (e *Engine) applyRemoteMessage(rec remote.MessageRecord) error {
	local, err := e.db.GetMessage(rec.ConversationID, rec.ID)
	if err != nil {
		return err
	}
	me := e.ident.UserID()
	if rec.ServerTS > 0 {
		// Watch cursor: the newest server timestamp seen per conversation.
		_ = e.db.SetState("cursor:"+rec.ConversationID, strconv.FormatInt(rec.ServerTS, 10))
	}

	if local == nil {
		// New inbound message. Its stable local position is the server
		// timestamp: this client never saw it before the round-trip.
		msg := &store.Message{
			ID:             rec.ID,
			ConversationID: rec.ConversationID,
			SenderID:       rec.SenderID,
			Text:           rec.Text,
			LocalCreatedAt: rec.ServerTS,
			ServerTS:       rec.ServerTS,
			Seq:            rec.Seq,
			Status:         string(delivery.Merge(delivery.Merge(delivery.Sent, delivery.Status(rec.Status)), delivery.Derive(rec.SenderID, rec.ReadBy, true))),
			SyncStatus:     store.SyncSynced,
			ReadBy:         rec.ReadBy,
			IsSystem:       rec.IsSystem,
		}
		if err := e.db.UpsertMessage(msg); err != nil {
			return err
		}
		if rec.SenderID != me && !rec.IsSystem {
			_ = e.db.IncrementUnread(rec.ConversationID)
		}
		_ = e.db.UpdateLastMessage(rec.ConversationID, rec.Text, rec.ServerTS)
		e.publishMessage("message.upserted", msg)
		return nil
	}

	// Known message: fill server fields, grow readBy, advance status.
	if local.ServerTS == 0 && rec.ServerTS > 0 {
		if err := e.db.SetServerFields(rec.ConversationID, rec.ID, rec.ServerTS, rec.Seq); err != nil {
			return err
		}
		if err := e.db.SetMessageSyncStatus(rec.ConversationID, rec.ID, store.SyncSynced); err != nil {
			return err
		}
		local.SyncStatus = store.SyncSynced
	}
	for uid, ts := range rec.ReadBy {
		if err := e.db.MergeReadBy(rec.ConversationID, rec.ID, uid, ts); err != nil {
			return err
		}
		if _, had := local.ReadBy[uid]; !had {
			if local.ReadBy == nil {
				local.ReadBy = map[string]int64{}
			}
			local.ReadBy[uid] = ts
		}
	}

	// A failed sync freezes the delivery status at sending until retried.
	if local.SyncStatus == store.SyncFailed {
		return nil
	}
	// The platform-level delivered signal arrives only through the record's
	// own status field; Merge ignores values it does not know.
	derived := delivery.Derive(local.SenderID, local.ReadBy, local.ServerTS > 0 || rec.ServerTS > 0)
	next := delivery.Merge(delivery.Merge(delivery.Status(local.Status), delivery.Status(rec.Status)), derived)
	if string(next) != local.Status {
		if err := e.db.SetMessageStatus(rec.ConversationID, rec.ID, string(next)); err != nil {
			return err
		}
		if next == delivery.Read && local.SenderID == me {
			e.bus.Publish(bus.Event{Kind: "message.read", Timestamp: time.Now(), Payload: map[string]string{
				"conversation_id": rec.ConversationID,
				"message_id":      rec.ID,
			}})
		} else {
			e.publishMessage("message.upserted", local)
		}
	}
	return nil
}

// applyRemoteConversation merges one inbound conversation record using
// last-write-wins on the remote-assigned timestamp: anything not strictly
// newer than the local copy is ignored. This is the sole conflict-resolution
// rule; no field-level merge is attempted.
func (e *Engine) applyRemoteConversation(rec remote.ConversationRecord) error {
	local, err := e.db.GetConversation(rec.ID)
	if err != nil {
		return err
	}
	if local != nil && rec.UpdatedAt <= local.UpdatedAt {
		return nil
	}

	conv := &store.Conversation{
		ID:              rec.ID,
		IsGroup:         rec.IsGroup,
		IsCreatorOnly:   rec.IsCreatorOnly,
		LastMessageText: rec.LastMessage,
		LastMessageAt:   rec.LastMessageTS,
		SyncStatus:      store.SyncSynced,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if local != nil {
		// Local-only fields survive the overwrite: archive/pin state and the
		// unread counter are per-device, and join order is not represented
		// in the remote membership maps.
		conv.IsArchived = local.IsArchived
		conv.IsPinned = local.IsPinned
		conv.UnreadCount = local.UnreadCount
		conv.ParticipantIDs = mergeOrdered(local.ParticipantIDs, rec.ParticipantIDs)
		conv.AdminIDs = mergeOrdered(local.AdminIDs, rec.AdminIDs)
	} else {
		conv.ParticipantIDs = mergeOrdered(nil, rec.ParticipantIDs)
		conv.AdminIDs = mergeOrdered(nil, rec.AdminIDs)
	}

	if err := e.db.UpsertConversation(conv); err != nil {
		return err
	}
	e.bus.Publish(bus.Event{Kind: "conv.upserted", Timestamp: time.Now(), Payload: rec.ID})
	return nil
}

// mergeOrdered projects a remote membership map onto the locally known join
// order: members we already know keep their position, newcomers append in
// sorted order.
func mergeOrdered(known []string, members map[string]bool) []string {
	out := make([]string, 0, len(members))
	for _, id := range known {
		if members[id] {
			out = append(out, id)
		}
	}
	seen := toSet(out)
	for _, id := range sortedMembers(members) {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}

func sortedMembers(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for id, ok := range m {
		if ok {
			out = append(out, id)
		}
	}
	// Insertion-order maps do not exist in Go; sort for determinism.
	sort.Strings(out)
	return out
}
