package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/thiagokf/chatd/internal/delivery"
	"github.com/thiagokf/chatd/internal/identity"
	"github.com/thiagokf/chatd/internal/store"
	"go.uber.org/zap"
)

// DirectConversationID derives the deterministic ID for a 1:1 conversation:
// the sorted participant pair joined with a colon. Both peers compute the
// same ID independently, which is what makes creation idempotent.
func DirectConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// CreateDirectConversation opens (or returns) the 1:1 conversation with
// otherID. The fan-to-fan restriction check runs before any write: only the
// distinguished creator may be messaged by fans.
func (e *Engine) CreateDirectConversation(ctx context.Context, otherID string, otherRole identity.Role) (*store.Conversation, error) {
	me := e.ident.UserID()
	if e.ident.Role() == identity.RoleFan && otherRole == identity.RoleFan {
		return nil, ErrRestrictedDM
	}
	if otherID == me {
		return nil, fmt.Errorf("cannot open a conversation with yourself")
	}

	id := DirectConversationID(me, otherID)
	if local, err := e.db.GetConversation(id); err != nil {
		return nil, err
	} else if local != nil {
		return local, nil
	}

	// Someone else may have created it already; the deterministic ID makes
	// this check-then-create idempotent.
	rec, err := e.rs.GetConversation(ctx, id)
	if err == nil && rec != nil {
		if err := e.applyRemoteConversation(*rec); err != nil {
			return nil, err
		}
		return e.db.GetConversation(id)
	}

	conv := &store.Conversation{
		ID:             id,
		ParticipantIDs: []string{me, otherID},
		SyncStatus:     store.SyncPending,
	}
	if err := e.db.UpsertConversation(conv); err != nil {
		return nil, err
	}
	if err := e.SyncConversation(ctx, id); err != nil {
		// Transient failures are already queued; the conversation stays
		// usable locally either way.
		e.logger.Warn("conversation sync deferred", zap.String("conversation_id", id), zap.Error(err))
	}
	return e.db.GetConversation(id)
}

// CreateGroupConversation creates a group with the current user as its first
// admin. A group needs at least one other participant.
func (e *Engine) CreateGroupConversation(ctx context.Context, participantIDs []string, creatorOnly bool) (*store.Conversation, error) {
	me := e.ident.UserID()
	members := []string{me}
	for _, id := range participantIDs {
		if id != me {
			members = append(members, id)
		}
	}
	if len(members) < 2 {
		return nil, fmt.Errorf("a group needs at least two participants")
	}

	conv := &store.Conversation{
		ID:             uuid.NewString(),
		ParticipantIDs: members,
		AdminIDs:       []string{me},
		IsGroup:        true,
		IsCreatorOnly:  creatorOnly,
		SyncStatus:     store.SyncPending,
	}
	if err := e.db.UpsertConversation(conv); err != nil {
		return nil, err
	}
	if err := e.SyncConversation(ctx, conv.ID); err != nil {
		e.logger.Warn("conversation sync deferred", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	return e.db.GetConversation(conv.ID)
}

// LeaveGroup removes the current user from a group. A group with two or
// more participants keeps at least one admin at every intermediate state:
// when the last admin leaves, the oldest remaining participant is promoted
// first, in its own push, before the leaver is removed.
func (e *Engine) LeaveGroup(ctx context.Context, conversationID string) error {
	conv, err := e.db.GetConversation(conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	if !conv.IsGroup {
		return fmt.Errorf("cannot leave a direct conversation; archive it instead")
	}
	me := e.ident.UserID()
	if !contains(conv.ParticipantIDs, me) {
		return nil
	}

	remaining := removeID(conv.ParticipantIDs, me)

	// Promote before removing: the admin invariant must hold even if the
	// second push never lands.
	if len(remaining) >= 1 && contains(conv.AdminIDs, me) && len(conv.AdminIDs) == 1 {
		oldest := remaining[0]
		conv.AdminIDs = append(conv.AdminIDs, oldest)
		if err := e.db.UpsertConversation(conv); err != nil {
			return err
		}
		if err := e.SyncConversation(ctx, conversationID); err != nil {
			e.logger.Warn("admin promotion sync deferred", zap.Error(err))
		}
		e.sendSystemMessage(ctx, conversationID, fmt.Sprintf("%s is now an admin", oldest))
	}

	conv.ParticipantIDs = remaining
	conv.AdminIDs = removeID(conv.AdminIDs, me)
	if len(remaining) == 0 {
		// Nobody left to sync for; the group dies with its last member.
		if err := e.db.SetArchived(conversationID, true); err != nil {
			return err
		}
		return nil
	}
	if err := e.db.UpsertConversation(conv); err != nil {
		return err
	}
	if err := e.SyncConversation(ctx, conversationID); err != nil {
		e.logger.Warn("leave sync deferred", zap.Error(err))
	}
	e.sendSystemMessage(ctx, conversationID, fmt.Sprintf("%s left the conversation", me))

	// The leaver stops seeing the group.
	e.StopWatch(conversationID)
	return e.db.SetArchived(conversationID, true)
}

// UpdateGroupMetadata pushes edited group settings with an optimistic
// concurrency check: if the remote copy changed since expectedUpdatedAt, the
// edit is rejected with ErrConflict and the caller prompts for an explicit
// overwrite (force).
func (e *Engine) UpdateGroupMetadata(ctx context.Context, conv *store.Conversation, expectedUpdatedAt int64, force bool) error {
	if !force {
		rec, err := e.rs.GetConversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		if rec != nil && rec.UpdatedAt != expectedUpdatedAt {
			return ErrConflict
		}
	}
	if err := e.db.UpsertConversation(conv); err != nil {
		return err
	}
	return e.SyncConversation(ctx, conv.ID)
}

// EnsureDefaultConversations joins the current user to the default shared
// conversations every account belongs to. Idempotent: existence is checked
// by deterministic ID before any create, and joining twice is a no-op.
func (e *Engine) EnsureDefaultConversations(ctx context.Context, ids []string) error {
	me := e.ident.UserID()
	for _, id := range ids {
		rec, err := e.rs.GetConversation(ctx, id)
		if err != nil {
			return err
		}
		if rec != nil {
			if rec.ParticipantIDs[me] {
				if err := e.applyRemoteConversation(*rec); err != nil {
					return err
				}
				continue
			}
			rec.ParticipantIDs[me] = true
			if err := e.applyRemoteConversation(*rec); err != nil {
				return err
			}
			if err := e.SyncConversation(ctx, id); err != nil {
				e.logger.Warn("default join sync deferred", zap.String("conversation_id", id), zap.Error(err))
			}
			continue
		}

		conv := &store.Conversation{
			ID:             id,
			ParticipantIDs: []string{me},
			AdminIDs:       []string{me},
			IsGroup:        true,
			SyncStatus:     store.SyncPending,
		}
		if err := e.db.UpsertConversation(conv); err != nil {
			return err
		}
		if err := e.SyncConversation(ctx, id); err != nil {
			e.logger.Warn("default create sync deferred", zap.String("conversation_id", id), zap.Error(err))
		}
	}
	return nil
}

// EnsureCreatorDM auto-creates the direct conversation every new user gets
// with the designated creator account. No-op for the creator themselves.
func (e *Engine) EnsureCreatorDM(ctx context.Context, creatorID string) error {
	if e.ident.UserID() == creatorID {
		return nil
	}
	_, err := e.CreateDirectConversation(ctx, creatorID, identity.RoleCreator)
	return err
}

// sendSystemMessage records an informational message not attributable to a
// human sender. Best-effort: failures are logged, queued if transient, and
// never fail the surrounding membership operation.
func (e *Engine) sendSystemMessage(ctx context.Context, conversationID, text string) {
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Text:           text,
		LocalCreatedAt: time.Now().UnixMilli(),
		Status:         string(delivery.Sending),
		SyncStatus:     store.SyncPending,
		IsSystem:       true,
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		e.logger.Error("failed to record system message", zap.Error(err))
		return
	}
	e.publishMessage("message.upserted", msg)
	if err := e.pushMessage(ctx, conversationID, msg.ID, true); err != nil {
		e.logger.Warn("system message push deferred", zap.Error(err))
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
