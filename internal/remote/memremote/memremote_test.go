package memremote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thiagokf/chatd/internal/remote"
)

func TestPutConversationAssignsServerTimestamps(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec, err := s.PutConversation(ctx, remote.ConversationRecord{
		ID:             "a:b",
		ParticipantIDs: map[string]bool{"a": true, "b": true},
		LastMessage:    "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.UpdatedAt == 0 || rec.CreatedAt == 0 {
		t.Errorf("server timestamps not assigned: %+v", rec)
	}
	if rec.LastMessageTS == 0 {
		t.Error("last message timestamp not assigned")
	}

	// A second write gets a strictly newer UpdatedAt and keeps CreatedAt.
	rec2, err := s.PutConversation(ctx, remote.ConversationRecord{
		ID:             "a:b",
		ParticipantIDs: map[string]bool{"a": true, "b": true},
		LastMessage:    "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec2.UpdatedAt <= rec.UpdatedAt {
		t.Errorf("UpdatedAt %d not newer than %d", rec2.UpdatedAt, rec.UpdatedAt)
	}
	if rec2.CreatedAt != rec.CreatedAt {
		t.Errorf("CreatedAt changed: %d -> %d", rec.CreatedAt, rec2.CreatedAt)
	}
	// Preview unchanged, so its timestamp must not move.
	if rec2.LastMessageTS != rec.LastMessageTS {
		t.Errorf("LastMessageTS moved without a new preview")
	}
}

func TestPutConversationRejectsEmpty(t *testing.T) {
	s := New()
	_, err := s.PutConversation(context.Background(), remote.ConversationRecord{ID: "x"})
	if !errors.Is(err, remote.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

// TestPutMessageReplayIdempotent covers the retry invariant: replaying the
// same client-generated message ID must not create a second remote message
// or reassign its server fields.
func TestPutMessageReplayIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.PutMessage(ctx, remote.MessageRecord{ID: "m1", ConversationID: "c1", SenderID: "a", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ServerTS == 0 || first.Seq != 1 {
		t.Fatalf("server fields = (%d,%d), want assigned ts and seq 1", first.ServerTS, first.Seq)
	}

	replay, err := s.PutMessage(ctx, remote.MessageRecord{ID: "m1", ConversationID: "c1", SenderID: "a", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if replay.ServerTS != first.ServerTS || replay.Seq != first.Seq {
		t.Errorf("replay reassigned server fields: %+v vs %+v", replay, first)
	}

	// A different message advances the sequence.
	second, err := s.PutMessage(ctx, remote.MessageRecord{ID: "m2", ConversationID: "c1", SenderID: "a", Text: "again"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Seq != 2 {
		t.Errorf("seq = %d, want 2", second.Seq)
	}
}

func TestWriteReadReceiptIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.PutMessage(ctx, remote.MessageRecord{ID: "m1", ConversationID: "c1", SenderID: "a", Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	ts1, err := s.WriteReadReceipt(ctx, "c1", "m1", "b")
	if err != nil {
		t.Fatal(err)
	}
	ts2, err := s.WriteReadReceipt(ctx, "c1", "m1", "b")
	if err != nil {
		t.Fatal(err)
	}
	if ts1 != ts2 {
		t.Errorf("second receipt rewrote timestamp: %d != %d", ts1, ts2)
	}

	_, err = s.WriteReadReceipt(ctx, "c1", "missing", "b")
	if !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestWatchMessagesStreamsWrites(t *testing.T) {
	s := New()
	ch, unsub := s.WatchMessages("c1", 10)
	defer unsub()

	if _, err := s.PutMessage(context.Background(), remote.MessageRecord{ID: "m1", ConversationID: "c1", Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	select {
	case rec := <-ch:
		if rec.ID != "m1" {
			t.Errorf("got %s, want m1", rec.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for watch event")
	}
}

func TestTypingSetAndClear(t *testing.T) {
	s := New()
	ctx := context.Background()
	ch, unsub := s.WatchTyping("c1", 10)
	defer unsub()

	if err := s.SetTyping(ctx, "c1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTyping(ctx, "c1", "b"); err != nil {
		t.Fatal(err)
	}

	users, err := s.TypingUsers(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0] != "a" || users[1] != "b" {
		t.Errorf("typing = %v, want [a b]", users)
	}

	if err := s.ClearTyping(ctx, "c1", "a"); err != nil {
		t.Fatal(err)
	}
	// Clearing an absent marker is a no-op.
	if err := s.ClearTyping(ctx, "c1", "a"); err != nil {
		t.Fatal(err)
	}

	users, _ = s.TypingUsers(ctx, "c1")
	if len(users) != 1 || users[0] != "b" {
		t.Errorf("typing = %v, want [b]", users)
	}

	// Watcher saw at least one snapshot.
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for typing snapshot")
	}
}

// TestDisconnectHooksFire simulates a client that registered cleanup and then
// died: firing the hooks must clear typing and flip presence offline without
// any client-side call.
func TestDisconnectHooksFire(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SetPresence(ctx, remote.PresenceRecord{UserID: "a", Online: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTyping(ctx, "c1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.OnDisconnectSetPresence(remote.PresenceRecord{UserID: "a", Online: false}); err != nil {
		t.Fatal(err)
	}
	if err := s.OnDisconnectClearTyping("c1", "a"); err != nil {
		t.Fatal(err)
	}

	s.FireDisconnect("a")

	p, err := s.Presence(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Online {
		t.Errorf("presence = %+v, want offline", p)
	}
	if p != nil && p.LastSeen == 0 {
		t.Error("lastSeen not stamped at fire time")
	}

	users, _ := s.TypingUsers(ctx, "c1")
	if len(users) != 0 {
		t.Errorf("typing = %v, want empty after disconnect", users)
	}

	// Hooks are one-shot.
	if err := s.SetPresence(ctx, remote.PresenceRecord{UserID: "a", Online: true}); err != nil {
		t.Fatal(err)
	}
	s.FireDisconnect("a")
	p, _ = s.Presence(ctx, "a")
	if p == nil || !p.Online {
		t.Error("cleared hooks fired again")
	}
}

func TestCancelDisconnectHooks(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SetPresence(ctx, remote.PresenceRecord{UserID: "a", Online: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.OnDisconnectSetPresence(remote.PresenceRecord{UserID: "a", Online: false}); err != nil {
		t.Fatal(err)
	}
	if err := s.CancelDisconnectHooks("a"); err != nil {
		t.Fatal(err)
	}

	s.FireDisconnect("a")
	p, _ := s.Presence(ctx, "a")
	if p == nil || !p.Online {
		t.Errorf("presence = %+v, want still online after cancel", p)
	}
}

func TestUnavailableFailsOperations(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetUnavailable(true)

	_, err := s.PutMessage(ctx, remote.MessageRecord{ID: "m1", ConversationID: "c1"})
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if !remote.Retryable(err) {
		t.Error("ErrUnavailable must classify as retryable")
	}

	s.SetUnavailable(false)
	if _, err := s.PutMessage(ctx, remote.MessageRecord{ID: "m1", ConversationID: "c1"}); err != nil {
		t.Errorf("after recovery: %v", err)
	}
}
