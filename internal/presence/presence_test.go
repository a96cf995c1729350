package presence

import (
	"context"
	"testing"

	"github.com/thiagokf/chatd/internal/identity"
	"github.com/thiagokf/chatd/internal/remote/memremote"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *memremote.Store) {
	t.Helper()
	rs := memremote.New()
	s := NewService(rs, &identity.Static{ID: "alice", UserRole: identity.RoleCreator}, zap.NewNop())
	return s, rs
}

func TestSetOnlineWritesPresence(t *testing.T) {
	s, rs := newTestService(t)
	s.SetOnline(context.Background())

	rec, err := rs.Presence(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || !rec.Online {
		t.Fatalf("presence = %+v, want online", rec)
	}
	if rec.LastSeen == 0 {
		t.Error("LastSeen not assigned")
	}
}

// TestDisconnectFlipsOffline simulates a crash: the hook armed by SetOnline
// must flip the user offline without any client-side write.
func TestDisconnectFlipsOffline(t *testing.T) {
	s, rs := newTestService(t)
	s.SetOnline(context.Background())

	rs.FireDisconnect("alice")

	rec, _ := rs.Presence(context.Background(), "alice")
	if rec == nil || rec.Online {
		t.Fatalf("presence after disconnect = %+v, want offline", rec)
	}
	if rec.LastSeen == 0 {
		t.Error("disconnect write should stamp LastSeen")
	}
}

// TestCleanShutdownCancelsHook: after SetOffline, a late disconnect event
// must not resurrect or rewrite the presence record.
func TestCleanShutdownCancelsHook(t *testing.T) {
	s, rs := newTestService(t)
	ctx := context.Background()

	s.SetOnline(ctx)
	s.SetOffline(ctx)

	before, _ := rs.Presence(ctx, "alice")
	if before == nil || before.Online {
		t.Fatalf("presence after shutdown = %+v, want offline", before)
	}

	rs.FireDisconnect("alice")
	after, _ := rs.Presence(ctx, "alice")
	if after.LastSeen != before.LastSeen {
		t.Error("cancelled hook still fired and rewrote presence")
	}
}

func TestActiveConversationRoundTrip(t *testing.T) {
	s, rs := newTestService(t)
	ctx := context.Background()

	s.SetOnline(ctx)
	s.SetActiveConversation(ctx, "c1")

	rec, _ := rs.Presence(ctx, "alice")
	if rec.CurrentConversationID != "c1" {
		t.Errorf("current conversation = %q, want c1", rec.CurrentConversationID)
	}

	s.ClearActiveConversation(ctx)
	rec, _ = rs.Presence(ctx, "alice")
	if rec.CurrentConversationID != "" {
		t.Errorf("current conversation = %q, want cleared", rec.CurrentConversationID)
	}
	if !rec.Online {
		t.Error("clearing the active conversation must keep the user online")
	}
}

func TestSetOfflineSurvivesRemoteFailure(t *testing.T) {
	s, rs := newTestService(t)
	ctx := context.Background()

	s.SetOnline(ctx)
	rs.SetUnavailable(true)

	// Must not hang or panic; the write is abandoned.
	s.SetOffline(ctx)
}

func TestObserveStreamsWrites(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	ch, unsub := s.Observe("alice", 8)
	defer unsub()

	s.SetOnline(ctx)

	select {
	case rec := <-ch:
		if !rec.Online {
			t.Errorf("streamed record = %+v, want online", rec)
		}
	default:
		t.Fatal("no presence update streamed")
	}
}
