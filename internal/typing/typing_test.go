package typing

import (
	"context"
	"testing"
	"time"

	"github.com/thiagokf/chatd/internal/identity"
	"github.com/thiagokf/chatd/internal/remote/memremote"
	"go.uber.org/zap"
)

// countingSignals wraps the in-memory store to count typing writes.
type countingSignals struct {
	*memremote.Store
	setCalls int
}

func (c *countingSignals) SetTyping(ctx context.Context, conversationID, userID string) error {
	c.setCalls++
	return c.Store.SetTyping(ctx, conversationID, userID)
}

func newTestService(t *testing.T) (*Service, *countingSignals) {
	t.Helper()
	rs := &countingSignals{Store: memremote.New()}
	s := NewService(rs, &identity.Static{ID: "alice", UserRole: identity.RoleCreator}, zap.NewNop())
	return s, rs
}

func typingUsers(t *testing.T, rs *countingSignals, conversationID string) []string {
	t.Helper()
	users, err := rs.TypingUsers(context.Background(), conversationID)
	if err != nil {
		t.Fatal(err)
	}
	return users
}

func TestStartTypingThrottlesRepeatWrites(t *testing.T) {
	s, rs := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.StartTyping(ctx, "c1")
	}
	if rs.setCalls != 1 {
		t.Errorf("SetTyping called %d times inside one window, want 1", rs.setCalls)
	}
	if users := typingUsers(t, rs, "c1"); len(users) != 1 || users[0] != "alice" {
		t.Errorf("typing = %v, want [alice]", users)
	}
}

func TestStopTypingClearsImmediately(t *testing.T) {
	s, rs := newTestService(t)
	ctx := context.Background()

	s.StartTyping(ctx, "c1")
	s.StopTyping(ctx, "c1")
	if users := typingUsers(t, rs, "c1"); len(users) != 0 {
		t.Errorf("typing after stop = %v, want empty", users)
	}

	// The window re-arms: the next keystroke writes again.
	s.StartTyping(ctx, "c1")
	if rs.setCalls != 2 {
		t.Errorf("SetTyping called %d times, want 2 after re-arm", rs.setCalls)
	}
}

func TestMarkerExpiresWithoutStop(t *testing.T) {
	s, rs := newTestService(t)
	s.window = 30 * time.Millisecond

	s.StartTyping(context.Background(), "c1")
	if users := typingUsers(t, rs, "c1"); len(users) != 1 {
		t.Fatalf("typing = %v, want [alice]", users)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(typingUsers(t, rs, "c1")) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("marker never expired on its own")
}

// TestDisconnectClearsMarker simulates the client dying mid-keystroke: the
// hook registered with the store clears the marker server-side.
func TestDisconnectClearsMarker(t *testing.T) {
	s, rs := newTestService(t)

	s.StartTyping(context.Background(), "c1")
	rs.FireDisconnect("alice")

	if users := typingUsers(t, rs, "c1"); len(users) != 0 {
		t.Errorf("typing after disconnect = %v, want empty", users)
	}
}

// TestObserveKeepsLatestSnapshot: with a full observer buffer, the newest
// snapshot wins. The final empty set must reach a slow consumer or they
// render a typist who already stopped.
func TestObserveKeepsLatestSnapshot(t *testing.T) {
	s, rs := newTestService(t)
	ctx := context.Background()

	ch, unsub := s.Observe("c1", 1)
	defer unsub()

	if err := rs.SetTyping(ctx, "c1", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := rs.ClearTyping(ctx, "c1", "bob"); err != nil {
		t.Fatal(err)
	}

	// Let the forwarder process both snapshots while nobody reads: the
	// one-slot buffer forces the eviction path.
	time.Sleep(100 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case users := <-ch:
			if len(users) == 0 {
				return
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatal("final empty snapshot never delivered")
}

func TestFormat(t *testing.T) {
	cases := []struct {
		names []string
		want  string
	}{
		{nil, ""},
		{[]string{"ana"}, "ana is typing..."},
		{[]string{"ana", "bia"}, "ana and bia are typing..."},
		{[]string{"ana", "bia", "caio"}, "ana, bia and caio are typing..."},
		{[]string{"ana", "bia", "caio", "duda"}, "ana, bia and 2 others are typing..."},
		{[]string{"a", "b", "c", "d", "e", "f"}, "a, b and 4 others are typing..."},
	}
	for _, tc := range cases {
		if got := Format(tc.names); got != tc.want {
			t.Errorf("Format(%v) = %q, want %q", tc.names, got, tc.want)
		}
	}
}
