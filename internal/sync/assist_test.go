package sync

import (
	"context"
	"testing"

	"github.com/thiagokf/chatd/internal/identity"
	"github.com/thiagokf/chatd/internal/remote/memremote"
	"github.com/thiagokf/chatd/internal/store"
)

type stubAI struct {
	lastText string
}

func (s *stubAI) Categorize(_ context.Context, text string) (string, error) {
	s.lastText = text
	return "question", nil
}

func (s *stubAI) Sentiment(_ context.Context, text string) (string, error) {
	return "positive", nil
}

func (s *stubAI) SuggestReplies(_ context.Context, _, lastMessage string) ([]string, error) {
	s.lastText = lastMessage
	return []string{"thanks!", "on it"}, nil
}

func TestSuggestRepliesUsesConversationPreview(t *testing.T) {
	e, _, db := newTestEngine(t, memremote.New(), "alice", identity.RoleCreator)
	stub := &stubAI{}
	e.ai = stub

	if err := db.UpsertConversation(&store.Conversation{
		ID:              "c1",
		ParticipantIDs:  []string{"alice", "bob"},
		LastMessageText: "when is the next stream?",
	}); err != nil {
		t.Fatal(err)
	}

	replies, err := e.SuggestReplies(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(replies) != 2 {
		t.Fatalf("replies = %v, want 2 suggestions", replies)
	}
	if stub.lastText != "when is the next stream?" {
		t.Errorf("suggested from %q, want the conversation preview", stub.lastText)
	}
}

func TestAnalyzeMessageSkipsSystem(t *testing.T) {
	e, _, db := newTestEngine(t, memremote.New(), "alice", identity.RoleCreator)
	stub := &stubAI{}
	e.ai = stub

	msgs := []*store.Message{
		{ID: "m1", ConversationID: "c1", SenderID: "bob", Text: "love the show", LocalCreatedAt: 1000},
		{ID: "m2", ConversationID: "c1", Text: "bob joined", LocalCreatedAt: 2000, IsSystem: true},
	}
	for _, m := range msgs {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	cat, sent, err := e.AnalyzeMessage(context.Background(), "c1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if cat != "question" || sent != "positive" {
		t.Errorf("analysis = (%s, %s), want stub results", cat, sent)
	}

	cat, sent, err = e.AnalyzeMessage(context.Background(), "c1", "m2")
	if err != nil {
		t.Fatal(err)
	}
	if cat != "" || sent != "neutral" {
		t.Errorf("system analysis = (%s, %s), want neutral skip", cat, sent)
	}
	if stub.lastText == "bob joined" {
		t.Error("system message text reached the AI client")
	}
}
