package sync

import (
	"context"
	"fmt"
)

// SuggestReplies proposes quick replies for the most recent message in a
// conversation. Degrades to no suggestions when the AI backend is down.
func (e *Engine) SuggestReplies(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := e.db.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}
	if conv.LastMessageText == "" {
		return nil, nil
	}
	return e.ai.SuggestReplies(ctx, conversationID, conv.LastMessageText)
}

// AnalyzeMessage categorizes one message and reads its sentiment, for the
// creator's inbox triage view. System messages are never analyzed.
func (e *Engine) AnalyzeMessage(ctx context.Context, conversationID, messageID string) (category, sentiment string, err error) {
	msg, err := e.db.GetMessage(conversationID, messageID)
	if err != nil {
		return "", "", err
	}
	if msg == nil {
		return "", "", fmt.Errorf("message %s not found", messageID)
	}
	if msg.IsSystem {
		return "", "neutral", nil
	}
	category, err = e.ai.Categorize(ctx, msg.Text)
	if err != nil {
		return "", "", err
	}
	sentiment, err = e.ai.Sentiment(ctx, msg.Text)
	if err != nil {
		return "", "", err
	}
	return category, sentiment, nil
}
