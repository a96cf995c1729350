// Package ai is the contract with the AI collaborator: opaque
// request/response RPCs keyed by message text or conversation ID. Failures
// always degrade to neutral results and never block message delivery.
package ai

import (
	"context"

	"go.uber.org/zap"
)

// Client is implemented by the hosted AI service adapter.
type Client interface {
	Categorize(ctx context.Context, text string) (string, error)
	Sentiment(ctx context.Context, text string) (string, error)
	SuggestReplies(ctx context.Context, conversationID, lastMessage string) ([]string, error)
}

// Noop returns neutral results for every call. Used when no AI backend is
// configured.
type Noop struct{}

func (Noop) Categorize(context.Context, string) (string, error) { return "", nil }
func (Noop) Sentiment(context.Context, string) (string, error)  { return "neutral", nil }
func (Noop) SuggestReplies(context.Context, string, string) ([]string, error) {
	return nil, nil
}

// Graceful wraps a Client so that errors are logged and swallowed, returning
// the neutral result instead.
type Graceful struct {
	Inner  Client
	Logger *zap.Logger
}

func (g Graceful) Categorize(ctx context.Context, text string) (string, error) {
	out, err := g.Inner.Categorize(ctx, text)
	if err != nil {
		g.log("categorize", err)
		return "", nil
	}
	return out, nil
}

func (g Graceful) Sentiment(ctx context.Context, text string) (string, error) {
	out, err := g.Inner.Sentiment(ctx, text)
	if err != nil {
		g.log("sentiment", err)
		return "neutral", nil
	}
	return out, nil
}

func (g Graceful) SuggestReplies(ctx context.Context, conversationID, lastMessage string) ([]string, error) {
	out, err := g.Inner.SuggestReplies(ctx, conversationID, lastMessage)
	if err != nil {
		g.log("suggest_replies", err)
		return nil, nil
	}
	return out, nil
}

func (g Graceful) log(op string, err error) {
	if g.Logger != nil {
		g.Logger.Warn("ai call degraded", zap.String("op", op), zap.Error(err))
	}
}
