package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no backend is
// configured, useful for development and tests.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error) {
	select {
	case <-ctx.Done():
		return MessageResponse{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return MessageResponse{}, err
		}
	}
	return MessageResponse{Text: text}, nil
}

func buildMockReply(req MessageRequest) string {
	base := strings.TrimSpace(req.InputText)
	if base == "" {
		return "I'm listening."
	}
	if strings.HasPrefix(base, "Summarize") || strings.HasPrefix(base, "summarize") {
		return "We talked briefly and warmly; nothing was left unresolved."
	}
	if len(req.ContextLines) > 0 {
		return fmt.Sprintf("Picking up where we left off: %s", base)
	}
	return fmt.Sprintf("I hear you: %s", base)
}
