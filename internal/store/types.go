package store

import (
	"context"
	"strings"
	"time"

	"github.com/ent0n29/keeva/internal/session"
)

// RawFragmentCap bounds how many raw fragments a persisted message may
// carry when no summary was produced. Summaries are always preferred for
// token economy; raw fragments are the fallback.
const RawFragmentCap = 5

// Message is the single artifact persisted per finished session.
type Message struct {
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id"`
	CompanionID     string        `json:"companion_id"`
	ConversationID  string        `json:"conversation_id"`
	Summary         string        `json:"summary,omitempty"`
	Fragments       []string      `json:"fragments,omitempty"`
	Stats           session.Stats `json:"stats"`
	TokenEfficiency float64       `json:"token_efficiency,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ContextLine returns the text future sessions should assemble from this
// message: the summary when present, otherwise the capped raw fragments.
func (m Message) ContextLine() string {
	if strings.TrimSpace(m.Summary) != "" {
		return m.Summary
	}
	n := len(m.Fragments)
	if n > RawFragmentCap {
		n = RawFragmentCap
	}
	return strings.Join(m.Fragments[:n], " / ")
}

// Store persists and retrieves per-session messages.
type Store interface {
	SaveMessage(ctx context.Context, msg Message) error
	RecentMessages(ctx context.Context, companionID, userID string, limit int) ([]Message, error)
	Close() error
}
