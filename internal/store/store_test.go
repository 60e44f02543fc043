package store

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreRecentMessagesFiltersByPair(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := []Message{
		{SessionID: "s1", UserID: "u1", CompanionID: "c1", Summary: "first", CreatedAt: base},
		{SessionID: "s2", UserID: "u2", CompanionID: "c1", Summary: "other user", CreatedAt: base.Add(time.Minute)},
		{SessionID: "s3", UserID: "u1", CompanionID: "c1", Summary: "second", CreatedAt: base.Add(2 * time.Minute)},
		{SessionID: "s4", UserID: "u1", CompanionID: "c2", Summary: "other companion", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, m := range msgs {
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage(%s) error = %v", m.SessionID, err)
		}
	}

	got, err := s.RecentMessages(ctx, "c1", "u1", 10)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentMessages() returned %d messages, want 2", len(got))
	}
	if got[0].SessionID != "s1" || got[1].SessionID != "s3" {
		t.Fatalf("RecentMessages() order = [%s, %s], want chronological [s1, s3]", got[0].SessionID, got[1].SessionID)
	}
}

func TestInMemoryStoreRecentMessagesHonorsLimit(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.SaveMessage(ctx, Message{
			SessionID:   string(rune('a' + i)),
			UserID:      "u1",
			CompanionID: "c1",
			Summary:     "entry",
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("SaveMessage() error = %v", err)
		}
	}

	got, err := s.RecentMessages(ctx, "c1", "u1", 2)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentMessages(limit=2) returned %d messages", len(got))
	}
	// The two newest, oldest-first.
	if got[0].SessionID != "d" || got[1].SessionID != "e" {
		t.Fatalf("RecentMessages(limit=2) = [%s, %s], want [d, e]", got[0].SessionID, got[1].SessionID)
	}
}

func TestMessageContextLinePrefersSummary(t *testing.T) {
	m := Message{
		Summary:   "talked about the garden",
		Fragments: []string{"user: hello", "companion: hi"},
	}
	if got := m.ContextLine(); got != "talked about the garden" {
		t.Fatalf("ContextLine() = %q, want summary", got)
	}

	m.Summary = "  "
	got := m.ContextLine()
	if got != "user: hello / companion: hi" {
		t.Fatalf("ContextLine() = %q, want joined fragments", got)
	}
}

func TestMessageContextLineCapsFragments(t *testing.T) {
	m := Message{
		Fragments: []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7"},
	}
	if got := m.ContextLine(); got != "a1 / a2 / a3 / a4 / a5" {
		t.Fatalf("ContextLine() = %q, want first %d fragments", got, RawFragmentCap)
	}
}
