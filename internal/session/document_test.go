package session

import (
	"reflect"
	"testing"
	"time"
)

func TestDocumentRoundTrip(t *testing.T) {
	start := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	original := &Record{
		ID:             "rec-1",
		UserID:         "u1",
		CompanionID:    "c1",
		ConversationID: "conv1",
		StartTime:      start,
		EndTime:        start.Add(42 * time.Second),
		Status:         StatusCompleted,
		LastActivityAt: start,
		Fragments: []Fragment{
			{Speaker: SpeakerUser, Text: "hello there", At: start},
			{Speaker: SpeakerCompanion, Text: "hi! lovely to hear you", At: start},
		},
	}

	doc := ToDocument(original, "a short summary", 0.31)
	back, summary, efficiency, err := FromDocument(doc)
	if err != nil {
		t.Fatalf("FromDocument() error = %v", err)
	}
	if summary != "a short summary" {
		t.Fatalf("summary = %q", summary)
	}
	if efficiency != 0.31 {
		t.Fatalf("efficiency = %v, want 0.31", efficiency)
	}
	if !reflect.DeepEqual(back, original) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", back, original)
	}

	again := ToDocument(back, summary, efficiency)
	if !reflect.DeepEqual(again, doc) {
		t.Fatalf("document round trip mismatch:\n got %+v\nwant %+v", again, doc)
	}
}

func TestToDocumentOmitsSummaryWhenEmpty(t *testing.T) {
	r := NewRecord("u1", "c1", "conv1")
	doc := ToDocument(r, "", 0)
	if doc.Metadata.ConversationSummary != nil {
		t.Fatalf("ConversationSummary = %v, want nil", *doc.Metadata.ConversationSummary)
	}
	if doc.Metadata.TokenEfficiency != nil {
		t.Fatalf("TokenEfficiency = %v, want nil", *doc.Metadata.TokenEfficiency)
	}
	if doc.Type != "voice" {
		t.Fatalf("Type = %q, want voice", doc.Type)
	}
}

func TestFromDocumentRejectsMalformed(t *testing.T) {
	if _, _, _, err := FromDocument(Document{}); err == nil {
		t.Fatalf("FromDocument(empty) should fail")
	}
	doc := Document{ID: "x", Type: "voice", Message: []string{"narrator: nope"}}
	if _, _, _, err := FromDocument(doc); err == nil {
		t.Fatalf("FromDocument with unknown speaker should fail")
	}
}
