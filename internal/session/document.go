package session

import (
	"fmt"
	"strings"
	"time"
)

// Document is the external representation of a finished voice session, as
// consumed by the host application and the persistence boundary.
type Document struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	CompanionID    string           `json:"companion_id"`
	ConversationID string           `json:"conversation_id"`
	Message        []string         `json:"message"`
	CreatedAt      time.Time        `json:"created_at"`
	Type           string           `json:"type"`
	Metadata       DocumentMetadata `json:"metadata"`
}

type DocumentMetadata struct {
	VoiceSession        bool     `json:"voice_session"`
	SessionDuration     float64  `json:"session_duration"`
	FragmentsCount      int      `json:"fragments_count"`
	Status              string   `json:"status"`
	ConversationSummary *string  `json:"conversation_summary,omitempty"`
	TokenEfficiency     *float64 `json:"token_efficiency,omitempty"`
}

const documentType = "voice"

// ToDocument converts a record into its external form. Summary and token
// efficiency are optional; pass an empty summary to omit both.
func ToDocument(r *Record, summary string, tokenEfficiency float64) Document {
	doc := Document{
		ID:             r.ID,
		UserID:         r.UserID,
		CompanionID:    r.CompanionID,
		ConversationID: r.ConversationID,
		Message:        make([]string, 0, len(r.Fragments)),
		CreatedAt:      r.StartTime,
		Type:           documentType,
		Metadata: DocumentMetadata{
			VoiceSession:   true,
			FragmentsCount: len(r.Fragments),
			Status:         string(r.Status),
		},
	}
	if !r.EndTime.IsZero() {
		doc.Metadata.SessionDuration = r.EndTime.Sub(r.StartTime).Seconds()
	}
	for _, f := range r.Fragments {
		doc.Message = append(doc.Message, f.Speaker+": "+f.Text)
	}
	if strings.TrimSpace(summary) != "" {
		s := summary
		e := tokenEfficiency
		doc.Metadata.ConversationSummary = &s
		doc.Metadata.TokenEfficiency = &e
	}
	return doc
}

// FromDocument reconstructs a record from its external form. Per-fragment
// timestamps are not carried by the document, so every fragment is stamped
// with the document's creation time.
func FromDocument(doc Document) (*Record, string, float64, error) {
	if doc.ID == "" {
		return nil, "", 0, fmt.Errorf("document has no id")
	}
	if doc.Type != documentType {
		return nil, "", 0, fmt.Errorf("unexpected document type %q", doc.Type)
	}
	r := &Record{
		ID:             doc.ID,
		UserID:         doc.UserID,
		CompanionID:    doc.CompanionID,
		ConversationID: doc.ConversationID,
		StartTime:      doc.CreatedAt,
		Status:         Status(doc.Metadata.Status),
		LastActivityAt: doc.CreatedAt,
	}
	if doc.Metadata.SessionDuration > 0 {
		r.EndTime = doc.CreatedAt.Add(time.Duration(doc.Metadata.SessionDuration * float64(time.Second)))
	}
	for _, m := range doc.Message {
		speaker, text, found := strings.Cut(m, ": ")
		if !found || (speaker != SpeakerUser && speaker != SpeakerCompanion) {
			return nil, "", 0, fmt.Errorf("malformed message entry %q", m)
		}
		r.Fragments = append(r.Fragments, Fragment{Speaker: speaker, Text: text, At: doc.CreatedAt})
	}
	var (
		summary    string
		efficiency float64
	)
	if doc.Metadata.ConversationSummary != nil {
		summary = *doc.Metadata.ConversationSummary
	}
	if doc.Metadata.TokenEfficiency != nil {
		efficiency = *doc.Metadata.TokenEfficiency
	}
	return r, summary, efficiency, nil
}
