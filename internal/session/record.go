package session

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusError       Status = "error"
)

const (
	SpeakerUser      = "user"
	SpeakerCompanion = "companion"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrNotActive = errors.New("session is not active")
)

// Fragment is one stored utterance within a record's ordered log.
type Fragment struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Record is the append-only log of one voice conversation. Fragments may
// only be appended while the record is active; once a terminal status is
// set the record is read-only history.
type Record struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	CompanionID    string         `json:"companion_id"`
	ConversationID string         `json:"conversation_id"`
	Fragments      []Fragment     `json:"fragments"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        time.Time      `json:"end_time"`
	Status         Status         `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	LastActivityAt time.Time `json:"-"`
}

func NewRecord(userID, companionID, conversationID string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:             uuid.NewString(),
		UserID:         userID,
		CompanionID:    companionID,
		ConversationID: conversationID,
		StartTime:      now,
		Status:         StatusActive,
		LastActivityAt: now,
	}
}

func (r *Record) Terminal() bool {
	return r.Status != StatusActive
}

// Append adds a fragment to the log. The record must still be active.
func (r *Record) Append(speaker, text string, at time.Time) error {
	if r.Terminal() {
		return ErrNotActive
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	r.Fragments = append(r.Fragments, Fragment{Speaker: speaker, Text: text, At: at})
	r.LastActivityAt = at
	return nil
}

// Finalize sets the terminal status and end time exactly once. Finalizing an
// already-terminal record is a no-op.
func (r *Record) Finalize(status Status, at time.Time) bool {
	if r.Terminal() {
		return false
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	r.Status = status
	r.EndTime = at
	return true
}

// MeaningfulFragments returns fragments whose trimmed text is longer than
// three characters. Sessions below two of these are discarded at the end.
func (r *Record) MeaningfulFragments() []Fragment {
	out := make([]Fragment, 0, len(r.Fragments))
	for _, f := range r.Fragments {
		if len(strings.TrimSpace(f.Text)) > 3 {
			out = append(out, f)
		}
	}
	return out
}

// LastUserFragmentAt returns the timestamp of the most recent user fragment.
func (r *Record) LastUserFragmentAt() (time.Time, bool) {
	for i := len(r.Fragments) - 1; i >= 0; i-- {
		if r.Fragments[i].Speaker == SpeakerUser {
			return r.Fragments[i].At, true
		}
	}
	return time.Time{}, false
}

// AmendLastUserFragment replaces the text of the most recent user fragment.
// Used when a provider-final transcript supersedes a hot-state promotion
// within the grace window.
func (r *Record) AmendLastUserFragment(text string) bool {
	if r.Terminal() {
		return false
	}
	for i := len(r.Fragments) - 1; i >= 0; i-- {
		if r.Fragments[i].Speaker == SpeakerUser {
			r.Fragments[i].Text = text
			return true
		}
	}
	return false
}

func clone(r *Record) *Record {
	c := *r
	c.Fragments = append([]Fragment(nil), r.Fragments...)
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
