// Package summary compresses a finished session into a short persisted
// context message so future sessions can recall the conversation without
// replaying every fragment.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/keeva/internal/brain"
	"github.com/ent0n29/keeva/internal/session"
)

// MinMeaningfulFragments is the floor below which a session is discarded:
// no summary is generated and nothing is persisted.
const MinMeaningfulFragments = 2

// Result is the outcome of compressing one session.
type Result struct {
	Discarded       bool
	Summary         string
	TokenEfficiency float64
	Fragments       []string
}

type Compressor struct {
	adapter    brain.Adapter
	wordBudget int
	timeout    time.Duration
}

func NewCompressor(adapter brain.Adapter, wordBudget int) *Compressor {
	if wordBudget <= 0 {
		wordBudget = 150
	}
	return &Compressor{
		adapter:    adapter,
		wordBudget: wordBudget,
		timeout:    20 * time.Second,
	}
}

// Compress summarizes the session's meaningful fragments. It never fails
// the session end: when the language model is unavailable it falls back
// to a templated digest built from the fragments themselves.
func (c *Compressor) Compress(ctx context.Context, rec *session.Record, persona string) Result {
	meaningful := rec.MeaningfulFragments()
	if len(meaningful) < MinMeaningfulFragments {
		return Result{Discarded: true}
	}

	lines := make([]string, 0, len(meaningful))
	for _, f := range meaningful {
		lines = append(lines, fmt.Sprintf("%s: %s", f.Speaker, f.Text))
	}
	joined := strings.Join(lines, "\n")

	text := c.generate(ctx, rec, persona, joined)
	if strings.TrimSpace(text) == "" {
		text = fallbackSummary(meaningful)
	}
	text = capWords(text, c.wordBudget)

	return Result{
		Summary:         text,
		TokenEfficiency: efficiency(text, joined),
		Fragments:       lines,
	}
}

// Raw applies the discard rule without asking the model for a summary;
// the fragment lines themselves become the persisted context.
func (c *Compressor) Raw(rec *session.Record) Result {
	meaningful := rec.MeaningfulFragments()
	if len(meaningful) < MinMeaningfulFragments {
		return Result{Discarded: true}
	}
	lines := make([]string, 0, len(meaningful))
	for _, f := range meaningful {
		lines = append(lines, fmt.Sprintf("%s: %s", f.Speaker, f.Text))
	}
	return Result{Fragments: lines}
}

func (c *Compressor) generate(ctx context.Context, rec *session.Record, persona, transcript string) string {
	if c.adapter == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var sb strings.Builder
	resp, err := c.adapter.StreamResponse(ctx, brain.MessageRequest{
		UserID:    rec.UserID,
		SessionID: rec.ID,
		InputText: summaryPrompt(c.wordBudget, transcript),
		Persona:   persona,
	}, func(delta string) error {
		sb.WriteString(delta)
		return nil
	})
	if err != nil {
		return ""
	}
	if text := strings.TrimSpace(sb.String()); text != "" {
		return text
	}
	return strings.TrimSpace(resp.Text)
}

func summaryPrompt(wordBudget int, transcript string) string {
	return fmt.Sprintf(`Summarize this voice conversation in at most %d words. Capture:
- topics discussed
- preferences or facts the user shared
- how the user seemed to feel
- any commitments or follow-ups either side made
Write in past tense, third person, plain prose.

Conversation:
%s`, wordBudget, transcript)
}

// fallbackSummary builds a deterministic digest when no model is reachable.
func fallbackSummary(fragments []session.Fragment) string {
	var userLines []string
	for _, f := range fragments {
		if f.Speaker == session.SpeakerUser {
			userLines = append(userLines, strings.TrimSpace(f.Text))
		}
	}
	if len(userLines) == 0 {
		for _, f := range fragments {
			userLines = append(userLines, strings.TrimSpace(f.Text))
		}
	}
	if len(userLines) > 3 {
		userLines = userLines[:3]
	}
	return fmt.Sprintf("Voice conversation with %d exchanges. The user said: %s.",
		len(fragments), strings.Join(userLines, "; "))
}

func capWords(text string, budget int) string {
	words := strings.Fields(text)
	if len(words) <= budget {
		return text
	}
	return strings.Join(words[:budget], " ")
}

// efficiency is the compression ratio of the summary against the joined
// transcript. Lower is better; 1.0 means no compression at all.
func efficiency(summary, joined string) float64 {
	if len(joined) == 0 {
		return 0
	}
	return float64(len(summary)) / float64(len(joined))
}
