package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/keeva/internal/brain"
	"github.com/ent0n29/keeva/internal/session"
)

type fixedAdapter struct {
	reply string
	err   error
}

func (a *fixedAdapter) StreamResponse(_ context.Context, _ brain.MessageRequest, onDelta brain.DeltaHandler) (brain.MessageResponse, error) {
	if a.err != nil {
		return brain.MessageResponse{}, a.err
	}
	if err := onDelta(a.reply); err != nil {
		return brain.MessageResponse{}, err
	}
	return brain.MessageResponse{Text: a.reply}, nil
}

func sessionWith(fragments ...string) *session.Record {
	rec := session.NewRecord("u1", "c1", "conv1")
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	speaker := session.SpeakerUser
	for _, text := range fragments {
		if err := rec.Append(speaker, text, at); err != nil {
			panic(err)
		}
		if speaker == session.SpeakerUser {
			speaker = session.SpeakerCompanion
		} else {
			speaker = session.SpeakerUser
		}
		at = at.Add(5 * time.Second)
	}
	return rec
}

func TestCompressDiscardsShortSessions(t *testing.T) {
	c := NewCompressor(&fixedAdapter{reply: "should not be used"}, 150)

	cases := []struct {
		name string
		rec  *session.Record
	}{
		{"empty", sessionWith()},
		{"single fragment", sessionWith("hello there friend")},
		{"only filler", sessionWith("hi", "ok", "no")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := c.Compress(context.Background(), tc.rec, "")
			if !res.Discarded {
				t.Fatalf("Compress() Discarded = false, want true")
			}
			if res.Summary != "" {
				t.Fatalf("Compress() produced summary %q for discarded session", res.Summary)
			}
		})
	}
}

func TestRawSkipsModel(t *testing.T) {
	c := NewCompressor(&fixedAdapter{reply: "should not be used"}, 150)

	res := c.Raw(sessionWith("I started a pottery class", "That sounds creative, how was it"))
	if res.Discarded {
		t.Fatalf("Raw() Discarded = true, want false")
	}
	if res.Summary != "" {
		t.Fatalf("Raw() Summary = %q, want empty", res.Summary)
	}
	if len(res.Fragments) != 2 {
		t.Fatalf("Raw() Fragments = %v, want both lines", res.Fragments)
	}

	if short := c.Raw(sessionWith("hello there friend")); !short.Discarded {
		t.Fatalf("Raw() Discarded = false for single-fragment session")
	}
}

func TestCompressUsesModelReply(t *testing.T) {
	c := NewCompressor(&fixedAdapter{reply: "They chatted about travel plans."}, 150)
	rec := sessionWith("I want to visit Lisbon next spring", "That sounds wonderful, tell me more")

	res := c.Compress(context.Background(), rec, "warm companion")
	if res.Discarded {
		t.Fatalf("Compress() Discarded = true for meaningful session")
	}
	if res.Summary != "They chatted about travel plans." {
		t.Fatalf("Compress() Summary = %q", res.Summary)
	}
	if res.TokenEfficiency <= 0 || res.TokenEfficiency >= 1 {
		t.Fatalf("Compress() TokenEfficiency = %v, want in (0,1)", res.TokenEfficiency)
	}
	if len(res.Fragments) != 2 {
		t.Fatalf("Compress() kept %d fragments, want 2", len(res.Fragments))
	}
}

func TestCompressFallsBackWhenModelFails(t *testing.T) {
	c := NewCompressor(&fixedAdapter{err: errors.New("model down")}, 150)
	rec := sessionWith("my knee has been hurting", "I'm sorry to hear that, rest helps")

	res := c.Compress(context.Background(), rec, "")
	if res.Discarded {
		t.Fatalf("Compress() Discarded = true, want fallback summary")
	}
	if !strings.Contains(res.Summary, "my knee has been hurting") {
		t.Fatalf("Compress() fallback summary = %q, want user fragment included", res.Summary)
	}
}

func TestCompressCapsWordBudget(t *testing.T) {
	long := strings.Repeat("word ", 400)
	c := NewCompressor(&fixedAdapter{reply: long}, 150)
	rec := sessionWith("tell me a very long story", "once upon a time in a far land")

	res := c.Compress(context.Background(), rec, "")
	if got := len(strings.Fields(res.Summary)); got > 150 {
		t.Fatalf("Compress() summary has %d words, want <= 150", got)
	}
}

func TestCompressNilAdapterUsesFallback(t *testing.T) {
	c := NewCompressor(nil, 150)
	rec := sessionWith("good morning to you", "good morning, how did you sleep")

	res := c.Compress(context.Background(), rec, "")
	if res.Discarded || res.Summary == "" {
		t.Fatalf("Compress() = %+v, want fallback summary", res)
	}
}
