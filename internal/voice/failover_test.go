package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type countingSynth struct {
	mu    sync.Mutex
	calls int
	err   error
	rate  int
}

func (s *countingSynth) Synthesize(_ context.Context, _ string, _ SynthesisSettings) ([]byte, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, 0, s.err
	}
	return []byte{0x00}, s.rate, nil
}

func (s *countingSynth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestFailoverSynthesizerSticksToFallback(t *testing.T) {
	primary := &countingSynth{err: errors.New("primary down"), rate: 16000}
	fallback := &countingSynth{rate: 22050}
	_, synth := NewFailoverProviderPair(NewMockProvider(), primary, NewMockProvider(), fallback)

	_, rate, err := synth.Synthesize(context.Background(), "hi", SynthesisSettings{})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if rate != 22050 {
		t.Fatalf("Synthesize() rate = %d, want fallback rate 22050", rate)
	}

	// Fallback stays active: primary is not retried on the next call.
	if _, _, err := synth.Synthesize(context.Background(), "hi again", SynthesisSettings{}); err != nil {
		t.Fatalf("Synthesize() second call error = %v", err)
	}
	if got := primary.callCount(); got != 1 {
		t.Fatalf("primary calls = %d, want 1", got)
	}
	if got := fallback.callCount(); got != 2 {
		t.Fatalf("fallback calls = %d, want 2", got)
	}
}

func TestFailoverSynthesizerRecoversPrimary(t *testing.T) {
	primary := &countingSynth{err: errors.New("primary down"), rate: 16000}
	fallback := &countingSynth{rate: 22050}
	_, synth := NewFailoverProviderPair(NewMockProvider(), primary, NewMockProvider(), fallback)

	if _, _, err := synth.Synthesize(context.Background(), "hi", SynthesisSettings{}); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	// Fallback starts failing while primary has recovered.
	fallback.mu.Lock()
	fallback.err = errors.New("fallback down")
	fallback.mu.Unlock()
	primary.mu.Lock()
	primary.err = nil
	primary.mu.Unlock()

	_, rate, err := synth.Synthesize(context.Background(), "hi again", SynthesisSettings{})
	if err != nil {
		t.Fatalf("Synthesize() after recovery error = %v", err)
	}
	if rate != 16000 {
		t.Fatalf("Synthesize() rate = %d, want primary rate 16000", rate)
	}

	// Primary is preferred again on subsequent calls.
	if _, _, err := synth.Synthesize(context.Background(), "once more", SynthesisSettings{}); err != nil {
		t.Fatalf("Synthesize() third call error = %v", err)
	}
	if got := fallback.callCount(); got != 2 {
		t.Fatalf("fallback calls = %d, want 2", got)
	}
}

func TestFailoverSynthesizerBothFail(t *testing.T) {
	primary := &countingSynth{err: errors.New("primary down")}
	fallback := &countingSynth{err: errors.New("fallback down")}
	_, synth := NewFailoverProviderPair(NewMockProvider(), primary, NewMockProvider(), fallback)

	if _, _, err := synth.Synthesize(context.Background(), "hi", SynthesisSettings{}); err == nil {
		t.Fatal("Synthesize() error = nil, want combined failure")
	}
}

type failingRecognizer struct {
	err error
}

func (r *failingRecognizer) StartSession(context.Context, string) (RecognizerSession, <-chan TranscriptEvent, error) {
	return nil, nil, r.err
}

func TestFailoverRecognizerFallsBack(t *testing.T) {
	rec, _ := NewFailoverProviderPair(
		&failingRecognizer{err: errors.New("primary down")}, NewMockProvider(),
		NewMockProvider(), NewMockProvider(),
	)

	sess, events, err := rec.StartSession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	defer sess.Close()
	if events == nil {
		t.Fatal("StartSession() events = nil")
	}
}
