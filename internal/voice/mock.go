package voice

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockProvider is a local fallback provider used when ElevenLabs is not configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartSession(_ context.Context, _ string) (RecognizerSession, <-chan TranscriptEvent, error) {
	events := make(chan TranscriptEvent, 64)
	s := &mockRecognizerSession{events: events}
	return s, events, nil
}

func (p *MockProvider) Synthesize(_ context.Context, text string, _ SynthesisSettings) ([]byte, int, error) {
	// Silence sized to roughly 60ms per word so playback pacing stays plausible.
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	const sampleRate = 16000
	samples := sampleRate * 60 * words / 1000
	return make([]byte, samples*2), sampleRate, nil
}

type mockRecognizerSession struct {
	mu     sync.Mutex
	events chan TranscriptEvent
	chunks int
	closed bool
}

func (s *mockRecognizerSession) SendAudioChunk(_ context.Context, audioBase64 string, _ int, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.chunks++
	if audioBase64 != "" {
		s.trySend(TranscriptEvent{Type: TranscriptEventPartial, Text: "...", SoundLevel: 0.6, Timestamp: time.Now().UnixMilli()})
	}
	if commit || s.chunks%8 == 0 {
		s.trySend(TranscriptEvent{Type: TranscriptEventFinal, Text: "simulated voice input", Timestamp: time.Now().UnixMilli()})
	}
	return nil
}

func (s *mockRecognizerSession) trySend(ev TranscriptEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *mockRecognizerSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
