package voice

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewFailoverProviderPair builds recognizer/synthesizer providers that
// prefer the primary backend and automatically switch to fallback when a
// primary call fails. Once fallback succeeds, it stays active until
// fallback fails; then primary is retried.
func NewFailoverProviderPair(
	primaryRec Recognizer,
	primarySynth Synthesizer,
	fallbackRec Recognizer,
	fallbackSynth Synthesizer,
) (Recognizer, Synthesizer) {
	state := &failoverState{}
	return &failoverRecognizer{
			state:    state,
			primary:  primaryRec,
			fallback: fallbackRec,
		}, &failoverSynthesizer{
			state:    state,
			primary:  primarySynth,
			fallback: fallbackSynth,
		}
}

type failoverState struct {
	fallbackActive atomic.Bool
}

func (s *failoverState) activateFallback()      { s.fallbackActive.Store(true) }
func (s *failoverState) deactivateFallback()    { s.fallbackActive.Store(false) }
func (s *failoverState) isFallbackActive() bool { return s.fallbackActive.Load() }

type failoverRecognizer struct {
	state    *failoverState
	primary  Recognizer
	fallback Recognizer
}

func (p *failoverRecognizer) StartSession(ctx context.Context, sessionID string) (RecognizerSession, <-chan TranscriptEvent, error) {
	if p.state.isFallbackActive() {
		session, events, fbErr := p.fallback.StartSession(ctx, sessionID)
		if fbErr == nil {
			return session, events, nil
		}
		// Fallback failed after being active; try primary again.
		session, events, prErr := p.primary.StartSession(ctx, sessionID)
		if prErr == nil {
			p.state.deactivateFallback()
			return session, events, nil
		}
		return nil, nil, fmt.Errorf("recognizer fallback failed: %v; recognizer primary failed: %w", fbErr, prErr)
	}

	session, events, prErr := p.primary.StartSession(ctx, sessionID)
	if prErr == nil {
		return session, events, nil
	}

	session, events, fbErr := p.fallback.StartSession(ctx, sessionID)
	if fbErr != nil {
		return nil, nil, fmt.Errorf("recognizer primary failed: %v; recognizer fallback failed: %w", prErr, fbErr)
	}
	p.state.activateFallback()
	return session, events, nil
}

type failoverSynthesizer struct {
	state    *failoverState
	primary  Synthesizer
	fallback Synthesizer
}

func (p *failoverSynthesizer) Synthesize(ctx context.Context, text string, settings SynthesisSettings) ([]byte, int, error) {
	if p.state.isFallbackActive() {
		pcm, rate, fbErr := p.fallback.Synthesize(ctx, text, settings)
		if fbErr == nil {
			return pcm, rate, nil
		}
		// Fallback failed after being active; try primary again.
		pcm, rate, prErr := p.primary.Synthesize(ctx, text, settings)
		if prErr == nil {
			p.state.deactivateFallback()
			return pcm, rate, nil
		}
		return nil, 0, fmt.Errorf("synthesizer fallback failed: %v; synthesizer primary failed: %w", fbErr, prErr)
	}

	pcm, rate, prErr := p.primary.Synthesize(ctx, text, settings)
	if prErr == nil {
		return pcm, rate, nil
	}
	pcm, rate, fbErr := p.fallback.Synthesize(ctx, text, settings)
	if fbErr != nil {
		return nil, 0, fmt.Errorf("synthesizer primary failed: %v; synthesizer fallback failed: %w", prErr, fbErr)
	}
	p.state.activateFallback()
	return pcm, rate, nil
}
