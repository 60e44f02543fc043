package voice

import "context"

type TranscriptEventType string

const (
	TranscriptEventPartial TranscriptEventType = "partial"
	TranscriptEventFinal   TranscriptEventType = "final"
	TranscriptEventError   TranscriptEventType = "error"
)

// TranscriptEvent is one streaming recognizer update: incremental text
// plus the microphone sound level sampled with it.
type TranscriptEvent struct {
	Type       TranscriptEventType
	Text       string
	SoundLevel float64
	Code       string
	Detail     string
	Retryable  bool
	Timestamp  int64
}

type RecognizerSession interface {
	SendAudioChunk(ctx context.Context, audioBase64 string, sampleRate int, commit bool) error
	Close() error
}

type Recognizer interface {
	StartSession(ctx context.Context, sessionID string) (RecognizerSession, <-chan TranscriptEvent, error)
}

type SynthesisSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// Synthesizer renders one playback segment to PCM16 mono samples.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, settings SynthesisSettings) (pcm []byte, sampleRate int, err error)
}
