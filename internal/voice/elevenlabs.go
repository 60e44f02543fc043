package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/keeva/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	HTTPBaseURL  string
	STTModelID   string
	Locale       string
	TTSVoiceID   string
	TTSModelID   string
	OutputFormat string
}

// ElevenLabsProvider implements Recognizer over the realtime websocket
// API and Synthesizer over the plain HTTP endpoint. Synthesis requests a
// PCM output format so segments can be wrapped into WAV files locally.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.HTTPBaseURL) == "" {
		cfg.HTTPBaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v1"
	}
	if strings.TrimSpace(cfg.TTSModelID) == "" {
		cfg.TTSModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "pcm_16000"
	}
	return &ElevenLabsProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *ElevenLabsProvider) StartSession(ctx context.Context, _ string) (RecognizerSession, <-chan TranscriptEvent, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/speech-to-text/realtime")
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.STTModelID)
	q.Set("commit_strategy", "vad")
	q.Set("include_vad_scores", "true")
	if loc := strings.TrimSpace(p.cfg.Locale); loc != "" {
		// The realtime API expects a bare language code, not a BCP 47 tag.
		q.Set("language_code", strings.SplitN(loc, "-", 2)[0])
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial recognizer websocket: %w", err)
	}

	events := make(chan TranscriptEvent, 256)
	s := &elevenRecognizerSession{conn: conn, events: events}
	go s.readLoop()
	return s, events, nil
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string, settings SynthesisSettings) ([]byte, int, error) {
	voiceID := strings.TrimSpace(p.cfg.TTSVoiceID)
	if voiceID == "" {
		return nil, 0, fmt.Errorf("voice_id is required")
	}

	stability := clampSetting(settings.Stability, 0.42, 0, 1)
	similarity := clampSetting(settings.SimilarityBoost, 0.85, 0, 1)
	speed := clampSetting(settings.Speed, 1.0, 0.7, 1.2)

	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": p.cfg.TTSModelID,
		"voice_settings": map[string]any{
			"stability":        stability,
			"similarity_boost": similarity,
			"speed":            speed,
		},
	})
	if err != nil {
		return nil, 0, err
	}

	endpoint := strings.TrimRight(p.cfg.HTTPBaseURL, "/") +
		"/v1/text-to-speech/" + url.PathEscape(voiceID) +
		"?output_format=" + url.QueryEscape(p.cfg.OutputFormat)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("xi-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("synthesize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, 0, fmt.Errorf("synthesize status %d (retryable): %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		return nil, 0, fmt.Errorf("synthesize status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read synthesis body: %w", err)
	}
	return pcm, sampleRateForFormat(p.cfg.OutputFormat), nil
}

func sampleRateForFormat(format string) int {
	if idx := strings.LastIndex(format, "_"); idx >= 0 {
		if rate, err := strconv.Atoi(format[idx+1:]); err == nil && rate > 0 {
			return rate
		}
	}
	return 16000
}

func clampSetting(v, def, min, max float64) float64 {
	if v <= 0 {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

type elevenRecognizerSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan TranscriptEvent
}

func (s *elevenRecognizerSession) SendAudioChunk(_ context.Context, audioBase64 string, sampleRate int, commit bool) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	payload := map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": audioBase64,
		"commit":        commit,
		"sample_rate":   sampleRate,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

// readLoop is the sole sender on events and closes the channel when the
// connection drops. A stalled consumer loses events instead of blocking
// the read loop.
func (s *elevenRecognizerSession) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		messageType := asString(raw["message_type"])
		switch messageType {
		case "partial_transcript":
			s.trySend(TranscriptEvent{
				Type:       TranscriptEventPartial,
				Text:       asString(raw["text"]),
				SoundLevel: asFloat(raw["vad_score"]),
				Timestamp:  time.Now().UnixMilli(),
			})
		case "committed_transcript", "committed_transcript_with_timestamps":
			s.trySend(TranscriptEvent{
				Type:       TranscriptEventFinal,
				Text:       asString(raw["text"]),
				SoundLevel: asFloat(raw["vad_score"]),
				Timestamp:  time.Now().UnixMilli(),
			})
		case "vad_score":
			s.trySend(TranscriptEvent{
				Type:       TranscriptEventPartial,
				SoundLevel: asFloat(raw["vad_score"]),
				Timestamp:  time.Now().UnixMilli(),
			})
		case "session_started":
			// ignore control event
		case "", "input_audio_chunk":
			// ignore
		default:
			s.trySend(TranscriptEvent{
				Type:      TranscriptEventError,
				Code:      messageType,
				Detail:    asString(raw["error"]),
				Retryable: reliability.IsRetryableRealtimeMessageType(messageType),
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}

func (s *elevenRecognizerSession) trySend(ev TranscriptEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *elevenRecognizerSession) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
	})
	return retErr
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}
