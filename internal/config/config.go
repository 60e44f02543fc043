package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the companion voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	SessionInactivityTimeout time.Duration

	// Turn detection.
	VoiceThreshold       float64
	SilenceTimeout       time.Duration
	PotentialSentenceWin time.Duration
	HotStateWindow       time.Duration
	FinalGraceWindow     time.Duration

	// Playback.
	InterItemGap time.Duration

	// Retry policy for recoverable recognition errors.
	RetryBackoffBase time.Duration
	RetryMaxAttempts int

	SpeechProvider      string
	RecognitionLocale   string
	ElevenLabsAPIKey    string
	ElevenLabsWSBaseURL string
	ElevenLabsAPIURL    string
	ElevenLabsSTTModel  string
	ElevenLabsTTSModel  string
	ElevenLabsTTSVoice  string

	BrainMode     string
	BrainHTTPURL  string
	GeminiAPIKey  string
	GeminiModelID string

	DatabaseURL       string
	ContextLoadLimit  int
	SummaryWordBudget int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "keeva"),
		AllowAnyOrigin:   false,

		SessionInactivityTimeout: 2 * time.Minute,

		VoiceThreshold:       0.30,
		SilenceTimeout:       800 * time.Millisecond,
		PotentialSentenceWin: 500 * time.Millisecond,
		HotStateWindow:       300 * time.Millisecond,
		FinalGraceWindow:     250 * time.Millisecond,

		InterItemGap: 500 * time.Millisecond,

		RetryBackoffBase: 2 * time.Second,
		RetryMaxAttempts: 2,

		SpeechProvider:      envOrDefault("SPEECH_PROVIDER", "auto"),
		RecognitionLocale:   envOrDefault("RECOGNITION_LOCALE", "en-US"),
		ElevenLabsAPIKey:    trimmedEnv("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsAPIURL:    envOrDefault("ELEVENLABS_API_URL", "https://api.elevenlabs.io"),
		ElevenLabsSTTModel:  envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v2_realtime"),
		ElevenLabsTTSModel:  envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsTTSVoice:  envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),

		BrainMode:     envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:  trimmedEnv("BRAIN_HTTP_URL"),
		GeminiAPIKey:  trimmedEnv("GEMINI_API_KEY"),
		GeminiModelID: envOrDefault("GEMINI_MODEL_ID", "gemini-2.0-flash"),

		DatabaseURL:       trimmedEnv("DATABASE_URL"),
		ContextLoadLimit:  8,
		SummaryWordBudget: 150,

		ShutdownTimeout: 15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceTimeout, err = durationFromEnv("TURN_SILENCE_TIMEOUT", cfg.SilenceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PotentialSentenceWin, err = durationFromEnv("TURN_POTENTIAL_SENTENCE_WINDOW", cfg.PotentialSentenceWin)
	if err != nil {
		return Config{}, err
	}
	cfg.HotStateWindow, err = durationFromEnv("TURN_HOT_STATE_WINDOW", cfg.HotStateWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.InterItemGap, err = durationFromEnv("PLAYBACK_INTER_ITEM_GAP", cfg.InterItemGap)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceThreshold, err = floatFromEnv("TURN_VOICE_THRESHOLD", cfg.VoiceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.RetryMaxAttempts, err = intFromEnv("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextLoadLimit, err = intFromEnv("CONTEXT_LOAD_LIMIT", cfg.ContextLoadLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.VoiceThreshold <= 0 || cfg.VoiceThreshold >= 1 {
		return Config{}, fmt.Errorf("TURN_VOICE_THRESHOLD must be in (0, 1)")
	}
	if cfg.SilenceTimeout <= 0 || cfg.HotStateWindow <= 0 || cfg.PotentialSentenceWin <= 0 {
		return Config{}, fmt.Errorf("turn detection windows must be positive")
	}
	if cfg.RetryMaxAttempts < 0 {
		return Config{}, fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 0")
	}
	if cfg.ContextLoadLimit <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_LOAD_LIMIT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
