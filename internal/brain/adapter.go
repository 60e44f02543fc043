package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MessageRequest is the normalized request sent to the language-model
// backend, used both for conversational turns and session summaries.
type MessageRequest struct {
	UserID       string   `json:"user_id"`
	SessionID    string   `json:"session_id"`
	TurnID       string   `json:"turn_id"`
	InputText    string   `json:"input_text"`
	ContextLines []string `json:"context_lines,omitempty"`
	Persona      string   `json:"persona,omitempty"`
}

// MessageResponse is the final response after streaming deltas.
type MessageResponse struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Adapter bridges the session orchestrator with the language model.
type Adapter interface {
	StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error)
}

// Config controls adapter construction.
type Config struct {
	Mode          string
	HTTPURL       string
	GeminiAPIKey  string
	GeminiModelID string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("gemini api key is required for gemini mode")
		}
		return NewGeminiAdapter(cfg.GeminiAPIKey, cfg.GeminiModelID), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini := NewGeminiAdapter(cfg.GeminiAPIKey, cfg.GeminiModelID)
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewFallbackAdapter(gemini, NewHTTPAdapter(cfg.HTTPURL))
		}
		return NewFallbackAdapter(gemini, NewMockAdapter())
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewHTTPAdapter(cfg.HTTPURL)
	}
	return NewMockAdapter()
}
