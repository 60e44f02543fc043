package brain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiAdapter answers through the Gemini API. The client is created lazily
// so construction never fails and never needs a context.
type GeminiAdapter struct {
	apiKey  string
	modelID string

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiAdapter(apiKey, modelID string) *GeminiAdapter {
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.0-flash"
	}
	return &GeminiAdapter{apiKey: apiKey, modelID: modelID}
}

func (a *GeminiAdapter) StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error) {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return MessageResponse{}, err
	}

	var cfg *genai.GenerateContentConfig
	if strings.TrimSpace(req.Persona) != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{
				Parts: []*genai.Part{{Text: req.Persona}},
			},
		}
	}

	resp, err := client.Models.GenerateContent(ctx, a.modelID, genai.Text(buildPrompt(req)), cfg)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return MessageResponse{}, err
		}
	}
	return MessageResponse{Text: text}, nil
}

func (a *GeminiAdapter) ensureClient(ctx context.Context) (*genai.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  a.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	a.client = client
	return client, nil
}

func buildPrompt(req MessageRequest) string {
	if len(req.ContextLines) == 0 {
		return req.InputText
	}
	var b strings.Builder
	b.WriteString("Recent conversation context:\n")
	for _, line := range req.ContextLines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("\nUser: ")
	b.WriteString(req.InputText)
	return b.String()
}
