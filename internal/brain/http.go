package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter forwards requests to a brain-compatible HTTP endpoint. The
// endpoint may answer with a plain JSON body or stream NDJSON deltas.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return &HTTPAdapter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (a *HTTPAdapter) StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return MessageResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return MessageResponse{}, fmt.Errorf("brain http status %d: %s", res.StatusCode, string(body))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "application/x-ndjson") || strings.Contains(ct, "text/event-stream") {
		return consumeStreaming(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("read response: %w", err)
	}
	var out MessageResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return MessageResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if onDelta != nil && strings.TrimSpace(out.Text) != "" {
		if err := onDelta(out.Text); err != nil {
			return MessageResponse{}, err
		}
	}
	return out, nil
}

type streamLine struct {
	Delta string `json:"delta"`
	Text  string `json:"text"`
	Done  bool   `json:"done"`
}

func consumeStreaming(body io.Reader, onDelta DeltaHandler) (MessageResponse, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		raw = strings.TrimPrefix(raw, "data:")
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "[DONE]" {
			continue
		}
		var line streamLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			continue
		}
		if line.Delta != "" {
			full.WriteString(line.Delta)
			if onDelta != nil {
				if err := onDelta(line.Delta); err != nil {
					return MessageResponse{}, err
				}
			}
		}
		if line.Done && line.Text != "" {
			return MessageResponse{Text: line.Text}, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return MessageResponse{}, fmt.Errorf("read stream: %w", err)
	}
	return MessageResponse{Text: full.String()}, nil
}
