package brain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPAdapterPlainJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello from brain"}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	var deltas []string
	resp, err := a.StreamResponse(context.Background(), MessageRequest{InputText: "hi"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.Text != "hello from brain" {
		t.Fatalf("resp.Text = %q", resp.Text)
	}
	if strings.Join(deltas, "") != "hello from brain" {
		t.Fatalf("deltas = %q", strings.Join(deltas, ""))
	}
}

func TestHTTPAdapterNDJSONStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{\"delta\":\"hel\"}\n{\"delta\":\"lo\"}\n{\"done\":true,\"text\":\"hello\"}\n"))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	var deltas []string
	resp, err := a.StreamResponse(context.Background(), MessageRequest{InputText: "hi"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("resp.Text = %q, want hello", resp.Text)
	}
	if strings.Join(deltas, "") != "hello" {
		t.Fatalf("deltas = %q, want hello", strings.Join(deltas, ""))
	}
}

func TestHTTPAdapterErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL)
	if _, err := a.StreamResponse(context.Background(), MessageRequest{InputText: "hi"}, nil); err == nil {
		t.Fatalf("expected error on 503")
	}
}
