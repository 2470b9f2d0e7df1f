package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientGenerateContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}

		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "duet-chat" {
			t.Errorf("unexpected model %q", req.Model)
		}

		_ = json.NewEncoder(w).Encode(completionResponse{
			Outputs: []string{"first", "second"},
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "test-key", "duet-chat", time.Second)

	outputs, err := client.GenerateContent(context.Background(), "a prompt")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(outputs) != 2 || outputs[0] != "first" || outputs[1] != "second" {
		t.Fatalf("unexpected outputs %v", outputs)
	}
}

func TestHTTPClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", "duet-chat", time.Second)

	if _, err := client.GenerateContent(context.Background(), "p"); !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", "duet-chat", 20*time.Millisecond)

	if _, err := client.GenerateContent(context.Background(), "p"); !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration on timeout, got %v", err)
	}
}

func TestHTTPClientRejectsInvalidOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionResponse{Outputs: []string{""}})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", "duet-chat", time.Second)

	if _, err := client.GenerateContent(context.Background(), "p"); !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration for blank output, got %v", err)
	}
}
