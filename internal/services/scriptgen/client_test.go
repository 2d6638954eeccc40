package scriptgen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relato/internal/config"
	"relato/internal/services"
)

func completionResponse(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{
				"message": map[string]any{"content": content},
			},
		},
	}
}

func TestGenerateScriptSendsTranscript(t *testing.T) {
	var gotBody chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if err := json.NewEncoder(w).Encode(completionResponse("Una historia con [[PH_0]].")); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(config.LLM{APIKey: "test-key", BaseURL: server.URL, Model: "demo"})
	script, err := client.GenerateScript(context.Background(), "hola [[PH_0]] mundo", "Abuela")
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if script != "Una historia con [[PH_0]]." {
		t.Fatalf("script = %q", script)
	}

	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", gotBody.Messages)
	}
	user := gotBody.Messages[1].Content
	if !strings.Contains(user, "Abuela") || !strings.Contains(user, "hola [[PH_0]] mundo") {
		t.Fatalf("user content = %q", user)
	}
}

func TestGenerateScriptRetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := json.NewEncoder(w).Encode(completionResponse("listo")); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(config.LLM{APIKey: "test", BaseURL: server.URL, Model: "demo"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }))

	script, err := client.GenerateScript(context.Background(), "texto", "Abuela")
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if script != "listo" || calls != 3 {
		t.Fatalf("script = %q after %d calls", script, calls)
	}
	if len(slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(slept))
	}
	if slept[1] <= slept[0] {
		t.Fatalf("backoff did not grow: %v", slept)
	}
}

func TestGenerateScriptHonorsRetryAfter(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if err := json.NewEncoder(w).Encode(completionResponse("listo")); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(config.LLM{APIKey: "test", BaseURL: server.URL, Model: "demo"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }))

	if _, err := client.GenerateScript(context.Background(), "texto", "Abuela"); err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if len(slept) != 1 || slept[0] != 7*time.Second {
		t.Fatalf("slept %v, want [7s]", slept)
	}
}

func TestGenerateScriptExhaustionIsExternalCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(config.LLM{APIKey: "test", BaseURL: server.URL, Model: "demo"},
		WithRetryMaxAttempts(2),
		WithSleeper(func(time.Duration) {}))

	_, err := client.GenerateScript(context.Background(), "texto", "Abuela")
	if !errors.Is(err, services.ErrExternalCall) {
		t.Fatalf("expected ErrExternalCall, got %v", err)
	}
}

func TestGenerateScriptClientErrorIsPermanent(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(config.LLM{APIKey: "test", BaseURL: server.URL, Model: "demo"},
		WithSleeper(func(time.Duration) {}))

	_, err := client.GenerateScript(context.Background(), "texto", "Abuela")
	if err == nil {
		t.Fatal("expected failure")
	}
	if errors.Is(err, services.ErrExternalCall) {
		t.Fatalf("4xx must not classify as transient: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry)", calls)
	}
}

func TestGenerateScriptRequiresInput(t *testing.T) {
	client := NewClient(config.LLM{APIKey: "test", Model: "demo"})
	if _, err := client.GenerateScript(context.Background(), "   ", "Abuela"); err == nil {
		t.Fatal("expected error for empty transcript")
	}

	client = NewClient(config.LLM{Model: "demo"})
	if _, err := client.GenerateScript(context.Background(), "texto", "Abuela"); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
