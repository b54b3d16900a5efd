package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestNewFactory(t *testing.T) {
	p, err := New(TagOpenRouter, Config{OpenRouterAPIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New(openrouter): %v", err)
	}
	if p.Name() != TagOpenRouter {
		t.Errorf("name = %q", p.Name())
	}

	if _, err := New(TagOpenRouter, Config{}); err == nil {
		t.Error("openrouter without API key accepted")
	}

	p, err = New(TagOllama, Config{})
	if err != nil {
		t.Fatalf("New(ollama): %v", err)
	}
	if p.Name() != TagOllama {
		t.Errorf("name = %q", p.Name())
	}

	if _, err := New("anthropic-direct", Config{}); err == nil {
		t.Error("unknown tag accepted")
	}
}

func TestOpenRouterGenerateCompletion(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "generated"}}], "usage": {"prompt_tokens": 10, "completion_tokens": 20}}`)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("sk-test", srv.URL)
	result, err := c.GenerateCompletion(context.Background(), "write something", Options{
		Model:        "test-model",
		Temperature:  0.7,
		MaxTokens:    100,
		SystemPrompt: "you are terse",
	})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if result.Content != "generated" {
		t.Errorf("content = %q", result.Content)
	}
	if result.Usage.PromptTokens != 10 || result.Usage.CompletionTokens != 20 {
		t.Errorf("usage = %+v", result.Usage)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "test-model" || gotReq.MaxTokens != 100 {
		t.Errorf("request = %+v", gotReq)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.Messages[1].Content != "write something" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}

func TestOpenRouterRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("sk-test", srv.URL)
	result, err := c.GenerateCompletion(context.Background(), "p", Options{Model: "m"})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if result.Content != "ok" {
		t.Errorf("content = %q", result.Content)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOpenRouterDoesNotRetryServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("sk-test", srv.URL)
	if _, err := c.GenerateCompletion(context.Background(), "p", Options{Model: "m"}); err == nil {
		t.Fatal("server error did not surface")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want no retries on a 5xx", calls.Load())
	}
}

func TestOpenRouterUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"message": "model overloaded"}}`)
	}))
	defer srv.Close()

	c := NewOpenRouterWithBaseURL("sk-test", srv.URL)
	_, err := c.GenerateCompletion(context.Background(), "p", Options{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("err = %v", err)
	}
}

func TestOllamaGenerateCompletion(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, `{"message": {"role": "assistant", "content": "local output"}, "prompt_eval_count": 5, "eval_count": 9}`)
	}))
	defer srv.Close()

	c := NewOllama(srv.URL)
	result, err := c.GenerateCompletion(context.Background(), "prompt", Options{
		Model:       "llama3",
		Temperature: 0.5,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if result.Content != "local output" {
		t.Errorf("content = %q", result.Content)
	}
	if result.Usage.PromptTokens != 5 || result.Usage.CompletionTokens != 9 {
		t.Errorf("usage = %+v", result.Usage)
	}
	if gotReq.Stream {
		t.Error("request asked for streaming")
	}
	if gotReq.Options["num_predict"] != float64(256) {
		t.Errorf("options = %v", gotReq.Options)
	}
}

func TestOllamaErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "model not found"}`)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL).GenerateCompletion(context.Background(), "p", Options{Model: "missing"})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("err = %v", err)
	}
}

func TestOllamaIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"models": []}`)
	}))

	c := NewOllama(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("running server reported as down")
	}

	srv.Close()
	if c.IsRunning(context.Background()) {
		t.Error("closed server reported as up")
	}
}
