package provider

import (
	"context"
	"fmt"
)

// Tags identifying the available backends.
const (
	TagOpenRouter = "openrouter"
	TagOllama     = "ollama"
)

// Options controls a single completion call.
type Options struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion is the result of a generation call.
type Completion struct {
	Content string
	Usage   Usage
}

// Provider is the uniform call contract over interchangeable AI backends.
// Implementations are selected by tag at call time, never by subclassing.
type Provider interface {
	// GenerateCompletion sends the prompt to the backend and returns the
	// generated content plus token usage.
	GenerateCompletion(ctx context.Context, prompt string, opts Options) (Completion, error)

	// Name returns the provider tag.
	Name() string
}

// Config holds connection settings for all known backends.
type Config struct {
	OpenRouterAPIKey  string
	OpenRouterBaseURL string // "" means the public API
	OllamaBaseURL     string
}

// New returns the Provider for the given tag.
func New(tag string, cfg Config) (Provider, error) {
	switch tag {
	case TagOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter provider requires an API key")
		}
		if cfg.OpenRouterBaseURL != "" {
			return NewOpenRouterWithBaseURL(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL), nil
		}
		return NewOpenRouter(cfg.OpenRouterAPIKey), nil
	case TagOllama:
		return NewOllama(cfg.OllamaBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", tag)
	}
}
