// Package config loads runtime configuration from the platform backend,
// environment variables, and the platform secret store.
package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Pipeline PipelineConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string // optional bearer token for the HTTP API
}

type ProviderConfig struct {
	Default           string // "openrouter" or "ollama"
	Model             string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OllamaBaseURL     string
}

type PipelineConfig struct {
	ContextMode     string // "full" or "compact"
	SkipValidation  bool
	ReferenceTokens int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Provider: ProviderConfig{
			Default:       "openrouter",
			Model:         "anthropic/claude-sonnet-4",
			OllamaBaseURL: "http://localhost:11434",
		},
		Pipeline: PipelineConfig{
			ContextMode:     "full",
			ReferenceTokens: 1500,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.loom.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/loom/config.json
// and secrets must be provided via environment variables.
//
// Environment variables (LOOM_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for API key if still empty.
	if cfg.Provider.OpenRouterAPIKey == "" {
		if key, err := kc.Get("loom", "openrouter_api_key"); err == nil && key != "" {
			cfg.Provider.OpenRouterAPIKey = key
		}
	}

	// The key is only required when OpenRouter is the default backend;
	// Ollama-only setups run without one.
	if cfg.Provider.Default == "openrouter" && cfg.Provider.OpenRouterAPIKey == "" {
		msg := "missing required config: OpenRouter API key. " +
			"Set it via environment variable LOOM_OPENROUTER_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	switch cfg.Pipeline.ContextMode {
	case "full", "compact":
	default:
		return Config{}, fmt.Errorf("invalid pipeline.context_mode %q (must be full or compact)", cfg.Pipeline.ContextMode)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
