// Package provider abstracts the embedding and completion services the
// engine depends on. Three providers ship with hippocampus: a native
// deterministic hash embedder (no network, no completer), an OpenAI
// client, and an Ollama client for local models.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable marks provider failures: the service could not be
// reached or answered with garbage. Requests that need the provider fail
// with it; callers map it to a gateway error at the HTTP boundary.
var ErrUnavailable = errors.New("provider unavailable")

// Embedder turns text into vectors. Implementations must be safe for
// concurrent use and must return vectors of exactly Dimensions() values.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Completer runs one prompt through a language model and returns the raw
// text of the reply. The extractor asks for strict JSON via the system
// prompt and tolerates anything else.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Name() string
}

// Config selects and tunes the providers. Embedder and Completer are
// selected independently so a local embedder can pair with a hosted
// extractor, or extraction can be switched off entirely.
type Config struct {
	// Embedder is one of "native", "openai", "ollama".
	Embedder string `yaml:"embedder"`
	// Completer is one of "none", "openai", "ollama". Empty means none:
	// ingestion falls back to storing raw input.
	Completer string `yaml:"completer"`

	Native NativeConfig `yaml:"native"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Ollama OllamaConfig `yaml:"ollama"`
}

// NativeConfig tunes the built-in hash embedder.
type NativeConfig struct {
	Dimensions int `yaml:"dimensions"`
}

// OpenAIConfig tunes the OpenAI provider. BaseURL may point at any
// OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	EmbedModel string `yaml:"embed_model"`
	ChatModel  string `yaml:"chat_model"`
	Dimensions int    `yaml:"dimensions"`
}

// OllamaConfig tunes the Ollama provider.
type OllamaConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	EmbedModel string        `yaml:"embed_model"`
	ChatModel  string        `yaml:"chat_model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a config that works offline: native embeddings,
// no completer.
func DefaultConfig() Config {
	return Config{
		Embedder:  "native",
		Completer: "none",
		Native:    NativeConfig{Dimensions: DefaultNativeDimensions},
		OpenAI: OpenAIConfig{
			EmbedModel: "text-embedding-3-small",
			ChatModel:  "gpt-4o-mini",
			Dimensions: 1536,
		},
		Ollama: OllamaConfig{
			Endpoint:   "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			ChatModel:  "llama3.1",
			Dimensions: 768,
			Timeout:    30 * time.Second,
		},
	}
}

// NewEmbedder builds the embedder named by cfg.Embedder. Remote
// providers are wrapped in a circuit breaker.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Embedder) {
	case "", "native":
		return NewNative(cfg.Native.Dimensions), nil
	case "openai":
		return BreakEmbedder(NewOpenAI(cfg.OpenAI)), nil
	case "ollama":
		return BreakEmbedder(NewOllama(cfg.Ollama)), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider: %q", cfg.Embedder)
	}
}

// NewCompleter builds the completer named by cfg.Completer. "none" (or
// empty) returns nil: the extractor then always falls back to raw input.
func NewCompleter(cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.Completer) {
	case "", "none", "native":
		return nil, nil
	case "openai":
		return BreakCompleter(NewOpenAI(cfg.OpenAI)), nil
	case "ollama":
		return BreakCompleter(NewOllama(cfg.Ollama)), nil
	default:
		return nil, fmt.Errorf("unknown completer provider: %q", cfg.Completer)
	}
}
