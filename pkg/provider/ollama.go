package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const ollamaMaxRetries = 3

// Ollama talks to a local Ollama daemon over its plain HTTP API. It
// implements both Embedder and Completer. Transient failures (network
// errors, 5xx) are retried with exponential backoff; client errors are
// not.
type Ollama struct {
	endpoint   string
	embedModel string
	chatModel  string
	dims       int
	client     *http.Client
}

// NewOllama builds an Ollama provider from cfg, filling gaps with the
// defaults of DefaultConfig.
func NewOllama(cfg OllamaConfig) *Ollama {
	def := DefaultConfig().Ollama
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = def.EmbedModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = def.ChatModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Ollama{
		endpoint:   cfg.Endpoint,
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
		dims:       cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

var (
	_ Embedder  = (*Ollama)(nil)
	_ Completer = (*Ollama)(nil)
)

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: o.embedModel, Prompt: text}
	if err := o.postJSON(ctx, "/api/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: ollama returned an empty embedding", ErrUnavailable)
	}
	out := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch embeds sequentially; the daemon serializes model access
// anyway, and order must match the input.
func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := o.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (o *Ollama) Complete(ctx context.Context, system, user string) (string, error) {
	var resp ollamaGenerateResponse
	req := ollamaGenerateRequest{
		Model:  o.chatModel,
		Prompt: user,
		System: system,
		Stream: false,
		Format: "json",
	}
	if err := o.postJSON(ctx, "/api/generate", req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (o *Ollama) Dimensions() int { return o.dims }

func (o *Ollama) Name() string { return "ollama" }

// postJSON posts the payload and decodes the reply, retrying transient
// failures. 4xx responses are permanent.
func (o *Ollama) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode ollama request: %w", err)
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("ollama %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode ollama response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newOllamaBackOff(), ollamaMaxRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func newOllamaBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
