// Package embed provides embedding clients for vecrank.
//
// This package supports multiple embedding providers:
//   - Ollama: Local open-source models (all-minilm, nomic-embed-text)
//   - OpenAI: Cloud API (text-embedding-3-small, text-embedding-3-large)
//
// Embeddings convert text into vectors; similar texts have similar vectors,
// which is what the similarity engine ranks on.
//
// Example Usage:
//
//	// Use local Ollama
//	embedder := embed.NewOllama(embed.DefaultOllamaConfig())
//
//	embedding, err := embedder.Embed(ctx, "console.log()")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Embedding dimensions: %d\n", len(embedding))
//	// Output: 384 (for all-minilm)
//
//	// Batch processing for efficiency
//	texts := []string{"memory", "storage", "database"}
//	embeddings, err := embedder.EmbedBatch(ctx, texts)
//
// ELI12 (Explain Like I'm 12):
//
// Embeddings are like a "smell" or "vibe" for text. Similar things have similar
// smells. "Cat" and "kitten" smell similar. "Cat" and "car" smell different.
//
// The computer represents each text as a list of numbers (a vector).
// When you search, it finds texts with similar number patterns (similar vibes).
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Errors
var (
	ErrUnknownProvider = errors.New("embed: unknown provider")
	ErrMissingAPIKey   = errors.New("embed: provider requires an API key")
	ErrEmptyResponse   = errors.New("embed: no embedding returned")
	ErrDimensions      = errors.New("embed: unexpected embedding dimensions")
	ErrBatchCount      = errors.New("embed: wrong number of vectors in batch")
)

// Provider names.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Embedder generates vector embeddings from text.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Embedder interface {
	// Embed generates embedding for single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimension, 0 if unknown
	Dimensions() int

	// Model returns the model name
	Model() string
}

// Config holds embedding provider configuration.
//
// Example:
//
//	config := &embed.Config{
//		Provider:   "ollama",
//		APIURL:     "http://192.168.1.100:11434",
//		Model:      "nomic-embed-text",
//		Dimensions: 768,
//		Timeout:    60 * time.Second,
//	}
type Config struct {
	Provider   string        // ollama, openai
	APIURL     string        // e.g., http://localhost:11434
	APIPath    string        // e.g., /api/embeddings or /v1/embeddings
	APIKey     string        // For OpenAI
	Model      string        // e.g., all-minilm
	Dimensions int           // Expected dimensions, checked when > 0
	Timeout    time.Duration // Request timeout
}

// DefaultOllamaConfig returns configuration for local Ollama with
// all-minilm, the 384-dimensional MiniLM sentence model.
//
// This assumes Ollama is running locally:
//
//	$ ollama pull all-minilm
//	$ ollama serve
func DefaultOllamaConfig() *Config {
	return &Config{
		Provider:   ProviderOllama,
		APIURL:     "http://localhost:11434",
		APIPath:    "/api/embeddings",
		Model:      "all-minilm",
		Dimensions: 384,
		Timeout:    30 * time.Second,
	}
}

// DefaultOpenAIConfig returns configuration for OpenAI's text-embedding-3-small.
func DefaultOpenAIConfig(apiKey string) *Config {
	return &Config{
		Provider:   ProviderOpenAI,
		APIURL:     "https://api.openai.com",
		APIPath:    "/v1/embeddings",
		APIKey:     apiKey,
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// checkDims validates a vector against the configured dimensions.
func checkDims(cfg *Config, v []float32) error {
	if len(v) == 0 {
		return ErrEmptyResponse
	}
	if cfg.Dimensions > 0 && len(v) != cfg.Dimensions {
		return fmt.Errorf("%w: got %d, want %d (model %s)", ErrDimensions, len(v), cfg.Dimensions, cfg.Model)
	}
	return nil
}

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url string, header http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// OllamaEmbedder implements Embedder for local Ollama models.
//
// Thread-safe: Can be used concurrently from multiple goroutines.
type OllamaEmbedder struct {
	config *Config
	client *http.Client
}

// NewOllama creates a new Ollama embedder.
//
// If config is nil, DefaultOllamaConfig() is used.
func NewOllama(config *Config) *OllamaEmbedder {
	if config == nil {
		config = DefaultOllamaConfig()
	}

	return &OllamaEmbedder{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// ollamaRequest is the request format for Ollama.
type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ollamaResponse is the response format from Ollama.
type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates a vector embedding for a single text string.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaResponse
	err := postJSON(ctx, e.client, e.config.APIURL+e.config.APIPath, nil,
		ollamaRequest{Model: e.config.Model, Prompt: text}, &resp)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if err := checkDims(e.config, resp.Embedding); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// EmbedBatch generates embeddings for multiple texts.
//
// The /api/embeddings endpoint takes one prompt, so this makes one request
// per text.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = embedding
	}
	return results, nil
}

// Dimensions returns the expected embedding dimensions.
func (e *OllamaEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Model returns the model name.
func (e *OllamaEmbedder) Model() string {
	return e.config.Model
}

// OpenAIEmbedder implements Embedder for OpenAI's embedding API.
//
// Thread-safe: Can be used concurrently from multiple goroutines.
type OpenAIEmbedder struct {
	config *Config
	client *http.Client
}

// NewOpenAI creates a new OpenAI embedder.
//
// If config is nil, DefaultOpenAIConfig("") is used (will fail without API key).
func NewOpenAI(config *Config) *OpenAIEmbedder {
	if config == nil {
		config = DefaultOpenAIConfig("")
	}

	return &OpenAIEmbedder{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// openaiRequest is the request format for OpenAI.
type openaiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// openaiResponse is the response format from OpenAI.
type openaiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed generates a vector embedding for a single text string.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single API call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.config.APIKey)

	var resp openaiResponse
	err := postJSON(ctx, e.client, e.config.APIURL+e.config.APIPath, header,
		openaiRequest{Model: e.config.Model, Input: texts}, &resp)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	// The API may return data out of order; index says where each belongs.
	results := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("openai: response index %d out of range", data.Index)
		}
		results[data.Index] = data.Embedding
	}
	for i, v := range results {
		if err := checkDims(e.config, v); err != nil {
			return nil, fmt.Errorf("openai: text %d: %w", i, err)
		}
	}
	return results, nil
}

// Dimensions returns the expected embedding dimensions.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Model returns the model name.
func (e *OpenAIEmbedder) Model() string {
	return e.config.Model
}

// NewEmbedder creates an embedder based on the provider specified in config.
func NewEmbedder(config *Config) (Embedder, error) {
	switch config.Provider {
	case ProviderOllama:
		return NewOllama(config), nil
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return NewOpenAI(config), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, config.Provider)
	}
}

// Func adapts a function to Embedder. Batches call fn once per text.
type Func struct {
	Name string
	Dims int
	Fn   func(ctx context.Context, text string) ([]float32, error)
}

// Embed calls Fn.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.Fn(ctx, text)
}

// EmbedBatch calls Fn for every text in order.
func (f Func) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Fn(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns Dims.
func (f Func) Dimensions() int { return f.Dims }

// Model returns Name.
func (f Func) Model() string { return f.Name }
