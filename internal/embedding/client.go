// Package embedding turns text into fixed-length vectors using an
// OpenAI-compatible embeddings endpoint (Ollama, Docker Model Runner, or
// anything speaking the same API).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// Embedder generates vector embeddings for text. The store and search
// service take this interface so tests can inject a deterministic stub.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Client handles embedding generation via an OpenAI-compatible API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	model         string
	maxInputBytes int
}

// DefaultOllamaBaseURL returns the default Ollama API endpoint.
func DefaultOllamaBaseURL() string {
	return "http://localhost:11434/v1"
}

// DefaultDMRBaseURL returns the default Docker Model Runner API endpoint.
func DefaultDMRBaseURL() string {
	return "http://127.0.0.1:12434/engines/v1"
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the embedding model (default: nomic-embed-text).
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTimeout bounds each embedding request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxInputBytes caps input length; longer text is truncated, not failed.
func WithMaxInputBytes(n int) Option {
	return func(c *Client) { c.maxInputBytes = n }
}

// NewClient creates an embedding client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		model:         "nomic-embed-text",
		maxInputBytes: 8192,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// embeddingRequest is the OpenAI-compatible embedding request format.
type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// embeddingResponse is the OpenAI-compatible embedding response format.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, errors.New("empty text input")
	}

	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single API call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = c.truncate(t)
	}

	jsonBody, err := json.Marshal(embeddingRequest{Input: input, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// Sort by index to ensure correct order
	sort.Slice(embResp.Data, func(i, j int) bool {
		return embResp.Data[i].Index < embResp.Data[j].Index
	})

	embeddings := make([][]float64, len(embResp.Data))
	for i, d := range embResp.Data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}

// Model returns the configured embedding model name.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) truncate(text string) string {
	if c.maxInputBytes <= 0 || len(text) <= c.maxInputBytes {
		return text
	}
	log.Warn("truncating embedding input", "bytes", len(text), "limit", c.maxInputBytes)
	// Cut on a rune boundary.
	cut := c.maxInputBytes
	for cut > 0 && (text[cut]&0xC0) == 0x80 {
		cut--
	}
	return text[:cut]
}
