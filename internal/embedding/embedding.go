// Package embedding provides vector embedding generation backing
// internal/resolver.Embedder, internal/graph.Writer, and
// internal/retrieval.Retriever's semantic search leg. Adapted from the
// teacher's internal/service/embedding: same OpenAI/Ollama/Noop provider
// split, but returning a plain []float32 instead of pgvector.Vector since
// the vector lives in Neo4j's native vector index (and optionally Qdrant),
// not a pgvector column.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoProvider is returned by NoopProvider to signal that no real embedding
// provider is configured. Callers should treat this as "no embedding
// available" rather than a transient failure.
var ErrNoProvider = errors.New("embedding: no provider configured (noop)")

const maxResponseBody = 10 * 1024 * 1024

// Provider generates vector embeddings from text, satisfying
// resolver.Embedder.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIProvider generates embeddings using the OpenAI API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
	dimensions int
}

// NewOpenAIProvider creates a new OpenAI embedding provider. Dimensions
// should match the model's output size (e.g. 1536 for
// text-embedding-3-small).
func NewOpenAIProvider(apiKey, model string, dimensions int) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding: OpenAI API key is required")
	}
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dimensions: dimensions,
	}, nil
}

type openAIRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed generates a single embedding vector via OpenAI's embeddings API.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(openAIRequest{Input: []string{text}, Model: p.model, Dimensions: p.dimensions})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}

	var result openAIResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(body, &result) == nil && result.Error != nil {
			return nil, fmt.Errorf("embedding: openai error (HTTP %d): %s: %s", resp.StatusCode, result.Error.Type, result.Error.Message)
		}
		return nil, fmt.Errorf("embedding: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("embedding: unmarshal response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embedding: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embedding: no embeddings returned")
	}
	return result.Data[0].Embedding, nil
}

// defaultMaxInputChars matches mxbai-embed-large's ~512 token window at
// ~4 chars/token for English prose.
const defaultMaxInputChars = 2000

// OllamaProvider generates embeddings using a local Ollama server: the
// recommended provider for production since embeddings stay on-premises.
type OllamaProvider struct {
	baseURL       string
	model         string
	httpClient    *http.Client
	maxInputChars int
}

// NewOllamaProvider creates a provider that calls Ollama's /api/embed
// endpoint. Model should be an embedding model like "mxbai-embed-large".
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL:       baseURL,
		model:         model,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		maxInputChars: defaultMaxInputChars,
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates a single embedding vector, truncating text at a word
// boundary to stay within the model's context window; /api/embed
// truncates at the token level as a second safety net.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncateText(text, p.maxInputChars)

	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding: ollama: status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: ollama: decode response: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embedding: ollama: empty embedding returned")
	}
	return result.Embeddings[0], nil
}

func truncateText(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	truncated := text[:maxChars]
	if idx := strings.LastIndexAny(truncated, " \n\t"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated
}

// NoopProvider returns ErrNoProvider for every call. Used when no embedding
// provider is configured — callers skip embedding storage on error rather
// than storing a zero vector.
type NoopProvider struct{}

func NewNoopProvider() *NoopProvider { return &NoopProvider{} }

func (p *NoopProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrNoProvider
}
