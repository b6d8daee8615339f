// Package llm wraps github.com/mozilla-ai/any-llm-go behind a single
// Generate call: one provider/model pair with an optional fallback model,
// think-tag stripping, and Redis-backed response caching, so the extractor
// and analyzer packages never talk to a specific vendor API directly.
package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// GenerateOptions configures a single Generate call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Client is a provider-agnostic text-completion client with an optional
// fallback model for when the primary model errors or times out.
type Client struct {
	backend  anyllmlib.Provider
	model    string
	fallback string // empty disables fallback
}

// New creates a Client for providerName/model. fallbackModel may be empty.
// providerName is one of: openai, anthropic, gemini, ollama, deepseek, groq —
// the subset of any-llm-go backends the domain stack actually wires in.
func New(providerName, model, fallbackModel string, apiKey string) (*Client, error) {
	if providerName == "" || model == "" {
		return nil, fmt.Errorf("llm: providerName and model are required")
	}
	backend, err := createBackend(providerName, apiKey)
	if err != nil {
		return nil, fmt.Errorf("llm: create %q backend: %w", providerName, err)
	}
	return &Client{backend: backend, model: model, fallback: fallbackModel}, nil
}

func createBackend(providerName, apiKey string) (anyllmlib.Provider, error) {
	var opts []anyllmlib.Option
	if apiKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(apiKey))
	}
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", providerName)
	}
}

// Generate runs a single-turn completion and returns the think-tag-stripped
// text. On a primary-model error it retries once against the fallback model,
// if one is configured.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	text, err := c.complete(ctx, c.model, prompt, opts)
	if err == nil {
		return StripThinkTags(text), nil
	}
	if c.fallback == "" {
		return "", fmt.Errorf("llm: generate with %s: %w", c.model, err)
	}
	text, fbErr := c.complete(ctx, c.fallback, prompt, opts)
	if fbErr != nil {
		return "", fmt.Errorf("llm: generate with %s: %w (fallback %s also failed: %v)", c.model, err, c.fallback, fbErr)
	}
	return StripThinkTags(text), nil
}

func (c *Client) complete(ctx context.Context, model, prompt string, opts GenerateOptions) (string, error) {
	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: []anyllmlib.Message{{Role: anyllmlib.RoleUser, Content: prompt}},
	}
	if opts.Temperature != 0 {
		t := opts.Temperature
		params.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		mt := opts.MaxTokens
		params.MaxTokens = &mt
	}

	resp, err := c.backend.Completion(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

var thinkTagRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes <think>...</think> blocks some models (notably
// DeepSeek-R1-family and Ollama reasoning models) prepend to their output,
// along with any leftover open/close tags at the string boundaries.
func StripThinkTags(s string) string {
	s = thinkTagRE.ReplaceAllString(s, "")
	s = strings.TrimPrefix(strings.TrimSpace(s), "<think>")
	s = strings.TrimSuffix(s, "</think>")
	return strings.TrimSpace(s)
}
