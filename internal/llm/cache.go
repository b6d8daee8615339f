package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache is a Redis-backed cache for LLM extraction responses, keyed
// by a hash of the input text, the prompt version, and the extraction type
// (decisions/entities/relationships). It avoids redundant API
// calls when the same episode text is reprocessed (e.g. on a re-ingest).
type ResponseCache struct {
	client        *redis.Client
	logger        *slog.Logger
	promptVersion string
	ttl           time.Duration
}

// NewResponseCache returns a ResponseCache. If client is nil, Get always
// misses and Set is a noop — ingestion still works, just without caching.
func NewResponseCache(client *redis.Client, logger *slog.Logger, promptVersion string, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResponseCache{client: client, logger: logger, promptVersion: promptVersion, ttl: ttl}
}

func (c *ResponseCache) key(text, extractionType string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("deciolog:llm:%s:%s:%s", c.promptVersion, extractionType, hex.EncodeToString(sum[:]))
}

// Get returns the cached value for (text, extractionType) unmarshaled into
// dst, or (false, nil) on a cache miss.
func (c *ResponseCache) Get(ctx context.Context, text, extractionType string, dst any) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	raw, err := c.client.Get(ctx, c.key(text, extractionType)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.logger.Warn("llm cache: read failed", "error", err)
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("llm cache: unmarshal cached value: %w", err)
	}
	return true, nil
}

// Set stores value for (text, extractionType). Errors are logged, not
// returned — a cache write failure must never fail extraction.
func (c *ResponseCache) Set(ctx context.Context, text, extractionType string, value any) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("llm cache: marshal failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(text, extractionType), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("llm cache: write failed", "error", err)
	}
}
