package agentctx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache TTLs, spec.md §4.8.
const (
	SummaryTTL        = 120 * time.Second
	FocusedContextTTL = 30 * time.Second
	EntityContextTTL  = 60 * time.Second
)

// Cache is a Redis-backed cache for the Agent Context Service's three
// cached operations. Grounded on internal/llm.ResponseCache's nil-safe,
// errors-logged-not-returned TTL pattern; keys are namespaced by a per-user
// version counter rather than by TTL alone, so Remember's "invalidate agent
// caches" requirement is a single INCR instead of a key-pattern scan/delete.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewCache returns a Cache. If client is nil, Get always misses and Set/
// Invalidate are noops — every operation still works, just uncached.
func NewCache(client *redis.Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, logger: logger}
}

func (c *Cache) versionKey(userID string) string {
	return fmt.Sprintf("deciolog:agentctx:v:%s", userID)
}

func (c *Cache) version(ctx context.Context, userID string) int {
	if c.client == nil {
		return 0
	}
	v, err := c.client.Get(ctx, c.versionKey(userID)).Int()
	if err != nil {
		return 0 // miss or parse error: treat as version 0
	}
	return v
}

func (c *Cache) key(op, userID string, parts []string, version int) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("deciolog:agentctx:%s:%d:%s:%s", op, version, userID, hex.EncodeToString(sum[:]))
}

// Get unmarshals the cached value for (op, userID, parts) into dst,
// reporting whether it was a hit.
func (c *Cache) Get(ctx context.Context, op, userID string, parts []string, dst any) bool {
	if c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, c.key(op, userID, parts, c.version(ctx, userID))).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.logger.Warn("agentctx cache: read failed", "op", op, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("agentctx cache: unmarshal failed", "op", op, "error", err)
		return false
	}
	return true
}

// Set stores value under (op, userID, parts) with ttl. Errors are logged,
// never returned — a cache write failure must never fail the operation.
func (c *Cache) Set(ctx context.Context, op, userID string, parts []string, ttl time.Duration, value any) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("agentctx cache: marshal failed", "op", op, "error", err)
		return
	}
	key := c.key(op, userID, parts, c.version(ctx, userID))
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("agentctx cache: write failed", "op", op, "error", err)
	}
}

// Invalidate bumps userID's version so every entry cached under the
// previous version becomes unreachable, without deleting anything.
func (c *Cache) Invalidate(ctx context.Context, userID string) {
	if c.client == nil {
		return
	}
	if err := c.client.Incr(ctx, c.versionKey(userID)).Err(); err != nil {
		c.logger.Warn("agentctx cache: invalidate failed", "user_id", userID, "error", err)
	}
}
