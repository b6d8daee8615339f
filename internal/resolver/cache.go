package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deciolog/deciolog/internal/model"
)

// ResolutionCacheTTL matches the Python EntityResolver's 5-minute window:
// long enough to absorb the many repeat lookups one extraction batch makes
// for the same entity, short enough that a merge or alias edit elsewhere is
// never stale for long.
const ResolutionCacheTTL = 5 * time.Minute

// cachedResolution is the JSON shape stored in Redis. Found is explicit
// (rather than relying on a nil/zero ResolvedEntity) so a cached "no match"
// — a negative result — is distinguishable from a cache miss.
type cachedResolution struct {
	Found  bool            `json:"found"`
	Entity *ResolvedEntity `json:"entity,omitempty"`
}

// ResolutionCache is a Redis-backed cache for resolve() results, keyed by
// (user_id, normalized_name, entity_type). Both positive and negative
// results are cached — SD-011 in entity_resolver.py notes that repeatedly
// failing to resolve the same novel mention within one extraction batch is
// just as wasteful as repeatedly succeeding.
type ResolutionCache struct {
	client *redis.Client
	logger *slog.Logger
}

func NewResolutionCache(client *redis.Client, logger *slog.Logger) *ResolutionCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResolutionCache{client: client, logger: logger}
}

func (c *ResolutionCache) key(userID uuid.UUID, normalizedName string, entityType model.EntityType) string {
	return fmt.Sprintf("deciolog:resolve:%s:%s:%s", userID, entityType, normalizedName)
}

func (c *ResolutionCache) get(ctx context.Context, userID uuid.UUID, normalizedName string, entityType model.EntityType) (ResolvedEntity, bool, bool) {
	if c.client == nil {
		return ResolvedEntity{}, false, false
	}
	raw, err := c.client.Get(ctx, c.key(userID, normalizedName, entityType)).Bytes()
	if err == redis.Nil {
		return ResolvedEntity{}, false, false
	}
	if err != nil {
		c.logger.Warn("resolution cache: read failed", "error", err)
		return ResolvedEntity{}, false, false
	}
	var cached cachedResolution
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Warn("resolution cache: unmarshal failed", "error", err)
		return ResolvedEntity{}, false, false
	}
	if !cached.Found {
		return ResolvedEntity{}, false, true
	}
	return *cached.Entity, true, true
}

func (c *ResolutionCache) setFound(ctx context.Context, userID uuid.UUID, normalizedName string, entityType model.EntityType, entity ResolvedEntity) {
	c.set(ctx, userID, normalizedName, entityType, cachedResolution{Found: true, Entity: &entity})
}

func (c *ResolutionCache) setNotFound(ctx context.Context, userID uuid.UUID, normalizedName string, entityType model.EntityType) {
	c.set(ctx, userID, normalizedName, entityType, cachedResolution{Found: false})
}

func (c *ResolutionCache) set(ctx context.Context, userID uuid.UUID, normalizedName string, entityType model.EntityType, value cachedResolution) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("resolution cache: marshal failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(userID, normalizedName, entityType), raw, ResolutionCacheTTL).Err(); err != nil {
		c.logger.Warn("resolution cache: write failed", "error", err)
	}
}

// Invalidate drops every cached resolution for userID. Called after any
// entity-set write (new entity, alias added, merge) since a stale cache
// entry could otherwise keep pointing at a deleted or superseded node.
// Uses SCAN rather than KEYS to avoid blocking Redis on a large keyspace.
func (c *ResolutionCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if c.client == nil {
		return
	}
	pattern := fmt.Sprintf("deciolog:resolve:%s:*", userID)
	iter := c.client.Scan(ctx, 0, pattern, 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("resolution cache: scan failed during invalidate", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("resolution cache: delete failed during invalidate", "error", err)
	}
}
