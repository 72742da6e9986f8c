// Package cache provides the Redis-backed summary cache. Caching is
// best-effort: every failure degrades to a recompute, never to an error.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"bloodledger/internal/report/service"
)

// SummaryCache stores serialized summaries in Redis with a TTL bounding
// staleness.
type SummaryCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewSummaryCache(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl, logger: logger}
}

func (c *SummaryCache) Get(ctx context.Context, key string) (*service.Summary, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.debug(ctx, "summary cache read failed", err)
		return nil, false
	}
	var summary service.Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		c.debug(ctx, "summary cache entry corrupt", err)
		return nil, false
	}
	return &summary, true
}

func (c *SummaryCache) Set(ctx context.Context, key string, summary *service.Summary) {
	raw, err := json.Marshal(summary)
	if err != nil {
		c.debug(ctx, "summary cache encode failed", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.debug(ctx, "summary cache write failed", err)
	}
}

func (c *SummaryCache) debug(ctx context.Context, msg string, err error) {
	if c.logger != nil {
		c.logger.DebugContext(ctx, msg, "error", err.Error())
	}
}
