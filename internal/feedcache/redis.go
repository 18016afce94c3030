// SPDX-License-Identifier: MIT

package feedcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/log"
)

const keyPrefix = "anypod:feedxml:"

// Redis is the optional shared backend, selected by REDIS_ADDR. Redis
// errors degrade to cache misses so the public handler can always fall
// back to disk.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedis connects to addr and verifies the connection before use.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := log.WithComponent("feedcache")
	logger.Info().
		Str("event", "feedcache.redis_connected").
		Str("addr", addr).
		Msg("using redis feed cache")

	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, feedID string) (Entry, bool) {
	body, err := r.client.Get(ctx, keyPrefix+feedID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("feed_id", feedID).Msg("redis get failed")
		return Entry{}, false
	}
	etag, err := r.client.Get(ctx, keyPrefix+feedID+":etag").Result()
	if err != nil {
		return Entry{}, false
	}
	return Entry{Body: body, ETag: etag}, true
}

func (r *Redis) Set(ctx context.Context, feedID string, entry Entry) {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+feedID, entry.Body, r.ttl)
	pipe.Set(ctx, keyPrefix+feedID+":etag", entry.ETag, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn().Err(err).Str("feed_id", feedID).Msg("redis set failed")
	}
}

func (r *Redis) Invalidate(ctx context.Context, feedID string) {
	if err := r.client.Del(ctx, keyPrefix+feedID, keyPrefix+feedID+":etag").Err(); err != nil {
		r.logger.Warn().Err(err).Str("feed_id", feedID).Msg("redis delete failed")
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
