package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores entries in a Redis server so several instances share one
// cache. Each tag is a Redis set holding the keys cached under it.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedis wraps client. Keys are namespaced with prefix.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *Redis) entryKey(key string) string { return r.prefix + "entry:" + key }
func (r *Redis) tagKey(tag string) string   { return r.prefix + "tag:" + tag }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return b, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, tags ...string) {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.entryKey(key), value, r.ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, r.tagKey(tag), r.entryKey(key))
		pipe.Expire(ctx, r.tagKey(tag), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (r *Redis) InvalidateTag(ctx context.Context, tags ...string) {
	for _, tag := range tags {
		tk := r.tagKey(tag)
		keys, err := r.client.SMembers(ctx, tk).Result()
		if err != nil {
			r.logger.Warn("cache tag lookup failed", "tag", tag, "error", err)
			continue
		}
		if err := r.client.Del(ctx, append(keys, tk)...).Err(); err != nil {
			r.logger.Warn("cache invalidate failed", "tag", tag, "error", err)
		}
	}
}

// Flush removes every key under the prefix.
func (r *Redis) Flush(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("cache flush scan failed", "error", err)
		return
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			r.logger.Warn("cache flush failed", "error", err)
		}
	}
}
