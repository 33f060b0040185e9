package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/spacechat/internal/config"
	registrycache "github.com/chirino/spacechat/internal/registry/cache"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.UnreadCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: --redis-hosts (SPACECHAT_REDIS_HOSTS) is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL, cfg.CacheUnreadTTL)
}

// LoadFromURL creates an UnreadCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.UnreadCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	return LoadFromOptions(ctx, opts, ttl)
}

// LoadFromOptions creates an UnreadCache from go-redis Options.
// This is exported so other plugins (e.g. Infinispan RESP) can reuse the implementation.
func LoadFromOptions(ctx context.Context, opts *goredis.Options, ttl time.Duration) (registrycache.UnreadCache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisUnreadCache{client: client, ttl: ttl}, nil
}

type redisUnreadCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func unreadKey(userID string) string {
	return "spacechat:unread:" + userID
}

func (c *redisUnreadCache) Available() bool {
	return true
}

func (c *redisUnreadCache) Get(ctx context.Context, userID string) (map[uuid.UUID]int64, error) {
	data, err := c.client.Get(ctx, unreadKey(userID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var counts map[uuid.UUID]int64
	if err := json.Unmarshal(data, &counts); err != nil {
		return nil, err
	}
	if counts == nil {
		counts = map[uuid.UUID]int64{}
	}
	return counts, nil
}

func (c *redisUnreadCache) Set(ctx context.Context, userID string, counts map[uuid.UUID]int64, ttl time.Duration) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, unreadKey(userID), data, ttl).Err()
}

func (c *redisUnreadCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = unreadKey(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

var _ registrycache.UnreadCache = (*redisUnreadCache)(nil)
