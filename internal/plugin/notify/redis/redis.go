// Package redis publishes chat events on Redis pub/sub, one channel per
// recipient user. Push and websocket gateways subscribe to the channels of the
// users they serve.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chirino/spacechat/internal/config"
	registrynotify "github.com/chirino/spacechat/internal/registry/notify"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrynotify.Register(registrynotify.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrynotify.Sink, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis notify: --redis-hosts (SPACECHAT_REDIS_HOSTS) is required")
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis notify: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis notify: ping failed: %w", err)
	}
	return New(client, cfg.NotifyChannelPrefix), nil
}

// Sink publishes events with PUBLISH.
type Sink struct {
	client goredis.UniversalClient
	prefix string
}

// New wraps an existing client. Channels are prefix + user id.
func New(client goredis.UniversalClient, prefix string) *Sink {
	return &Sink{client: client, prefix: prefix}
}

// Channel returns the channel events for userID are published on.
func (s *Sink) Channel(userID string) string {
	return s.prefix + userID
}

func (s *Sink) Notify(ctx context.Context, event registrynotify.Event) error {
	if len(event.Recipients) == 0 {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis notify: marshal: %w", err)
	}
	pipe := s.client.Pipeline()
	for _, userID := range event.Recipients {
		pipe.Publish(ctx, s.Channel(userID), payload)
	}
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		var errs []error
		for _, cmd := range cmds {
			if cmd.Err() != nil {
				errs = append(errs, cmd.Err())
			}
		}
		if len(errs) == 0 {
			errs = append(errs, err)
		}
		return fmt.Errorf("redis notify: publish: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}

var _ registrynotify.Sink = (*Sink)(nil)
