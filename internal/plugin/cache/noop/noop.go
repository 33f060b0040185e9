package noop

import (
	"context"
	"time"

	"github.com/chirino/spacechat/internal/registry/cache"
	"github.com/google/uuid"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.UnreadCache, error) {
			return &noopUnreadCache{}, nil
		},
	})
}

type noopUnreadCache struct{}

func (n *noopUnreadCache) Available() bool { return false }
func (n *noopUnreadCache) Get(_ context.Context, _ string) (map[uuid.UUID]int64, error) {
	return nil, nil
}
func (n *noopUnreadCache) Set(_ context.Context, _ string, _ map[uuid.UUID]int64, _ time.Duration) error {
	return nil
}
func (n *noopUnreadCache) Invalidate(_ context.Context, _ ...string) error { return nil }

var _ cache.UnreadCache = (*noopUnreadCache)(nil)
