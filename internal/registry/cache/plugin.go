package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UnreadCache caches a user's per-space unread counts. Entries are dropped
// whenever a message is posted to, or read in, a chat the user participates in.
type UnreadCache interface {
	Available() bool
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, userID string) (map[uuid.UUID]int64, error)
	Set(ctx context.Context, userID string, counts map[uuid.UUID]int64, ttl time.Duration) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (UnreadCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
