package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventMessagePosted = "message.posted"
	EventChatCreated   = "chat.created"
)

// Event is a chat activity notification addressed to one or more users.
type Event struct {
	Type       string    `json:"type"`
	ChatID     uuid.UUID `json:"chatId"`
	SpaceID    uuid.UUID `json:"spaceId,omitempty"`
	MessageID  uuid.UUID `json:"messageId,omitempty"`
	AuthorID   string    `json:"authorId,omitempty"`
	Preview    string    `json:"preview,omitempty"`
	Recipients []string  `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Sink delivers events to downstream consumers (push, email, websockets).
// Callers treat delivery failures as non-fatal.
type Sink interface {
	Notify(ctx context.Context, event Event) error
	Close() error
}

// Loader creates a sink from config.
type Loader func(ctx context.Context) (Sink, error)

// Plugin represents a notification sink plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a sink plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered sink plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named sink plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown notify sink %q; valid: %v", name, Names())
}
