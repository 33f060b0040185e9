package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/spacechat/internal/model"
	"github.com/google/uuid"
)

// MessageCursor is a position in a chat's (createdAt, id) message order.
type MessageCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorOf returns the cursor positioned at m.
func CursorOf(m *model.ChatMessage) *MessageCursor {
	if m == nil {
		return nil
	}
	return &MessageCursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// OrphanChat is a chat with no space link.
type OrphanChat struct {
	Chat         model.Chat
	MessageCount int64
}

// UserPair is an unordered pair of users, stored with A < B.
type UserPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// NewUserPair orders the two ids.
func NewUserPair(x, y string) UserPair {
	if y < x {
		x, y = y, x
	}
	return UserPair{A: x, B: y}
}

// OwnerName identifies a group of user spaces sharing owner and counterpart name.
type OwnerName struct {
	OwnerUserID string `json:"ownerUserId"`
	Name        string `json:"name"`
}

// SpaceStore is the storage contract of the conversation engine. Inserts that
// race on a unique key return *ConflictError with Code CodeUniqueViolation.
// Point lookups return *NotFoundError unless documented otherwise.
type SpaceStore interface {
	Ping(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, userID string) (*model.User, error)
	// FindUserByEmailOrName returns the earliest-created user whose email or
	// display name equals key.
	FindUserByEmailOrName(ctx context.Context, key string) (*model.User, error)

	// Spaces
	CreateSpace(ctx context.Context, space *model.Space) error
	GetSpace(ctx context.Context, spaceID uuid.UUID) (*model.Space, error)
	ListSpacesByExternalKey(ctx context.Context, externalKey string) ([]model.Space, error)
	ListChildSpaceIDs(ctx context.Context, parentIDs []uuid.UUID) ([]uuid.UUID, error)
	// ListParentSpaceIDs pages through spaces that are some space's parent, ordered by id.
	ListParentSpaceIDs(ctx context.Context, afterID *uuid.UUID, limit int) ([]uuid.UUID, error)
	// FindUserSpaces lists non-archived user spaces of owner named name, oldest first.
	FindUserSpaces(ctx context.Context, ownerUserID string, name string) ([]model.Space, error)
	ListDuplicateUserSpaces(ctx context.Context, limit int) ([]OwnerName, error)
	ArchiveSpace(ctx context.Context, spaceID uuid.UUID) error

	// Chats
	CreateChat(ctx context.Context, chat *model.Chat) error
	GetChat(ctx context.Context, chatID uuid.UUID) (*model.Chat, error)
	// DeleteChat removes the chat with its participants, read rows, messages and links.
	DeleteChat(ctx context.Context, chatID uuid.UUID) error
	ListOrphanChats(ctx context.Context, createdBefore time.Time, limit int) ([]OrphanChat, error)

	// Links
	// ListLinksBySpace returns links in insertion order (createdAt, id).
	ListLinksBySpace(ctx context.Context, spaceID uuid.UUID) ([]model.SpaceChatLink, error)
	ListLinksByChat(ctx context.Context, chatID uuid.UUID) ([]model.SpaceChatLink, error)
	CreateLink(ctx context.Context, link *model.SpaceChatLink) error
	DeleteLink(ctx context.Context, linkID uuid.UUID) error
	// RelinkChat points every link of fromChatID at toChatID.
	RelinkChat(ctx context.Context, fromChatID, toChatID uuid.UUID) (int64, error)
	// ListSpacesWithDuplicateLinks finds spaces holding more than one link (legacy data).
	ListSpacesWithDuplicateLinks(ctx context.Context, limit int) ([]uuid.UUID, error)

	// Participants
	ListParticipants(ctx context.Context, chatID uuid.UUID) ([]model.ChatParticipant, error)
	GetParticipant(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatParticipant, error)
	// AddParticipant inserts the row; it reports false when the user already participates.
	AddParticipant(ctx context.Context, participant *model.ChatParticipant) (bool, error)
	RemoveParticipant(ctx context.Context, chatID uuid.UUID, userID string) (bool, error)
	// IsParticipantOfSpaces reports whether userID participates in the chat
	// linked to any of spaceIDs.
	IsParticipantOfSpaces(ctx context.Context, userID string, spaceIDs []uuid.UUID) (bool, error)

	// Direct chats
	// FindDirectChats returns linked chats whose participant set is exactly
	// {userA, userB} and whose linked spaces are all user spaces, oldest first.
	FindDirectChats(ctx context.Context, userA, userB string) ([]model.Chat, error)
	// ListDuplicateDirectPairs returns user pairs holding more than one direct chat.
	ListDuplicateDirectPairs(ctx context.Context, limit int) ([]UserPair, error)

	// Messages
	CreateMessage(ctx context.Context, msg *model.ChatMessage) error
	GetMessage(ctx context.Context, messageID uuid.UUID) (*model.ChatMessage, error)
	// LatestMessage returns nil, nil for an empty chat.
	LatestMessage(ctx context.Context, chatID uuid.UUID) (*model.ChatMessage, error)
	// ListMessages returns up to limit messages strictly before the cursor, newest first.
	ListMessages(ctx context.Context, chatID uuid.UUID, before *MessageCursor, limit int) ([]model.ChatMessage, error)
	// CountUnread counts messages strictly after the cursor not authored by userID.
	// A nil cursor counts the whole chat.
	CountUnread(ctx context.Context, chatID uuid.UUID, userID string, after *MessageCursor) (int64, error)
	CountMessages(ctx context.Context, chatID uuid.UUID) (int64, error)
	MoveMessages(ctx context.Context, fromChatID, toChatID uuid.UUID) (int64, error)

	// Reads
	// GetRead returns nil, nil when the user never read the chat.
	GetRead(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatMessageRead, error)
	UpsertRead(ctx context.Context, read *model.ChatMessageRead) error
	ListReads(ctx context.Context, chatID uuid.UUID) ([]model.ChatMessageRead, error)
	DeleteRead(ctx context.Context, chatID uuid.UUID, userID string) error

	// UnreadCountsBySpace returns, in one round trip, the unread count of every
	// space visible to userID whose chat userID participates in.
	UnreadCountsBySpace(ctx context.Context, userID string) (map[uuid.UUID]int64, error)

	// Tasks
	CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error
	ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error)
	DeleteTask(ctx context.Context, taskID uuid.UUID) error
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error
}

// Loader creates a SpaceStore from config.
type Loader func(ctx context.Context) (SpaceStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
