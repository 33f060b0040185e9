package model

import (
	"time"

	"github.com/google/uuid"
)

// SpaceCategory distinguishes shared project spaces from one-to-one user spaces.
type SpaceCategory string

const (
	SpaceCategoryProject SpaceCategory = "project"
	SpaceCategoryUser    SpaceCategory = "user"
)

// Valid reports whether c is a known category.
func (c SpaceCategory) Valid() bool {
	return c == SpaceCategoryProject || c == SpaceCategoryUser
}

// Grant records why a participant row exists. Every grant except GrantLegacy is
// independent of the space hierarchy and survives ghost-membership healing.
type Grant string

const (
	GrantOwner       Grant = "owner"
	GrantCounterpart Grant = "counterpart"
	GrantInvite      Grant = "invite"
	GrantResolve     Grant = "resolve"
	GrantLegacy      Grant = "legacy"
)

// Independent reports whether the grant stands on its own.
func (g Grant) Independent() bool {
	return g != GrantLegacy && g != ""
}

// User is a human account. The id is the authenticated subject.
type User struct {
	ID          string    `json:"id"          gorm:"primaryKey"`
	DisplayName string    `json:"displayName" gorm:"not null"`
	Email       string    `json:"email"       gorm:"not null"`
	CreatedAt   time.Time `json:"createdAt"   gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Label is the name used in system messages.
func (u *User) Label() string {
	if u == nil {
		return "Someone"
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

// Space is a workspace node. A user space's Name holds the counterpart's
// email or display name.
type Space struct {
	ID          uuid.UUID     `json:"id"                    gorm:"primaryKey;type:uuid"`
	Category    SpaceCategory `json:"category"              gorm:"not null"`
	OwnerUserID string        `json:"ownerUserId"           gorm:"not null"`
	Name        string        `json:"name"                  gorm:"not null"`
	ExternalKey *string       `json:"externalKey,omitempty"`
	Archived    bool          `json:"archived"              gorm:"not null;default:false"`
	ParentIDs   []uuid.UUID   `json:"parentIds"             gorm:"-"`
	CreatedAt   time.Time     `json:"createdAt"             gorm:"not null"`
}

func (Space) TableName() string { return "spaces" }

// SpaceParent is one edge of the space hierarchy.
type SpaceParent struct {
	SpaceID  uuid.UUID `gorm:"primaryKey;type:uuid"`
	ParentID uuid.UUID `gorm:"primaryKey;type:uuid"`
}

func (SpaceParent) TableName() string { return "space_parents" }

// Chat is a message container.
type Chat struct {
	ID        uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (Chat) TableName() string { return "chats" }

// SpaceChatLink binds a space to its chat. At most one per space.
type SpaceChatLink struct {
	ID        uuid.UUID `json:"id"        gorm:"primaryKey;type:uuid"`
	SpaceID   uuid.UUID `json:"spaceId"   gorm:"type:uuid;not null"`
	ChatID    uuid.UUID `json:"chatId"    gorm:"type:uuid;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (SpaceChatLink) TableName() string { return "space_chat_links" }

// ChatParticipant is a user's membership in a chat.
type ChatParticipant struct {
	ChatID    uuid.UUID `json:"chatId"    gorm:"primaryKey;type:uuid"`
	UserID    string    `json:"userId"    gorm:"primaryKey"`
	Grant     Grant     `json:"grant"     gorm:"column:grant_kind;not null;default:legacy"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

func (ChatParticipant) TableName() string { return "chat_participants" }

// ChatMessage is a message; a nil author marks a system message.
type ChatMessage struct {
	ID           uuid.UUID `json:"id"                     gorm:"primaryKey;type:uuid"`
	ChatID       uuid.UUID `json:"chatId"                 gorm:"type:uuid;not null"`
	AuthorUserID *string   `json:"authorUserId,omitempty"`
	Body         string    `json:"body"                   gorm:"not null"`
	CreatedAt    time.Time `json:"createdAt"              gorm:"not null"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

// IsSystem reports whether the message was written by the service itself.
func (m *ChatMessage) IsSystem() bool {
	return m.AuthorUserID == nil
}

// After reports whether m sorts strictly after the (createdAt, id) position.
func (m *ChatMessage) After(createdAt time.Time, id uuid.UUID) bool {
	if m.CreatedAt.After(createdAt) {
		return true
	}
	return m.CreatedAt.Equal(createdAt) && CompareIDs(m.ID, id) > 0
}

// ChatMessageRead is a user's read watermark in a chat.
type ChatMessageRead struct {
	ChatID            uuid.UUID  `json:"chatId"                      gorm:"primaryKey;type:uuid"`
	UserID            string     `json:"userId"                      gorm:"primaryKey"`
	LastReadMessageID *uuid.UUID `json:"lastReadMessageId,omitempty" gorm:"type:uuid"`
	LastReadAt        time.Time  `json:"lastReadAt"                  gorm:"not null"`
}

func (ChatMessageRead) TableName() string { return "chat_message_reads" }

// Task represents a background task in the task queue.
type Task struct {
	ID         uuid.UUID              `json:"id"                  gorm:"primaryKey;type:uuid"`
	TaskName   *string                `json:"taskName,omitempty"  gorm:"unique"`
	TaskType   string                 `json:"taskType"            gorm:"not null"`
	TaskBody   map[string]interface{} `json:"taskBody"            gorm:"serializer:json;not null"`
	CreatedAt  time.Time              `json:"createdAt"           gorm:"not null"`
	RetryAt    time.Time              `json:"retryAt"             gorm:"not null"`
	LastError  *string                `json:"lastError,omitempty"`
	RetryCount int                    `json:"retryCount"          gorm:"not null;default:0"`
}

func (Task) TableName() string { return "tasks" }
