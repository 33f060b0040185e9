package conversation

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/model"
	registrycache "github.com/chirino/spacechat/internal/registry/cache"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/security"
	"github.com/google/uuid"
)

// maxID sorts after every real id, so a cursor built from a bare timestamp
// covers every message created at that instant.
var maxID = uuid.UUID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// UnreadTracker computes unread counts from read watermarks. Positions are
// compared on (createdAt, id) so messages sharing a timestamp are ordered
// deterministically.
type UnreadTracker struct {
	store registrystore.SpaceStore
	cache registrycache.UnreadCache
	ttl   time.Duration
}

// NewUnreadTracker wires a tracker. cache may be nil.
func NewUnreadTracker(store registrystore.SpaceStore, cache registrycache.UnreadCache, ttl time.Duration) *UnreadTracker {
	return &UnreadTracker{store: store, cache: cache, ttl: ttl}
}

// UnreadCount counts messages in chatID not authored by userID past the
// user's watermark. With no watermark every such message is unread. When the
// watermark message no longer exists, LastReadAt bounds the count.
func (t *UnreadTracker) UnreadCount(ctx context.Context, chatID uuid.UUID, userID string) (int64, error) {
	cursor, err := t.watermark(ctx, chatID, userID)
	if err != nil {
		return 0, err
	}
	return t.store.CountUnread(ctx, chatID, userID, cursor)
}

func (t *UnreadTracker) watermark(ctx context.Context, chatID uuid.UUID, userID string) (*registrystore.MessageCursor, error) {
	read, err := t.store.GetRead(ctx, chatID, userID)
	if err != nil || read == nil {
		return nil, err
	}
	if read.LastReadMessageID != nil {
		msg, err := t.store.GetMessage(ctx, *read.LastReadMessageID)
		if err == nil && msg.ChatID == chatID {
			return registrystore.CursorOf(msg), nil
		}
		if err != nil && !registrystore.IsNotFound(err) {
			return nil, err
		}
	}
	return &registrystore.MessageCursor{CreatedAt: read.LastReadAt, ID: maxID}, nil
}

// MarkRead moves userID's watermark in chatID to the latest message. The
// watermark never moves backwards.
func (t *UnreadTracker) MarkRead(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatMessageRead, error) {
	latest, err := t.store.LatestMessage(ctx, chatID)
	if err != nil {
		return nil, err
	}
	read := &model.ChatMessageRead{ChatID: chatID, UserID: userID, LastReadAt: model.Now()}
	if latest != nil {
		id := latest.ID
		read.LastReadMessageID = &id
		read.LastReadAt = latest.CreatedAt
	}

	current, err := t.watermark(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if current != nil && latest != nil && !latest.After(current.CreatedAt, current.ID) {
		existing, err := t.store.GetRead(ctx, chatID, userID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	if err := t.store.UpsertRead(ctx, read); err != nil {
		return nil, err
	}
	t.Invalidate(ctx, userID)
	return read, nil
}

// UnreadCounts returns the unread count of every visible space whose chat
// userID participates in, served from the cache when it holds an entry.
func (t *UnreadTracker) UnreadCounts(ctx context.Context, userID string) (map[uuid.UUID]int64, error) {
	if t.cacheAvailable() {
		counts, err := t.cache.Get(ctx, userID)
		if err != nil {
			log.Warn("Unread: cache get failed", "userId", userID, "err", err)
		} else if counts != nil {
			security.RecordCacheLookup(true)
			return counts, nil
		}
		security.RecordCacheLookup(false)
	}

	counts, err := t.store.UnreadCountsBySpace(ctx, userID)
	if err != nil {
		return nil, err
	}
	if t.cacheAvailable() {
		if err := t.cache.Set(ctx, userID, counts, t.ttl); err != nil {
			log.Warn("Unread: cache set failed", "userId", userID, "err", err)
		}
	}
	return counts, nil
}

// Invalidate drops cached counts for the given users.
func (t *UnreadTracker) Invalidate(ctx context.Context, userIDs ...string) {
	if !t.cacheAvailable() || len(userIDs) == 0 {
		return
	}
	if err := t.cache.Invalidate(ctx, userIDs...); err != nil {
		log.Warn("Unread: cache invalidate failed", "users", len(userIDs), "err", err)
	}
}

func (t *UnreadTracker) cacheAvailable() bool {
	return t.cache != nil && t.cache.Available()
}
