package conversation

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/chirino/spacechat/internal/model"
	rediscache "github.com/chirino/spacechat/internal/plugin/cache/redis"
	"github.com/chirino/spacechat/internal/testutil/teststore"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreadMonotonicity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.ProjectSpace(t, f.store, "alice", "Roadmap")
	chatID := teststore.Chat(t, f.store, []uuid.UUID{space.ID}, model.GrantInvite, "alice", "bob")
	teststore.Message(t, f.store, chatID, "", "alice created project Roadmap")
	teststore.Message(t, f.store, chatID, "bob", "hello")
	teststore.Message(t, f.store, chatID, "alice", "hi")

	unread := f.svc.Unread()
	n, err := unread.UnreadCount(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "system messages count, own messages do not")

	_, err = unread.MarkRead(ctx, chatID, "alice")
	require.NoError(t, err)
	n, err = unread.UnreadCount(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)

	teststore.Message(t, f.store, chatID, "bob", "are you there?")
	n, err = unread.UnreadCount(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	teststore.Message(t, f.store, chatID, "alice", "yes")
	n, err = unread.UnreadCount(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMarkReadOnEmptyChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.ProjectSpace(t, f.store, "alice", "Empty")
	chatID := teststore.Chat(t, f.store, []uuid.UUID{space.ID}, model.GrantOwner, "alice")

	read, err := f.svc.Unread().MarkRead(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.Nil(t, read.LastReadMessageID)
	assert.False(t, read.LastReadAt.IsZero())
}

func TestUnreadTieBreaksOnID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.ProjectSpace(t, f.store, "alice", "Ties")
	chatID := teststore.Chat(t, f.store, []uuid.UUID{space.ID}, model.GrantInvite, "alice", "bob")

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	sort.Slice(ids, func(i, j int) bool { return model.CompareIDs(ids[i], ids[j]) < 0 })
	at := model.Now()
	bob := "bob"
	insert := func(id uuid.UUID) {
		require.NoError(t, f.store.CreateMessage(ctx, &model.ChatMessage{ID: id, ChatID: chatID, AuthorUserID: &bob, Body: "m", CreatedAt: at}))
	}
	insert(ids[0])
	insert(ids[1])

	read, err := f.svc.Unread().MarkRead(ctx, chatID, "alice")
	require.NoError(t, err)
	require.NotNil(t, read.LastReadMessageID)
	assert.Equal(t, ids[1], *read.LastReadMessageID)

	insert(ids[2])
	n, err := f.svc.Unread().UnreadCount(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestUnreadFallsBackToLastReadAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.ProjectSpace(t, f.store, "alice", "Fallback")
	chatID := teststore.Chat(t, f.store, []uuid.UUID{space.ID}, model.GrantInvite, "alice", "bob")

	base := model.Now().Add(-time.Hour)
	bob := "bob"
	for i, offset := range []time.Duration{0, 2 * time.Second, 4 * time.Second} {
		require.NoError(t, f.store.CreateMessage(ctx, &model.ChatMessage{
			ChatID: chatID, AuthorUserID: &bob, Body: string(rune('a' + i)), CreatedAt: base.Add(offset),
		}))
	}
	vanished := uuid.New()
	require.NoError(t, f.store.UpsertRead(ctx, &model.ChatMessageRead{
		ChatID: chatID, UserID: "alice", LastReadMessageID: &vanished, LastReadAt: base.Add(3 * time.Second),
	}))

	n, err := f.svc.Unread().UnreadCount(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMarkReadNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.ProjectSpace(t, f.store, "alice", "Forward")
	chatID := teststore.Chat(t, f.store, []uuid.UUID{space.ID}, model.GrantInvite, "alice", "bob")
	older := teststore.Message(t, f.store, chatID, "bob", "one")

	ahead := model.Now().Add(time.Minute)
	future := uuid.New()
	require.NoError(t, f.store.UpsertRead(ctx, &model.ChatMessageRead{
		ChatID: chatID, UserID: "alice", LastReadMessageID: &future, LastReadAt: ahead,
	}))

	read, err := f.svc.Unread().MarkRead(ctx, chatID, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, older.ID, *read.LastReadMessageID)
	assert.True(t, read.LastReadAt.Equal(ahead))
}

func TestUnreadCountsUseCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cache, err := rediscache.LoadFromOptions(ctx, &goredis.Options{Addr: mr.Addr()}, time.Minute)
	require.NoError(t, err)

	store := teststore.New(t)
	for _, id := range []string{"alice", "bob"} {
		teststore.User(t, store, id, id+"@example.com")
	}
	svc, err := New(store, nil, cache, Options{UnreadTTL: time.Minute})
	require.NoError(t, err)
	defer svc.Close()

	space := teststore.ProjectSpace(t, store, "alice", "Roadmap")
	conv, err := svc.Conversation(ctx, space.ID, "alice")
	require.NoError(t, err)
	_, err = svc.AddMembers(ctx, space.ID, "alice", []string{"bob"})
	require.NoError(t, err)

	counts, err := svc.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[space.ID])
	assert.True(t, mr.Exists("spacechat:unread:bob"))

	_, err = svc.PostMessage(ctx, conv.ChatID, "alice", "welcome")
	require.NoError(t, err)
	assert.False(t, mr.Exists("spacechat:unread:bob"), "posting drops cached counts")

	counts, err = svc.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts[space.ID])

	require.NoError(t, svc.MarkRead(ctx, space.ID, "bob"))
	counts, err = svc.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, counts[space.ID])
}
