package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/spacechat/internal/conversation"
	"github.com/chirino/spacechat/internal/model"
	"github.com/chirino/spacechat/internal/plugin/store/gormstore"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/testutil/teststore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*gormstore.Store, *Runner) {
	t.Helper()
	store := teststore.New(t)
	for _, id := range []string{"alice", "bob", "carol"} {
		teststore.User(t, store, id, id+"@example.com")
	}
	return store, NewRunner(store, Options{BatchSize: 2, OrphanGrace: time.Minute})
}

func requireHealed(t *testing.T, runner *Runner) {
	t.Helper()
	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed(), "second run must be a no-op: %+v", report)
}

func TestRunOnHealthyDataChangesNothing(t *testing.T) {
	ctx := context.Background()
	store, runner := setup(t)
	svc, err := conversation.New(store, nil, nil, conversation.Options{})
	require.NoError(t, err)
	defer svc.Close()

	parent := teststore.ProjectSpace(t, store, "alice", "Client")
	child := teststore.ProjectSpace(t, store, "alice", "Project", parent.ID)
	_, err = svc.AddMembers(ctx, child.ID, "alice", []string{"carol"})
	require.NoError(t, err)
	_, err = svc.Conversation(ctx, parent.ID, "carol")
	require.NoError(t, err)
	_, err = svc.FirstContact(ctx, "alice", "bob")
	require.NoError(t, err)

	requireHealed(t, runner)
	integrity, err := runner.Inspect(ctx)
	require.NoError(t, err)
	assert.True(t, integrity.Clean())
}

func TestMergeDuplicateDirectChats(t *testing.T) {
	ctx := context.Background()
	store, runner := setup(t)
	aliceSide := teststore.UserSpace(t, store, "alice", "bob")
	bobSide := teststore.UserSpace(t, store, "bob", "alice")
	oldest := teststore.Chat(t, store, []uuid.UUID{aliceSide.ID}, model.GrantOwner, "alice", "bob")
	newer := teststore.Chat(t, store, []uuid.UUID{bobSide.ID}, model.GrantOwner, "bob", "alice")

	first := teststore.Message(t, store, oldest, "bob", "one")
	second := teststore.Message(t, store, newer, "bob", "two")
	require.NoError(t, store.UpsertRead(ctx, &model.ChatMessageRead{ChatID: oldest, UserID: "alice", LastReadMessageID: &first.ID, LastReadAt: first.CreatedAt}))
	require.NoError(t, store.UpsertRead(ctx, &model.ChatMessageRead{ChatID: newer, UserID: "alice", LastReadMessageID: &second.ID, LastReadAt: second.CreatedAt}))

	integrity, err := runner.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []registrystore.UserPair{{A: "alice", B: "bob"}}, integrity.DuplicateDirectPairs)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChatsMerged)

	chats, err := store.FindDirectChats(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, oldest, chats[0].ID)

	for _, space := range []uuid.UUID{aliceSide.ID, bobSide.ID} {
		links, err := store.ListLinksBySpace(ctx, space)
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, oldest, links[0].ChatID)
	}
	count, err := store.CountMessages(ctx, oldest)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	read, err := store.GetRead(ctx, oldest, "alice")
	require.NoError(t, err)
	require.NotNil(t, read)
	assert.Equal(t, second.ID, *read.LastReadMessageID)

	_, err = store.GetChat(ctx, newer)
	assert.True(t, registrystore.IsNotFound(err))

	requireHealed(t, runner)
}

func TestCollapseDuplicateLinks(t *testing.T) {
	ctx := context.Background()
	store, runner := setup(t)
	teststore.DropLinkUniqueness(t, store)
	space := teststore.ProjectSpace(t, store, "alice", "Legacy")
	kept := teststore.Chat(t, store, []uuid.UUID{space.ID}, model.GrantOwner, "alice")
	dropped := teststore.Chat(t, store, []uuid.UUID{space.ID}, model.GrantInvite, "alice", "bob")
	teststore.Message(t, store, dropped, "bob", "hello from the past")

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LinksRemoved)
	assert.Equal(t, 1, report.ChatsMerged)

	links, err := store.ListLinksBySpace(ctx, space.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, kept, links[0].ChatID)

	msgs, err := store.ListMessages(ctx, kept, nil, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello from the past", msgs[0].Body)

	bob, err := store.GetParticipant(ctx, kept, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.GrantInvite, bob.Grant)

	requireHealed(t, runner)
}

func TestHealGhostMemberships(t *testing.T) {
	ctx := context.Background()
	store, runner := setup(t)
	parent := teststore.ProjectSpace(t, store, "alice", "Client")
	child := teststore.ProjectSpace(t, store, "alice", "Project", parent.ID)
	teststore.Chat(t, store, []uuid.UUID{child.ID}, model.GrantInvite, "alice", "carol")
	parentChat := teststore.Chat(t, store, []uuid.UUID{parent.ID}, model.GrantOwner, "alice")
	_, err := store.AddParticipant(ctx, &model.ChatParticipant{ChatID: parentChat, UserID: "carol", Grant: model.GrantLegacy})
	require.NoError(t, err)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.GhostsRemoved)

	_, err = store.GetParticipant(ctx, parentChat, "carol")
	assert.True(t, registrystore.IsNotFound(err))

	requireHealed(t, runner)
}

func TestHealGhostMembershipsPagesThroughParents(t *testing.T) {
	ctx := context.Background()
	store, runner := setup(t)

	var parentChats []uuid.UUID
	for i := 0; i < 5; i++ {
		parent := teststore.ProjectSpace(t, store, "alice", "Client")
		child := teststore.ProjectSpace(t, store, "alice", "Project", parent.ID)
		teststore.Chat(t, store, []uuid.UUID{child.ID}, model.GrantInvite, "carol")
		parentChats = append(parentChats, teststore.Chat(t, store, []uuid.UUID{parent.ID}, model.GrantLegacy, "carol"))
	}

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.GhostsRemoved)
	for _, chatID := range parentChats {
		participants, err := store.ListParticipants(ctx, chatID)
		require.NoError(t, err)
		assert.Empty(t, participants)
	}
}

func TestArchiveDuplicateUserSpaces(t *testing.T) {
	ctx := context.Background()
	store, runner := setup(t)
	oldest := teststore.UserSpace(t, store, "alice", "bob")
	teststore.UserSpace(t, store, "alice", "bob")
	teststore.UserSpace(t, store, "alice", "bob")

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SpacesArchived)

	spaces, err := store.FindUserSpaces(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, spaces, 1)
	assert.Equal(t, oldest.ID, spaces[0].ID)

	requireHealed(t, runner)
}

func TestRemoveOrphanChats(t *testing.T) {
	ctx := context.Background()
	store, runner := setup(t)
	old := model.Now().Add(-time.Hour)

	empty := &model.Chat{CreatedAt: old}
	require.NoError(t, store.CreateChat(ctx, empty))
	withMessages := &model.Chat{CreatedAt: old}
	require.NoError(t, store.CreateChat(ctx, withMessages))
	teststore.Message(t, store, withMessages.ID, "alice", "lost")
	fresh := &model.Chat{}
	require.NoError(t, store.CreateChat(ctx, fresh))

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphansDeleted)
	assert.Equal(t, 1, report.OrphansKept)

	_, err = store.GetChat(ctx, empty.ID)
	assert.True(t, registrystore.IsNotFound(err))
	_, err = store.GetChat(ctx, withMessages.ID)
	require.NoError(t, err)
	_, err = store.GetChat(ctx, fresh.ID)
	require.NoError(t, err)

	requireHealed(t, runner)
}

func TestMergeOrphanChatSkipsLinkedChats(t *testing.T) {
	ctx := context.Background()
	store, runner := setup(t)
	a := teststore.ProjectSpace(t, store, "alice", "A")
	b := teststore.ProjectSpace(t, store, "alice", "B")
	into := teststore.Chat(t, store, []uuid.UUID{a.ID}, model.GrantOwner, "alice")
	from := teststore.Chat(t, store, []uuid.UUID{b.ID}, model.GrantOwner, "alice")

	merged, err := runner.MergeOrphanChat(ctx, from, into)
	require.NoError(t, err)
	assert.False(t, merged)
	_, err = store.GetChat(ctx, from)
	require.NoError(t, err)

	merged, err = runner.MergeOrphanChat(ctx, uuid.New(), into)
	require.NoError(t, err)
	assert.False(t, merged)
}

func TestRunInvalidatesUnreadCountsOfAffectedUsers(t *testing.T) {
	ctx := context.Background()
	store := teststore.New(t)
	for _, id := range []string{"alice", "bob", "carol"} {
		teststore.User(t, store, id, id+"@example.com")
	}
	invalidated := map[string]int{}
	runner := NewRunner(store, Options{
		BatchSize:   2,
		OrphanGrace: time.Minute,
		Invalidate: func(_ context.Context, userIDs ...string) {
			for _, id := range userIDs {
				invalidated[id]++
			}
		},
	})

	aliceSide := teststore.UserSpace(t, store, "alice", "bob")
	bobSide := teststore.UserSpace(t, store, "bob", "alice")
	teststore.Chat(t, store, []uuid.UUID{aliceSide.ID}, model.GrantOwner, "alice", "bob")
	newer := teststore.Chat(t, store, []uuid.UUID{bobSide.ID}, model.GrantOwner, "bob", "alice")
	teststore.Message(t, store, newer, "bob", "moved")

	parent := teststore.ProjectSpace(t, store, "alice", "Client")
	child := teststore.ProjectSpace(t, store, "alice", "Project", parent.ID)
	teststore.Chat(t, store, []uuid.UUID{child.ID}, model.GrantInvite, "alice", "carol")
	parentChat := teststore.Chat(t, store, []uuid.UUID{parent.ID}, model.GrantOwner, "alice")
	_, err := store.AddParticipant(ctx, &model.ChatParticipant{ChatID: parentChat, UserID: "carol", Grant: model.GrantLegacy})
	require.NoError(t, err)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChatsMerged)
	assert.Equal(t, 1, report.GhostsRemoved)

	assert.Positive(t, invalidated["alice"])
	assert.Positive(t, invalidated["bob"])
	assert.Positive(t, invalidated["carol"])

	clear(invalidated)
	requireHealed(t, runner)
	assert.Empty(t, invalidated)
}
