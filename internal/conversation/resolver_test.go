package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chirino/spacechat/internal/model"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/testutil/teststore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCreatesProjectChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.ProjectSpace(t, f.store, "alice", "Roadmap")

	res, err := f.svc.Resolver().Resolve(ctx, space.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, map[string]string{"alice": "owner"}, grants(res))

	msgs, err := f.store.ListMessages(ctx, res.ChatID, nil, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsSystem())
	assert.Equal(t, "alice created project Roadmap", msgs[0].Body)
}

func TestResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.UserSpace(t, f.store, "alice", "bob")

	first, err := f.svc.Resolver().Resolve(ctx, space.ID, "alice")
	require.NoError(t, err)
	second, err := f.svc.Resolver().Resolve(ctx, space.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.ChatID, second.ChatID)
	assert.Equal(t, OutcomeExisting, second.Outcome)
	count, err := f.store.CountMessages(ctx, first.ChatID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestResolveUserSpaceAddsCounterpart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.UserSpace(t, f.store, "alice", "bob")

	res, err := f.svc.Resolver().Resolve(ctx, space.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "owner", "bob": "counterpart"}, grants(res))
	require.NotNil(t, res.Counterpart)
	assert.Equal(t, "bob", res.Counterpart.ID)

	msg, err := f.store.LatestMessage(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "alice started a conversation", msg.Body)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, []string{"bob"}, events[0].Recipients)
}

func TestResolveUserSpaceRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	space := teststore.UserSpace(t, f.store, "alice", "bob")

	_, err := f.svc.Resolver().Resolve(context.Background(), space.ID, "carol")
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
}

func TestResolveUnknownSpace(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Resolver().Resolve(context.Background(), uuid.New(), "alice")
	assert.True(t, registrystore.IsNotFound(err))
}

func TestResolveReusesDirectChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	aliceSide := teststore.UserSpace(t, f.store, "alice", "bob")
	bobSide := teststore.UserSpace(t, f.store, "bob", "alice")

	first, err := f.svc.Resolver().Resolve(ctx, aliceSide.ID, "alice")
	require.NoError(t, err)
	second, err := f.svc.Resolver().Resolve(ctx, bobSide.ID, "bob")
	require.NoError(t, err)

	assert.Equal(t, first.ChatID, second.ChatID)
	assert.Equal(t, OutcomeReused, second.Outcome)
	assert.Len(t, second.Participants, 2)

	chats, err := f.store.FindDirectChats(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
	count, err := f.store.CountMessages(ctx, first.ChatID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestResolveReusesSiblingByExternalKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := "doc-42"
	a := &model.Space{Category: model.SpaceCategoryProject, OwnerUserID: "alice", Name: "Spec", ExternalKey: &key}
	b := &model.Space{Category: model.SpaceCategoryProject, OwnerUserID: "bob", Name: "Spec (copy)", ExternalKey: &key}
	require.NoError(t, f.store.CreateSpace(ctx, a))
	require.NoError(t, f.store.CreateSpace(ctx, b))

	first, err := f.svc.Resolver().Resolve(ctx, a.ID, "alice")
	require.NoError(t, err)
	second, err := f.svc.Resolver().Resolve(ctx, b.ID, "bob")
	require.NoError(t, err)

	assert.Equal(t, first.ChatID, second.ChatID)
	assert.Equal(t, OutcomeReused, second.Outcome)
	assert.Contains(t, grants(second), "bob")
}

func TestConcurrentResolveConverges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 10; i++ {
		owner := fmt.Sprintf("owner-%d", i)
		peer := fmt.Sprintf("peer-%d", i)
		teststore.User(t, f.store, owner, owner+"@example.com")
		teststore.User(t, f.store, peer, peer+"@example.com")
		space := teststore.UserSpace(t, f.store, owner, peer)

		var wg sync.WaitGroup
		start := make(chan struct{})
		results := make([]*Resolution, 2)
		errs := make([]error, 2)
		for n, user := range []string{owner, peer} {
			wg.Add(1)
			go func(n int, user string) {
				defer wg.Done()
				<-start
				results[n], errs[n] = f.svc.Resolver().Resolve(ctx, space.ID, user)
			}(n, user)
		}
		close(start)
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.Equal(t, results[0].ChatID, results[1].ChatID)

		links, err := f.store.ListLinksBySpace(ctx, space.ID)
		require.NoError(t, err)
		assert.Len(t, links, 1)

		participants, err := f.store.ListParticipants(ctx, results[0].ChatID)
		require.NoError(t, err)
		assert.Len(t, participants, 2)

		orphans, err := f.store.ListOrphanChats(ctx, model.Now().Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, orphans)
	}
}

// linkRaceStore lets another writer win the link insert right before the
// wrapped store sees it.
type linkRaceStore struct {
	registrystore.SpaceStore
	winner      uuid.UUID
	speculative uuid.UUID
}

func (s *linkRaceStore) CreateLink(ctx context.Context, link *model.SpaceChatLink) error {
	if s.winner == uuid.Nil {
		chat := &model.Chat{}
		if err := s.SpaceStore.CreateChat(ctx, chat); err != nil {
			return err
		}
		if err := s.SpaceStore.CreateLink(ctx, &model.SpaceChatLink{SpaceID: link.SpaceID, ChatID: chat.ID}); err != nil {
			return err
		}
		s.winner = chat.ID
		s.speculative = link.ChatID
	}
	return s.SpaceStore.CreateLink(ctx, link)
}

func TestRaceLoserDeletesSpeculativeChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.ProjectSpace(t, f.store, "alice", "Roadmap")

	racing := &linkRaceStore{SpaceStore: f.store}
	dir, err := NewDirectory(racing, 10)
	require.NoError(t, err)
	defer dir.Close()
	resolver := NewResolver(racing, NewAccessGuard(racing), dir, nil)

	res, err := resolver.Resolve(ctx, space.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdopted, res.Outcome)
	assert.Equal(t, racing.winner, res.ChatID)

	_, err = f.store.GetChat(ctx, racing.speculative)
	assert.True(t, registrystore.IsNotFound(err), "speculative chat must be deleted")
	participants, err := f.store.ListParticipants(ctx, racing.speculative)
	require.NoError(t, err)
	assert.Empty(t, participants)

	// The loser never writes the creation message.
	count, err := f.store.CountMessages(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestResolveCollapsesDuplicateLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	teststore.DropLinkUniqueness(t, f.store)
	space := teststore.ProjectSpace(t, f.store, "alice", "Legacy")
	kept := teststore.Chat(t, f.store, []uuid.UUID{space.ID}, model.GrantOwner, "alice")
	dropped := teststore.Chat(t, f.store, []uuid.UUID{space.ID}, model.GrantOwner, "alice")

	res, err := f.svc.Resolver().Resolve(ctx, space.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, kept, res.ChatID)

	links, err := f.store.ListLinksBySpace(ctx, space.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, kept, links[0].ChatID)

	tasks, err := f.store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskMergeChat, tasks[0].TaskType)
	assert.Equal(t, dropped.String(), tasks[0].TaskBody["fromChatId"])
	assert.Equal(t, kept.String(), tasks[0].TaskBody["intoChatId"])

	// A second pass finds nothing to heal.
	_, err = f.svc.Resolver().Resolve(ctx, space.ID, "alice")
	require.NoError(t, err)
	tasks, err = f.store.ClaimReadyTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestResolveLeavesCrowdedUserChatAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.UserSpace(t, f.store, "alice", "bob")
	chatID := teststore.Chat(t, f.store, []uuid.UUID{space.ID}, model.GrantLegacy, "alice", "carol", "dave")

	res, err := f.svc.Resolver().Resolve(ctx, space.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, chatID, res.ChatID)
	assert.Len(t, res.Participants, 3)
	assert.False(t, res.IsParticipant("bob"))
}

func TestVisitorCreatingProjectChatCreditsOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.ProjectSpace(t, f.store, "alice", "Roadmap")

	res, err := f.svc.Resolver().Resolve(ctx, space.ID, "dave")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, map[string]string{"alice": "owner", "dave": "resolve"}, grants(res))

	msg, err := f.store.LatestMessage(ctx, res.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "alice created project Roadmap", msg.Body)

	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].AuthorID)
	assert.Equal(t, []string{"dave"}, events[0].Recipients)
}
