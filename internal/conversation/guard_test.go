package conversation

import (
	"context"
	"testing"

	"github.com/chirino/spacechat/internal/model"
	registrynotify "github.com/chirino/spacechat/internal/registry/notify"
	"github.com/chirino/spacechat/internal/testutil/teststore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGhostParentIsNotJoined(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parent := teststore.ProjectSpace(t, f.store, "alice", "Client")
	child := teststore.ProjectSpace(t, f.store, "alice", "Project", parent.ID)
	teststore.Chat(t, f.store, []uuid.UUID{child.ID}, model.GrantInvite, "alice", "carol")

	ok, err := f.svc.Guard().MayJoin(ctx, "carol", parent.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := f.svc.Resolver().Resolve(ctx, parent.ID, "carol")
	require.NoError(t, err)
	assert.False(t, res.IsParticipant("carol"))
	assert.True(t, res.IsParticipant("alice"))

	// Visiting the child still works.
	res, err = f.svc.Resolver().Resolve(ctx, child.ID, "carol")
	require.NoError(t, err)
	assert.True(t, res.IsParticipant("carol"))
}

func TestGhostVisitDoesNotClaimCreation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parent := teststore.ProjectSpace(t, f.store, "alice", "Acme")
	child := teststore.ProjectSpace(t, f.store, "alice", "Website", parent.ID)
	teststore.Chat(t, f.store, []uuid.UUID{child.ID}, model.GrantInvite, "alice", "carol")

	res, err := f.svc.Resolver().Resolve(ctx, parent.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.False(t, res.IsParticipant("carol"))

	msgs, err := f.store.ListMessages(ctx, res.ChatID, nil, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice created project Acme", msgs[0].Body)
	assert.Nil(t, msgs[0].AuthorUserID)

	// alice is the only participant, so nobody is told about her own chat.
	for _, e := range f.sink.Events() {
		assert.NotEqual(t, "carol", e.AuthorID)
		assert.NotEqual(t, registrynotify.EventChatCreated, e.Type)
	}
}

func TestGhostParentIsTransitive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := teststore.ProjectSpace(t, f.store, "alice", "Client")
	area := teststore.ProjectSpace(t, f.store, "alice", "Area", root.ID)
	leaf := teststore.ProjectSpace(t, f.store, "alice", "Project", area.ID)
	teststore.Chat(t, f.store, []uuid.UUID{leaf.ID}, model.GrantInvite, "carol")

	ok, err := f.svc.Guard().MayJoin(ctx, "carol", root.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMayJoinAllowsOwnersParticipantsAndStrangers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parent := teststore.ProjectSpace(t, f.store, "alice", "Client")
	child := teststore.ProjectSpace(t, f.store, "bob", "Project", parent.ID)
	teststore.Chat(t, f.store, []uuid.UUID{child.ID}, model.GrantInvite, "alice", "bob", "carol")
	teststore.Chat(t, f.store, []uuid.UUID{parent.ID}, model.GrantInvite, "alice", "carol")

	for _, user := range []string{"alice", "carol", "dave"} {
		ok, err := f.svc.Guard().MayJoin(ctx, user, parent.ID)
		require.NoError(t, err)
		assert.True(t, ok, user)
	}
	ok, err := f.svc.Guard().MayJoin(ctx, "bob", parent.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMayAddAdmitsExplicitGrants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parent := teststore.ProjectSpace(t, f.store, "alice", "Client")
	child := teststore.ProjectSpace(t, f.store, "alice", "Project", parent.ID)
	teststore.Chat(t, f.store, []uuid.UUID{child.ID}, model.GrantInvite, "carol")

	ok, err := f.svc.Guard().MayAdd(ctx, "carol", parent.ID, model.GrantInvite)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.svc.Guard().MayAdd(ctx, "carol", parent.ID, model.GrantResolve)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHealGhostMembershipRemovesOnlyLegacyRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parent := teststore.ProjectSpace(t, f.store, "alice", "Client")
	child := teststore.ProjectSpace(t, f.store, "alice", "Project", parent.ID)
	teststore.Chat(t, f.store, []uuid.UUID{child.ID}, model.GrantInvite, "carol", "dave")
	parentChat := teststore.Chat(t, f.store, []uuid.UUID{parent.ID}, model.GrantOwner, "alice")
	_, err := f.store.AddParticipant(ctx, &model.ChatParticipant{ChatID: parentChat, UserID: "carol", Grant: model.GrantLegacy})
	require.NoError(t, err)
	_, err = f.store.AddParticipant(ctx, &model.ChatParticipant{ChatID: parentChat, UserID: "dave", Grant: model.GrantInvite})
	require.NoError(t, err)

	removed, err := f.svc.Guard().HealGhostMembership(ctx, "carol", parent.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.svc.Guard().HealGhostMembership(ctx, "dave", parent.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = f.svc.Guard().HealGhostMembership(ctx, "carol", parent.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	participants, err := f.store.ListParticipants(ctx, parentChat)
	require.NoError(t, err)
	var users []string
	for _, p := range participants {
		users = append(users, p.UserID)
	}
	assert.ElementsMatch(t, []string{"alice", "dave"}, users)
}

func TestGuardSurvivesHierarchyCycles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := teststore.ProjectSpace(t, f.store, "alice", "A")
	b := teststore.ProjectSpace(t, f.store, "alice", "B", a.ID)
	require.NoError(t, f.store.DB().Create(&model.SpaceParent{SpaceID: a.ID, ParentID: b.ID}).Error)

	ok, err := f.svc.Guard().MayJoin(ctx, "carol", a.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}
