package conversation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/chirino/spacechat/internal/model"
	registrynotify "github.com/chirino/spacechat/internal/registry/notify"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/testutil/teststore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagesRequiresParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.UserSpace(t, f.store, "alice", "bob")
	conv, err := f.svc.Conversation(ctx, space.ID, "alice")
	require.NoError(t, err)

	_, err = f.svc.Messages(ctx, conv.ChatID, "carol", 0, nil)
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	_, err = f.svc.Messages(ctx, uuid.New(), "alice", 0, nil)
	assert.True(t, registrystore.IsNotFound(err))

	msgs, err := f.svc.Messages(ctx, conv.ChatID, "bob", 0, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMessagesPagesOldestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.ProjectSpace(t, f.store, "alice", "Paging")
	conv, err := f.svc.Conversation(ctx, space.ID, "alice")
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := f.svc.PostMessage(ctx, conv.ChatID, "alice", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	page, err := f.svc.Messages(ctx, conv.ChatID, "alice", 3, nil)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"m3", "m4", "m5"}, bodies(page))

	older, err := f.svc.Messages(ctx, conv.ChatID, "alice", 3, &page[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice created project Paging", "m1", "m2"}, bodies(older))

	other := teststore.ProjectSpace(t, f.store, "alice", "Other")
	otherConv, err := f.svc.Conversation(ctx, other.ID, "alice")
	require.NoError(t, err)
	_, err = f.svc.Messages(ctx, otherConv.ChatID, "alice", 3, &page[0].ID)
	var invalid *registrystore.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func bodies(msgs []model.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}

func TestPostMessageValidatesAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.UserSpace(t, f.store, "alice", "bob")
	conv, err := f.svc.Conversation(ctx, space.ID, "alice")
	require.NoError(t, err)

	_, err = f.svc.PostMessage(ctx, conv.ChatID, "alice", "   ")
	var invalid *registrystore.ValidationError
	require.ErrorAs(t, err, &invalid)

	_, err = f.svc.PostMessage(ctx, conv.ChatID, "alice", strings.Repeat("x", MaxMessageLength+1))
	require.ErrorAs(t, err, &invalid)

	_, err = f.svc.PostMessage(ctx, conv.ChatID, "carol", "let me in")
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	msg, err := f.svc.PostMessage(ctx, conv.ChatID, "alice", strings.Repeat("y", 200))
	require.NoError(t, err)

	events := f.sink.Events()
	last := events[len(events)-1]
	assert.Equal(t, registrynotify.EventMessagePosted, last.Type)
	assert.Equal(t, msg.ID, last.MessageID)
	assert.Equal(t, []string{"bob"}, last.Recipients)
	assert.Equal(t, previewLength+1, len([]rune(last.Preview)))
}

func TestPostMessageSurvivesSinkFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.UserSpace(t, f.store, "alice", "bob")
	conv, err := f.svc.Conversation(ctx, space.ID, "alice")
	require.NoError(t, err)

	f.sink.fail = true
	msg, err := f.svc.PostMessage(ctx, conv.ChatID, "bob", "still delivered")
	require.NoError(t, err)
	stored, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "still delivered", stored.Body)
}

func TestMembershipEdits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	space := teststore.ProjectSpace(t, f.store, "alice", "Team")

	_, err := f.svc.AddMembers(ctx, space.ID, "bob", []string{"carol"})
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)

	participants, err := f.svc.AddMembers(ctx, space.ID, "alice", []string{"bob", "carol"})
	require.NoError(t, err)
	assert.Len(t, participants, 3)
	for _, p := range participants {
		if p.UserID != "alice" {
			assert.Equal(t, model.GrantInvite, p.Grant)
		}
	}

	_, err = f.svc.AddMembers(ctx, space.ID, "alice", []string{"nobody"})
	assert.True(t, registrystore.IsNotFound(err))

	_, err = f.svc.RemoveMembers(ctx, space.ID, "alice", []string{"alice"})
	var invalid *registrystore.ValidationError
	require.ErrorAs(t, err, &invalid)

	participants, err = f.svc.RemoveMembers(ctx, space.ID, "alice", []string{"carol"})
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	dm := teststore.UserSpace(t, f.store, "alice", "bob")
	_, err = f.svc.AddMembers(ctx, dm.ID, "alice", []string{"carol"})
	require.ErrorAs(t, err, &invalid)
}

func TestMarkReadRejectsGhostVisitors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parent := teststore.ProjectSpace(t, f.store, "alice", "Client")
	child := teststore.ProjectSpace(t, f.store, "alice", "Project", parent.ID)
	teststore.Chat(t, f.store, []uuid.UUID{child.ID}, model.GrantInvite, "alice", "carol")

	err := f.svc.MarkRead(ctx, parent.ID, "carol")
	var forbidden *registrystore.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	require.NoError(t, f.svc.MarkRead(ctx, child.ID, "carol"))
}

func TestFirstContactOpensOneChatForBothSides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	conv, err := f.svc.FirstContact(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, conv.Participants, 2)

	aliceSide, err := f.store.FindUserSpaces(ctx, "alice", "bob@example.com")
	require.NoError(t, err)
	require.Len(t, aliceSide, 1)
	bobSide, err := f.store.FindUserSpaces(ctx, "bob", "alice@example.com")
	require.NoError(t, err)
	require.Len(t, bobSide, 1)

	mirror, err := f.svc.Conversation(ctx, bobSide[0].ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, conv.ChatID, mirror.ChatID)

	again, err := f.svc.FirstContact(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.ChatID, again.ChatID)
	aliceSide, err = f.store.FindUserSpaces(ctx, "alice", "bob@example.com")
	require.NoError(t, err)
	assert.Len(t, aliceSide, 1)

	_, err = f.svc.FirstContact(ctx, "alice", "alice")
	var invalid *registrystore.ValidationError
	require.ErrorAs(t, err, &invalid)
	_, err = f.svc.FirstContact(ctx, "alice", "nobody")
	assert.True(t, registrystore.IsNotFound(err))
}

func TestCounterpartGetsMirrorSpaceWithUnreadCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	aliceSide := teststore.UserSpace(t, f.store, "alice", "bob@example.com")
	conv, err := f.svc.Conversation(ctx, aliceSide.ID, "alice")
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, conv.ChatID, "alice", "are you there?")
	require.NoError(t, err)

	bobConv, err := f.svc.Conversation(ctx, aliceSide.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, conv.ChatID, bobConv.ChatID)

	mirrors, err := f.store.FindUserSpaces(ctx, "bob", "alice@example.com")
	require.NoError(t, err)
	require.Len(t, mirrors, 1)
	links, err := f.store.ListLinksBySpace(ctx, mirrors[0].ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, conv.ChatID, links[0].ChatID)

	counts, err := f.svc.UnreadCounts(ctx, "bob")
	require.NoError(t, err)
	assert.Positive(t, counts[mirrors[0].ID])

	_, err = f.svc.Conversation(ctx, aliceSide.ID, "bob")
	require.NoError(t, err)
	mirrors, err = f.store.FindUserSpaces(ctx, "bob", "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, mirrors, 1)
}

func TestCreateProjectSpace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.svc.CreateProjectSpace(ctx, "alice", "  ", nil, nil)
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)

	user := teststore.UserSpace(t, f.store, "alice", "bob")
	_, _, err = f.svc.CreateProjectSpace(ctx, "alice", "Child", nil, []uuid.UUID{user.ID})
	require.ErrorAs(t, err, &validation)
	_, _, err = f.svc.CreateProjectSpace(ctx, "alice", "Child", nil, []uuid.UUID{uuid.New()})
	require.ErrorAs(t, err, &validation)

	parent, _, err := f.svc.CreateProjectSpace(ctx, "alice", "Client", nil, nil)
	require.NoError(t, err)
	child, conv, err := f.svc.CreateProjectSpace(ctx, "alice", "Project", nil, []uuid.UUID{parent.ID})
	require.NoError(t, err)
	assert.Equal(t, child.ID, conv.SpaceID)
	require.Len(t, conv.Participants, 1)
	assert.Equal(t, "alice", conv.Participants[0].UserID)

	stored, err := f.store.GetSpace(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{parent.ID}, stored.ParentIDs)
}
