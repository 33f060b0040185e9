package service

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/spacechat/internal/consolidation"
	"github.com/chirino/spacechat/internal/conversation"
	"github.com/chirino/spacechat/internal/model"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/testutil/teststore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskProcessorMergesDroppedChat(t *testing.T) {
	ctx := context.Background()
	store := teststore.New(t)
	teststore.User(t, store, "alice", "alice@example.com")
	teststore.DropLinkUniqueness(t, store)
	space := teststore.ProjectSpace(t, store, "alice", "Legacy")
	kept := teststore.Chat(t, store, []uuid.UUID{space.ID}, model.GrantOwner, "alice")
	dropped := teststore.Chat(t, store, []uuid.UUID{space.ID}, model.GrantOwner, "alice")
	teststore.Message(t, store, dropped, "alice", "keep me")

	svc, err := conversation.New(store, nil, nil, conversation.Options{})
	require.NoError(t, err)
	defer svc.Close()
	_, err = svc.Conversation(ctx, space.ID, "alice")
	require.NoError(t, err)

	runner := consolidation.NewRunner(store, consolidation.Options{})
	NewTaskProcessor(store, runner, time.Minute).ProcessBatch(ctx)

	_, err = store.GetChat(ctx, dropped)
	assert.True(t, registrystore.IsNotFound(err))
	count, err := store.CountMessages(ctx, kept)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	var remaining int64
	require.NoError(t, store.DB().Model(&model.Task{}).Count(&remaining).Error)
	assert.Zero(t, remaining)
}

func TestTaskProcessorRetriesFailedTasks(t *testing.T) {
	ctx := context.Background()
	store := teststore.New(t)
	require.NoError(t, store.CreateTask(ctx, conversation.TaskMergeChat, map[string]interface{}{"fromChatId": "not-a-uuid"}))
	require.NoError(t, store.CreateTask(ctx, "unknown", map[string]interface{}{}))

	runner := consolidation.NewRunner(store, consolidation.Options{})
	NewTaskProcessor(store, runner, time.Minute).ProcessBatch(ctx)

	var tasks []model.Task
	require.NoError(t, store.DB().Find(&tasks).Error)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, 1, task.RetryCount)
		require.NotNil(t, task.LastError)
		assert.True(t, task.RetryAt.After(time.Now()))
	}
}

func TestConsolidationServiceRunOnce(t *testing.T) {
	ctx := context.Background()
	store := teststore.New(t)
	teststore.User(t, store, "alice", "alice@example.com")
	teststore.UserSpace(t, store, "alice", "bob")
	teststore.UserSpace(t, store, "alice", "bob")

	svc := NewConsolidationService(consolidation.NewRunner(store, consolidation.Options{}), 0)
	assert.Nil(t, svc.Last())

	report, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SpacesArchived)
	require.NotNil(t, svc.Last())

	report, err = svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, report.Changed())
}

func TestConsolidationServiceDisabled(t *testing.T) {
	svc := NewConsolidationService(nil, 0)
	done := make(chan struct{})
	go func() {
		svc.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start must return immediately when disabled")
	}
}
