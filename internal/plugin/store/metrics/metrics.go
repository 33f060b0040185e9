package metrics

import (
	"context"
	"time"

	"github.com/chirino/spacechat/internal/model"
	"github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a SpaceStore that records StoreLatency for every operation.
func Wrap(inner store.SpaceStore) store.SpaceStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.SpaceStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) Ping(ctx context.Context) error {
	defer observe("ping", time.Now())
	return m.inner.Ping(ctx)
}

func (m *metricsStore) CreateUser(ctx context.Context, user *model.User) error {
	defer observe("create_user", time.Now())
	return m.inner.CreateUser(ctx, user)
}

func (m *metricsStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(ctx, userID)
}

func (m *metricsStore) FindUserByEmailOrName(ctx context.Context, key string) (*model.User, error) {
	defer observe("find_user_by_email_or_name", time.Now())
	return m.inner.FindUserByEmailOrName(ctx, key)
}

func (m *metricsStore) CreateSpace(ctx context.Context, space *model.Space) error {
	defer observe("create_space", time.Now())
	return m.inner.CreateSpace(ctx, space)
}

func (m *metricsStore) GetSpace(ctx context.Context, spaceID uuid.UUID) (*model.Space, error) {
	defer observe("get_space", time.Now())
	return m.inner.GetSpace(ctx, spaceID)
}

func (m *metricsStore) ListSpacesByExternalKey(ctx context.Context, externalKey string) ([]model.Space, error) {
	defer observe("list_spaces_by_external_key", time.Now())
	return m.inner.ListSpacesByExternalKey(ctx, externalKey)
}

func (m *metricsStore) ListChildSpaceIDs(ctx context.Context, parentIDs []uuid.UUID) ([]uuid.UUID, error) {
	defer observe("list_child_space_i_ds", time.Now())
	return m.inner.ListChildSpaceIDs(ctx, parentIDs)
}

func (m *metricsStore) ListParentSpaceIDs(ctx context.Context, afterID *uuid.UUID, limit int) ([]uuid.UUID, error) {
	defer observe("list_parent_space_i_ds", time.Now())
	return m.inner.ListParentSpaceIDs(ctx, afterID, limit)
}

func (m *metricsStore) FindUserSpaces(ctx context.Context, ownerUserID string, name string) ([]model.Space, error) {
	defer observe("find_user_spaces", time.Now())
	return m.inner.FindUserSpaces(ctx, ownerUserID, name)
}

func (m *metricsStore) ListDuplicateUserSpaces(ctx context.Context, limit int) ([]store.OwnerName, error) {
	defer observe("list_duplicate_user_spaces", time.Now())
	return m.inner.ListDuplicateUserSpaces(ctx, limit)
}

func (m *metricsStore) ArchiveSpace(ctx context.Context, spaceID uuid.UUID) error {
	defer observe("archive_space", time.Now())
	return m.inner.ArchiveSpace(ctx, spaceID)
}

func (m *metricsStore) CreateChat(ctx context.Context, chat *model.Chat) error {
	defer observe("create_chat", time.Now())
	return m.inner.CreateChat(ctx, chat)
}

func (m *metricsStore) GetChat(ctx context.Context, chatID uuid.UUID) (*model.Chat, error) {
	defer observe("get_chat", time.Now())
	return m.inner.GetChat(ctx, chatID)
}

func (m *metricsStore) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	defer observe("delete_chat", time.Now())
	return m.inner.DeleteChat(ctx, chatID)
}

func (m *metricsStore) ListOrphanChats(ctx context.Context, createdBefore time.Time, limit int) ([]store.OrphanChat, error) {
	defer observe("list_orphan_chats", time.Now())
	return m.inner.ListOrphanChats(ctx, createdBefore, limit)
}

func (m *metricsStore) ListLinksBySpace(ctx context.Context, spaceID uuid.UUID) ([]model.SpaceChatLink, error) {
	defer observe("list_links_by_space", time.Now())
	return m.inner.ListLinksBySpace(ctx, spaceID)
}

func (m *metricsStore) ListLinksByChat(ctx context.Context, chatID uuid.UUID) ([]model.SpaceChatLink, error) {
	defer observe("list_links_by_chat", time.Now())
	return m.inner.ListLinksByChat(ctx, chatID)
}

func (m *metricsStore) CreateLink(ctx context.Context, link *model.SpaceChatLink) error {
	defer observe("create_link", time.Now())
	return m.inner.CreateLink(ctx, link)
}

func (m *metricsStore) DeleteLink(ctx context.Context, linkID uuid.UUID) error {
	defer observe("delete_link", time.Now())
	return m.inner.DeleteLink(ctx, linkID)
}

func (m *metricsStore) RelinkChat(ctx context.Context, fromChatID, toChatID uuid.UUID) (int64, error) {
	defer observe("relink_chat", time.Now())
	return m.inner.RelinkChat(ctx, fromChatID, toChatID)
}

func (m *metricsStore) ListSpacesWithDuplicateLinks(ctx context.Context, limit int) ([]uuid.UUID, error) {
	defer observe("list_spaces_with_duplicate_links", time.Now())
	return m.inner.ListSpacesWithDuplicateLinks(ctx, limit)
}

func (m *metricsStore) ListParticipants(ctx context.Context, chatID uuid.UUID) ([]model.ChatParticipant, error) {
	defer observe("list_participants", time.Now())
	return m.inner.ListParticipants(ctx, chatID)
}

func (m *metricsStore) GetParticipant(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatParticipant, error) {
	defer observe("get_participant", time.Now())
	return m.inner.GetParticipant(ctx, chatID, userID)
}

func (m *metricsStore) AddParticipant(ctx context.Context, participant *model.ChatParticipant) (bool, error) {
	defer observe("add_participant", time.Now())
	return m.inner.AddParticipant(ctx, participant)
}

func (m *metricsStore) RemoveParticipant(ctx context.Context, chatID uuid.UUID, userID string) (bool, error) {
	defer observe("remove_participant", time.Now())
	return m.inner.RemoveParticipant(ctx, chatID, userID)
}

func (m *metricsStore) IsParticipantOfSpaces(ctx context.Context, userID string, spaceIDs []uuid.UUID) (bool, error) {
	defer observe("is_participant_of_spaces", time.Now())
	return m.inner.IsParticipantOfSpaces(ctx, userID, spaceIDs)
}

func (m *metricsStore) FindDirectChats(ctx context.Context, userA, userB string) ([]model.Chat, error) {
	defer observe("find_direct_chats", time.Now())
	return m.inner.FindDirectChats(ctx, userA, userB)
}

func (m *metricsStore) ListDuplicateDirectPairs(ctx context.Context, limit int) ([]store.UserPair, error) {
	defer observe("list_duplicate_direct_pairs", time.Now())
	return m.inner.ListDuplicateDirectPairs(ctx, limit)
}

func (m *metricsStore) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	defer observe("create_message", time.Now())
	return m.inner.CreateMessage(ctx, msg)
}

func (m *metricsStore) GetMessage(ctx context.Context, messageID uuid.UUID) (*model.ChatMessage, error) {
	defer observe("get_message", time.Now())
	return m.inner.GetMessage(ctx, messageID)
}

func (m *metricsStore) LatestMessage(ctx context.Context, chatID uuid.UUID) (*model.ChatMessage, error) {
	defer observe("latest_message", time.Now())
	return m.inner.LatestMessage(ctx, chatID)
}

func (m *metricsStore) ListMessages(ctx context.Context, chatID uuid.UUID, before *store.MessageCursor, limit int) ([]model.ChatMessage, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, chatID, before, limit)
}

func (m *metricsStore) CountUnread(ctx context.Context, chatID uuid.UUID, userID string, after *store.MessageCursor) (int64, error) {
	defer observe("count_unread", time.Now())
	return m.inner.CountUnread(ctx, chatID, userID, after)
}

func (m *metricsStore) CountMessages(ctx context.Context, chatID uuid.UUID) (int64, error) {
	defer observe("count_messages", time.Now())
	return m.inner.CountMessages(ctx, chatID)
}

func (m *metricsStore) MoveMessages(ctx context.Context, fromChatID, toChatID uuid.UUID) (int64, error) {
	defer observe("move_messages", time.Now())
	return m.inner.MoveMessages(ctx, fromChatID, toChatID)
}

func (m *metricsStore) GetRead(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatMessageRead, error) {
	defer observe("get_read", time.Now())
	return m.inner.GetRead(ctx, chatID, userID)
}

func (m *metricsStore) UpsertRead(ctx context.Context, read *model.ChatMessageRead) error {
	defer observe("upsert_read", time.Now())
	return m.inner.UpsertRead(ctx, read)
}

func (m *metricsStore) ListReads(ctx context.Context, chatID uuid.UUID) ([]model.ChatMessageRead, error) {
	defer observe("list_reads", time.Now())
	return m.inner.ListReads(ctx, chatID)
}

func (m *metricsStore) DeleteRead(ctx context.Context, chatID uuid.UUID, userID string) error {
	defer observe("delete_read", time.Now())
	return m.inner.DeleteRead(ctx, chatID, userID)
}

func (m *metricsStore) UnreadCountsBySpace(ctx context.Context, userID string) (map[uuid.UUID]int64, error) {
	defer observe("unread_counts_by_space", time.Now())
	return m.inner.UnreadCountsBySpace(ctx, userID)
}

func (m *metricsStore) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	defer observe("create_task", time.Now())
	return m.inner.CreateTask(ctx, taskType, taskBody)
}

func (m *metricsStore) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	defer observe("claim_ready_tasks", time.Now())
	return m.inner.ClaimReadyTasks(ctx, limit)
}

func (m *metricsStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	defer observe("delete_task", time.Now())
	return m.inner.DeleteTask(ctx, taskID)
}

func (m *metricsStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	defer observe("fail_task", time.Now())
	return m.inner.FailTask(ctx, taskID, errMsg, retryDelay)
}
