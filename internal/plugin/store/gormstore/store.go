// Package gormstore implements registry/store.SpaceStore on top of GORM. The
// postgres and sqlite plugins wrap it with their drivers and dialects.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/spacechat/internal/model"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dialect covers the few places where SQL backends differ.
type Dialect interface {
	Name() string
	IsUniqueViolation(err error) bool
	ClaimReadyTasks(ctx context.Context, db *gorm.DB, limit int) ([]model.Task, error)
}

// Store implements SpaceStore using GORM.
type Store struct {
	db      *gorm.DB
	dialect Dialect
}

// New wraps an open GORM handle.
func New(db *gorm.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

var _ registrystore.SpaceStore = (*Store)(nil)

func (s *Store) conflict(err error, msg string) error {
	if s.dialect.IsUniqueViolation(err) {
		return &registrystore.ConflictError{Message: msg, Code: registrystore.CodeUniqueViolation}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = model.Now()
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if cErr := s.conflict(err, "user already exists"); cErr != nil {
			return cErr
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) FindUserByEmailOrName(ctx context.Context, key string) (*model.User, error) {
	key = strings.TrimSpace(key)
	var u model.User
	err := s.db.WithContext(ctx).
		Where("email = ? OR display_name = ?", key, key).
		Order("created_at, id").
		Take(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: key}
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// --- Spaces ---

func (s *Store) CreateSpace(ctx context.Context, space *model.Space) error {
	if space.ID == uuid.Nil {
		space.ID = model.NewID()
	}
	if space.CreatedAt.IsZero() {
		space.CreatedAt = model.Now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(space).Error; err != nil {
			return fmt.Errorf("failed to create space: %w", err)
		}
		for _, parentID := range space.ParentIDs {
			edge := model.SpaceParent{SpaceID: space.ID, ParentID: parentID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge).Error; err != nil {
				return fmt.Errorf("failed to add space parent: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetSpace(ctx context.Context, spaceID uuid.UUID) (*model.Space, error) {
	var sp model.Space
	err := s.db.WithContext(ctx).Where("id = ?", spaceID).Take(&sp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "space", ID: spaceID.String()}
		}
		return nil, fmt.Errorf("failed to get space: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&model.SpaceParent{}).
		Where("space_id = ?", spaceID).
		Order("parent_id").
		Pluck("parent_id", &sp.ParentIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load space parents: %w", err)
	}
	return &sp, nil
}

func (s *Store) ListSpacesByExternalKey(ctx context.Context, externalKey string) ([]model.Space, error) {
	var spaces []model.Space
	err := s.db.WithContext(ctx).
		Where("external_key = ?", externalKey).
		Order("created_at, id").
		Find(&spaces).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces by external key: %w", err)
	}
	return spaces, nil
}

func (s *Store) ListChildSpaceIDs(ctx context.Context, parentIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&model.SpaceParent{}).
		Distinct("space_id").
		Where("parent_id IN ?", parentIDs).
		Pluck("space_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list child spaces: %w", err)
	}
	return ids, nil
}

func (s *Store) ListParentSpaceIDs(ctx context.Context, afterID *uuid.UUID, limit int) ([]uuid.UUID, error) {
	q := s.db.WithContext(ctx).Model(&model.SpaceParent{}).Distinct("parent_id")
	if afterID != nil {
		q = q.Where("parent_id > ?", *afterID)
	}
	var ids []uuid.UUID
	if err := q.Order("parent_id").Limit(limit).Pluck("parent_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list parent spaces: %w", err)
	}
	return ids, nil
}

func (s *Store) FindUserSpaces(ctx context.Context, ownerUserID string, name string) ([]model.Space, error) {
	var spaces []model.Space
	err := s.db.WithContext(ctx).
		Where("category = ? AND owner_user_id = ? AND name = ? AND archived = ?", model.SpaceCategoryUser, ownerUserID, name, false).
		Order("created_at, id").
		Find(&spaces).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find user spaces: %w", err)
	}
	return spaces, nil
}

func (s *Store) ListDuplicateUserSpaces(ctx context.Context, limit int) ([]registrystore.OwnerName, error) {
	var groups []registrystore.OwnerName
	err := s.db.WithContext(ctx).Model(&model.Space{}).
		Select("owner_user_id, name").
		Where("category = ? AND archived = ?", model.SpaceCategoryUser, false).
		Group("owner_user_id, name").
		Having("COUNT(*) > 1").
		Order("owner_user_id, name").
		Limit(limit).
		Scan(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate user spaces: %w", err)
	}
	return groups, nil
}

func (s *Store) ArchiveSpace(ctx context.Context, spaceID uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&model.Space{}).
		Where("id = ?", spaceID).
		Update("archived", true)
	if result.Error != nil {
		return fmt.Errorf("failed to archive space: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "space", ID: spaceID.String()}
	}
	return nil
}

// --- Chats ---

func (s *Store) CreateChat(ctx context.Context, chat *model.Chat) error {
	if chat.ID == uuid.Nil {
		chat.ID = model.NewID()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = model.Now()
	}
	if err := s.db.WithContext(ctx).Create(chat).Error; err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, chatID uuid.UUID) (*model.Chat, error) {
	var c model.Chat
	err := s.db.WithContext(ctx).Where("id = ?", chatID).Take(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "chat", ID: chatID.String()}
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &c, nil
}

func (s *Store) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{
			&model.SpaceChatLink{},
			&model.ChatMessageRead{},
			&model.ChatParticipant{},
			&model.ChatMessage{},
		} {
			if err := tx.Where("chat_id = ?", chatID).Delete(m).Error; err != nil {
				return fmt.Errorf("failed to delete chat dependents: %w", err)
			}
		}
		if err := tx.Where("id = ?", chatID).Delete(&model.Chat{}).Error; err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		return nil
	})
}

func (s *Store) ListOrphanChats(ctx context.Context, createdBefore time.Time, limit int) ([]registrystore.OrphanChat, error) {
	type row struct {
		ID           uuid.UUID
		CreatedAt    time.Time
		MessageCount int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Raw(`
		SELECT c.id, c.created_at,
			(SELECT COUNT(*) FROM chat_messages m WHERE m.chat_id = c.id) AS message_count
		FROM chats c
		WHERE c.created_at < ?
			AND NOT EXISTS (SELECT 1 FROM space_chat_links l WHERE l.chat_id = c.id)
		ORDER BY c.created_at, c.id
		LIMIT ?
	`, model.Normalize(createdBefore), limit).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan chats: %w", err)
	}
	out := make([]registrystore.OrphanChat, len(rows))
	for i, r := range rows {
		out[i] = registrystore.OrphanChat{
			Chat:         model.Chat{ID: r.ID, CreatedAt: r.CreatedAt},
			MessageCount: r.MessageCount,
		}
	}
	return out, nil
}

// --- Links ---

func (s *Store) ListLinksBySpace(ctx context.Context, spaceID uuid.UUID) ([]model.SpaceChatLink, error) {
	var links []model.SpaceChatLink
	err := s.db.WithContext(ctx).
		Where("space_id = ?", spaceID).
		Order("created_at, id").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return links, nil
}

func (s *Store) ListLinksByChat(ctx context.Context, chatID uuid.UUID) ([]model.SpaceChatLink, error) {
	var links []model.SpaceChatLink
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at, id").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return links, nil
}

func (s *Store) CreateLink(ctx context.Context, link *model.SpaceChatLink) error {
	if link.ID == uuid.Nil {
		link.ID = model.NewID()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = model.Now()
	}
	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		if cErr := s.conflict(err, "space already has a chat"); cErr != nil {
			return cErr
		}
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

func (s *Store) DeleteLink(ctx context.Context, linkID uuid.UUID) error {
	if err := s.db.WithContext(ctx).Where("id = ?", linkID).Delete(&model.SpaceChatLink{}).Error; err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	return nil
}

func (s *Store) RelinkChat(ctx context.Context, fromChatID, toChatID uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).Model(&model.SpaceChatLink{}).
		Where("chat_id = ?", fromChatID).
		Update("chat_id", toChatID)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to relink chat: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) ListSpacesWithDuplicateLinks(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&model.SpaceChatLink{}).
		Select("space_id").
		Group("space_id").
		Having("COUNT(*) > 1").
		Order("space_id").
		Limit(limit).
		Pluck("space_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate links: %w", err)
	}
	return ids, nil
}

// --- Participants ---

func (s *Store) ListParticipants(ctx context.Context, chatID uuid.UUID) ([]model.ChatParticipant, error) {
	var ps []model.ChatParticipant
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at, user_id").
		Find(&ps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return ps, nil
}

func (s *Store) GetParticipant(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatParticipant, error) {
	var p model.ChatParticipant
	err := s.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID).Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "participant", ID: userID}
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return &p, nil
}

func (s *Store) AddParticipant(ctx context.Context, participant *model.ChatParticipant) (bool, error) {
	if participant.CreatedAt.IsZero() {
		participant.CreatedAt = model.Now()
	}
	if participant.Grant == "" {
		participant.Grant = model.GrantLegacy
	}
	if err := s.db.WithContext(ctx).Create(participant).Error; err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to add participant: %w", err)
	}
	return true, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, chatID uuid.UUID, userID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Delete(&model.ChatParticipant{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to remove participant: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) IsParticipantOfSpaces(ctx context.Context, userID string, spaceIDs []uuid.UUID) (bool, error) {
	if len(spaceIDs) == 0 {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Table("chat_participants AS p").
		Joins("JOIN space_chat_links AS l ON l.chat_id = p.chat_id").
		Where("p.user_id = ? AND l.space_id IN ?", userID, spaceIDs).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check participation: %w", err)
	}
	return count > 0, nil
}

// --- Direct chats ---

const directChatFilter = `
	EXISTS (SELECT 1 FROM space_chat_links l WHERE l.chat_id = %[1]s)
	AND NOT EXISTS (
		SELECT 1 FROM space_chat_links l
		JOIN spaces s ON s.id = l.space_id
		WHERE l.chat_id = %[1]s AND s.category <> 'user'
	)`

func (s *Store) FindDirectChats(ctx context.Context, userA, userB string) ([]model.Chat, error) {
	var chats []model.Chat
	err := s.db.WithContext(ctx).Raw(`
		SELECT c.id, c.created_at
		FROM chats c
		WHERE c.id IN (
			SELECT chat_id FROM chat_participants
			GROUP BY chat_id
			HAVING COUNT(*) = 2 AND SUM(CASE WHEN user_id IN (?, ?) THEN 1 ELSE 0 END) = 2
		)
		AND `+fmt.Sprintf(directChatFilter, "c.id")+`
		ORDER BY c.created_at, c.id
	`, userA, userB).Scan(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find direct chats: %w", err)
	}
	return chats, nil
}

func (s *Store) ListDuplicateDirectPairs(ctx context.Context, limit int) ([]registrystore.UserPair, error) {
	var pairs []registrystore.UserPair
	err := s.db.WithContext(ctx).Raw(`
		WITH dm AS (
			SELECT chat_id, MIN(user_id) AS a, MAX(user_id) AS b
			FROM chat_participants
			GROUP BY chat_id
			HAVING COUNT(*) = 2
		)
		SELECT a, b FROM dm
		WHERE `+fmt.Sprintf(directChatFilter, "dm.chat_id")+`
		GROUP BY a, b
		HAVING COUNT(*) > 1
		ORDER BY a, b
		LIMIT ?
	`, limit).Scan(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate direct chats: %w", err)
	}
	return pairs, nil
}

// --- Messages ---

func (s *Store) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = model.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = model.Now()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, messageID uuid.UUID) (*model.ChatMessage, error) {
	var m model.ChatMessage
	err := s.db.WithContext(ctx).Where("id = ?", messageID).Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

func (s *Store) LatestMessage(ctx context.Context, chatID uuid.UUID) (*model.ChatMessage, error) {
	var msgs []model.ChatMessage
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get latest message: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

func (s *Store) ListMessages(ctx context.Context, chatID uuid.UUID, before *registrystore.MessageCursor, limit int) ([]model.ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if before != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", before.CreatedAt, before.CreatedAt, before.ID)
	}
	var msgs []model.ChatMessage
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) CountUnread(ctx context.Context, chatID uuid.UUID, userID string, after *registrystore.MessageCursor) (int64, error) {
	q := s.db.WithContext(ctx).Model(&model.ChatMessage{}).
		Where("chat_id = ?", chatID).
		Where("(author_user_id IS NULL OR author_user_id <> ?)", userID)
	if after != nil {
		q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return count, nil
}

func (s *Store) CountMessages(ctx context.Context, chatID uuid.UUID) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.ChatMessage{}).Where("chat_id = ?", chatID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *Store) MoveMessages(ctx context.Context, fromChatID, toChatID uuid.UUID) (int64, error) {
	result := s.db.WithContext(ctx).Model(&model.ChatMessage{}).
		Where("chat_id = ?", fromChatID).
		Update("chat_id", toChatID)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to move messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// --- Reads ---

func (s *Store) GetRead(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatMessageRead, error) {
	var reads []model.ChatMessageRead
	err := s.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Limit(1).
		Find(&reads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get read state: %w", err)
	}
	if len(reads) == 0 {
		return nil, nil
	}
	return &reads[0], nil
}

func (s *Store) UpsertRead(ctx context.Context, read *model.ChatMessageRead) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_read_message_id", "last_read_at"}),
	}).Create(read).Error
	if err != nil {
		return fmt.Errorf("failed to upsert read state: %w", err)
	}
	return nil
}

func (s *Store) ListReads(ctx context.Context, chatID uuid.UUID) ([]model.ChatMessageRead, error) {
	var reads []model.ChatMessageRead
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("user_id").Find(&reads).Error; err != nil {
		return nil, fmt.Errorf("failed to list read state: %w", err)
	}
	return reads, nil
}

func (s *Store) DeleteRead(ctx context.Context, chatID uuid.UUID, userID string) error {
	err := s.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Delete(&model.ChatMessageRead{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete read state: %w", err)
	}
	return nil
}

func (s *Store) UnreadCountsBySpace(ctx context.Context, userID string) (map[uuid.UUID]int64, error) {
	type row struct {
		SpaceID uuid.UUID
		Unread  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Raw(`
		SELECT l.space_id AS space_id, COUNT(m.id) AS unread
		FROM chat_participants p
		JOIN space_chat_links l ON l.chat_id = p.chat_id
		JOIN spaces s ON s.id = l.space_id
			AND s.archived = ?
			AND (s.category = 'project' OR s.owner_user_id = p.user_id)
		LEFT JOIN chat_message_reads r ON r.chat_id = p.chat_id AND r.user_id = p.user_id
		LEFT JOIN chat_messages w ON w.id = r.last_read_message_id
		LEFT JOIN chat_messages m ON m.chat_id = p.chat_id
			AND (m.author_user_id IS NULL OR m.author_user_id <> p.user_id)
			AND (
				r.chat_id IS NULL
				OR (w.id IS NOT NULL AND (m.created_at > w.created_at OR (m.created_at = w.created_at AND m.id > w.id)))
				OR (w.id IS NULL AND m.created_at > r.last_read_at)
			)
		WHERE p.user_id = ?
		GROUP BY l.space_id
	`, false, userID).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count unread by space: %w", err)
	}
	counts := make(map[uuid.UUID]int64, len(rows))
	for _, r := range rows {
		counts[r.SpaceID] = r.Unread
	}
	return counts, nil
}

// --- Tasks ---

func (s *Store) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	var taskName *string
	if rawName, ok := taskBody["taskName"]; ok {
		if name, ok := rawName.(string); ok {
			trimmed := strings.TrimSpace(name)
			if trimmed != "" {
				taskName = &trimmed
			}
		}
	}
	now := model.Now()
	task := model.Task{
		ID:        model.NewID(),
		TaskName:  taskName,
		TaskType:  taskType,
		TaskBody:  taskBody,
		CreatedAt: now,
		RetryAt:   now,
	}
	err := s.db.WithContext(ctx).Create(&task).Error
	if err == nil {
		return nil
	}
	if taskName != nil && s.dialect.IsUniqueViolation(err) {
		// Singleton task already queued.
		return nil
	}
	return fmt.Errorf("failed to create task: %w", err)
}

func (s *Store) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	return s.dialect.ClaimReadyTasks(ctx, s.db.WithContext(ctx), limit)
}

func (s *Store) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.db.WithContext(ctx).Where("id = ?", taskID).Delete(&model.Task{}).Error
}

func (s *Store) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	return s.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", taskID).Updates(map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"retry_at":    model.Now().Add(retryDelay),
		"last_error":  errMsg,
	}).Error
}
