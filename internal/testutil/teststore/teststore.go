// Package teststore provides a throwaway SQLite-backed SpaceStore for tests.
package teststore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/spacechat/internal/model"
	"github.com/chirino/spacechat/internal/plugin/store/gormstore"
	"github.com/chirino/spacechat/internal/plugin/store/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// New opens a migrated SQLite database in a temp dir. It is closed when the
// test ends.
func New(tb testing.TB) *gormstore.Store {
	tb.Helper()
	return Open(tb, filepath.Join(tb.TempDir(), "spacechat.db"))
}

// Open migrates and opens the SQLite database at path.
func Open(tb testing.TB, path string) *gormstore.Store {
	tb.Helper()

	db, err := sqlite.Open(path)
	require.NoError(tb, err)
	sqlDB, err := db.DB()
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(tb, sqlite.Migrate(context.Background(), db))
	return gormstore.New(db, sqlite.Dialect{})
}

// User inserts a user whose display name is its id.
func User(tb testing.TB, store *gormstore.Store, id, email string) *model.User {
	tb.Helper()
	u := &model.User{ID: id, DisplayName: id, Email: email}
	require.NoError(tb, store.CreateUser(context.Background(), u))
	return u
}

// ProjectSpace inserts a project space owned by owner.
func ProjectSpace(tb testing.TB, store *gormstore.Store, owner, name string, parents ...uuid.UUID) *model.Space {
	tb.Helper()
	s := &model.Space{Category: model.SpaceCategoryProject, OwnerUserID: owner, Name: name, ParentIDs: parents}
	require.NoError(tb, store.CreateSpace(context.Background(), s))
	return s
}

// UserSpace inserts a user space owned by owner pointing at counterpart.
func UserSpace(tb testing.TB, store *gormstore.Store, owner, counterpart string) *model.Space {
	tb.Helper()
	s := &model.Space{Category: model.SpaceCategoryUser, OwnerUserID: owner, Name: counterpart}
	require.NoError(tb, store.CreateSpace(context.Background(), s))
	return s
}

// Chat inserts a chat, links it to each space and adds participants with the
// given grant.
func Chat(tb testing.TB, store *gormstore.Store, spaces []uuid.UUID, grant model.Grant, users ...string) uuid.UUID {
	tb.Helper()
	ctx := context.Background()
	chat := &model.Chat{}
	require.NoError(tb, store.CreateChat(ctx, chat))
	for _, spaceID := range spaces {
		require.NoError(tb, store.CreateLink(ctx, &model.SpaceChatLink{SpaceID: spaceID, ChatID: chat.ID}))
	}
	for _, u := range users {
		_, err := store.AddParticipant(ctx, &model.ChatParticipant{ChatID: chat.ID, UserID: u, Grant: grant})
		require.NoError(tb, err)
	}
	return chat.ID
}

// Message inserts a message; an empty author writes a system message.
func Message(tb testing.TB, store *gormstore.Store, chatID uuid.UUID, author, body string) *model.ChatMessage {
	tb.Helper()
	msg := &model.ChatMessage{ChatID: chatID, Body: body}
	if author != "" {
		msg.AuthorUserID = &author
	}
	require.NoError(tb, store.CreateMessage(context.Background(), msg))
	return msg
}

// DropLinkUniqueness removes the one-link-per-space index so tests can
// reproduce legacy data.
func DropLinkUniqueness(tb testing.TB, store *gormstore.Store) {
	tb.Helper()
	require.NoError(tb, store.DB().Exec("DROP INDEX uq_space_chat_links_space").Error)
}
