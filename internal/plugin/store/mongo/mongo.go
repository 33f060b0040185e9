package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/config"
	"github.com/chirino/spacechat/internal/model"
	registrymigrate "github.com/chirino/spacechat/internal/registry/migrate"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DatabaseName is the database every store and migration uses.
const DatabaseName = "spacechat"

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.SpaceStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return New(client, DatabaseName), nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

var collections = map[string][]mongo.IndexModel{
	"users": {
		{Keys: bson.D{{Key: "email", Value: 1}}},
		{Keys: bson.D{{Key: "display_name", Value: 1}}},
	},
	"spaces": {
		{Keys: bson.D{{Key: "external_key", Value: 1}}},
		{Keys: bson.D{{Key: "parent_ids", Value: 1}}},
		{Keys: bson.D{{Key: "owner_user_id", Value: 1}, {Key: "name", Value: 1}}},
	},
	"chats": {
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	},
	"space_chat_links": {
		{
			Keys:    bson.D{{Key: "space_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uq_space_chat_links_space"),
		},
		{Keys: bson.D{{Key: "chat_id", Value: 1}}},
	},
	"chat_participants": {
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	},
	"chat_messages": {
		{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
	},
	"chat_message_reads": {
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	},
	"tasks": {
		{Keys: bson.D{{Key: "retry_at", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "processing_at", Value: 1}}},
		{
			Keys:    bson.D{{Key: "task_name", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	},
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "mongo" {
		return nil // skip if not using mongo
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	if err := Migrate(ctx, client.Database(DatabaseName)); err != nil {
		return err
	}
	log.Info("MongoDB schema migration complete")
	return nil
}

// Migrate creates the collections and indexes in db.
func Migrate(ctx context.Context, db *mongo.Database) error {
	for name, indexes := range collections {
		// Ensure collection exists
		_ = db.CreateCollection(ctx, name)
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
		}
	}
	return nil
}

// MongoStore implements SpaceStore using MongoDB. Times are kept at
// millisecond precision, the resolution of a BSON date.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// New returns a store over the named database.
func New(client *mongo.Client, name string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(name)}
}

var _ registrystore.SpaceStore = (*MongoStore)(nil)

func (s *MongoStore) users() *mongo.Collection        { return s.db.Collection("users") }
func (s *MongoStore) spaces() *mongo.Collection       { return s.db.Collection("spaces") }
func (s *MongoStore) chats() *mongo.Collection        { return s.db.Collection("chats") }
func (s *MongoStore) links() *mongo.Collection        { return s.db.Collection("space_chat_links") }
func (s *MongoStore) participants() *mongo.Collection { return s.db.Collection("chat_participants") }
func (s *MongoStore) messages() *mongo.Collection     { return s.db.Collection("chat_messages") }
func (s *MongoStore) reads() *mongo.Collection        { return s.db.Collection("chat_message_reads") }
func (s *MongoStore) tasks() *mongo.Collection        { return s.db.Collection("tasks") }

// --- UUID and time helpers ---

func uuidToStr(id uuid.UUID) string { return id.String() }
func strToUUID(s string) uuid.UUID  { u, _ := uuid.Parse(s); return u }
func ptrUUIDToStr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
func ptrStrToUUID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	u := strToUUID(*s)
	return &u
}
func uuidsToStrs(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = uuidToStr(id)
	}
	return out
}
func strsToUUIDs(ids []string) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	for i, id := range ids {
		out[i] = strToUUID(id)
	}
	return out
}

func msTime(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

func stampOr(t time.Time) time.Time {
	if t.IsZero() {
		return msTime(model.Now())
	}
	return msTime(t)
}

func conflict(err error, msg string) error {
	if mongo.IsDuplicateKeyError(err) {
		return &registrystore.ConflictError{Message: msg, Code: registrystore.CodeUniqueViolation}
	}
	return nil
}

// cursorFilter matches messages strictly past c in the direction of op.
func cursorFilter(op string, c *registrystore.MessageCursor) bson.M {
	at := msTime(c.CreatedAt)
	return bson.M{"$or": []bson.M{
		{"created_at": bson.M{op: at}},
		{"created_at": at, "_id": bson.M{op: uuidToStr(c.ID)}},
	}}
}

// --- Documents ---

type userDoc struct {
	ID          string    `bson:"_id"`
	DisplayName string    `bson:"display_name"`
	Email       string    `bson:"email"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d *userDoc) toModel() *model.User {
	return &model.User{ID: d.ID, DisplayName: d.DisplayName, Email: d.Email, CreatedAt: d.CreatedAt.UTC()}
}

type spaceDoc struct {
	ID          string    `bson:"_id"`
	Category    string    `bson:"category"`
	OwnerUserID string    `bson:"owner_user_id"`
	Name        string    `bson:"name"`
	ExternalKey *string   `bson:"external_key,omitempty"`
	Archived    bool      `bson:"archived"`
	ParentIDs   []string  `bson:"parent_ids"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d *spaceDoc) toModel() model.Space {
	parents := append([]string(nil), d.ParentIDs...)
	sort.Strings(parents)
	return model.Space{
		ID:          strToUUID(d.ID),
		Category:    model.SpaceCategory(d.Category),
		OwnerUserID: d.OwnerUserID,
		Name:        d.Name,
		ExternalKey: d.ExternalKey,
		Archived:    d.Archived,
		ParentIDs:   strsToUUIDs(parents),
		CreatedAt:   d.CreatedAt.UTC(),
	}
}

type chatDoc struct {
	ID        string    `bson:"_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d *chatDoc) toModel() model.Chat {
	return model.Chat{ID: strToUUID(d.ID), CreatedAt: d.CreatedAt.UTC()}
}

type linkDoc struct {
	ID        string    `bson:"_id"`
	SpaceID   string    `bson:"space_id"`
	ChatID    string    `bson:"chat_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d *linkDoc) toModel() model.SpaceChatLink {
	return model.SpaceChatLink{
		ID:        strToUUID(d.ID),
		SpaceID:   strToUUID(d.SpaceID),
		ChatID:    strToUUID(d.ChatID),
		CreatedAt: d.CreatedAt.UTC(),
	}
}

type participantDoc struct {
	ChatID    string    `bson:"chat_id"`
	UserID    string    `bson:"user_id"`
	Grant     string    `bson:"grant_kind"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d *participantDoc) toModel() model.ChatParticipant {
	return model.ChatParticipant{
		ChatID:    strToUUID(d.ChatID),
		UserID:    d.UserID,
		Grant:     model.Grant(d.Grant),
		CreatedAt: d.CreatedAt.UTC(),
	}
}

type messageDoc struct {
	ID           string    `bson:"_id"`
	ChatID       string    `bson:"chat_id"`
	AuthorUserID *string   `bson:"author_user_id"`
	Body         string    `bson:"body"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d *messageDoc) toModel() model.ChatMessage {
	return model.ChatMessage{
		ID:           strToUUID(d.ID),
		ChatID:       strToUUID(d.ChatID),
		AuthorUserID: d.AuthorUserID,
		Body:         d.Body,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

type readDoc struct {
	ChatID            string    `bson:"chat_id"`
	UserID            string    `bson:"user_id"`
	LastReadMessageID *string   `bson:"last_read_message_id"`
	LastReadAt        time.Time `bson:"last_read_at"`
}

func (d *readDoc) toModel() model.ChatMessageRead {
	return model.ChatMessageRead{
		ChatID:            strToUUID(d.ChatID),
		UserID:            d.UserID,
		LastReadMessageID: ptrStrToUUID(d.LastReadMessageID),
		LastReadAt:        d.LastReadAt.UTC(),
	}
}

type taskDoc struct {
	ID           string         `bson:"_id"`
	TaskName     *string        `bson:"task_name,omitempty"`
	TaskType     string         `bson:"task_type"`
	TaskBody     map[string]any `bson:"task_body"`
	CreatedAt    time.Time      `bson:"created_at"`
	RetryAt      time.Time      `bson:"retry_at"`
	ProcessingAt *time.Time     `bson:"processing_at"`
	LastError    *string        `bson:"last_error,omitempty"`
	RetryCount   int            `bson:"retry_count"`
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...options.Lister[options.FindOptions]) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func aggregate[T any](ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline) ([]T, error) {
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var byCreated = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// --- Users ---

func (s *MongoStore) CreateUser(ctx context.Context, user *model.User) error {
	user.CreatedAt = stampOr(user.CreatedAt)
	_, err := s.users().InsertOne(ctx, userDoc{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		CreatedAt:   user.CreatedAt,
	})
	if err != nil {
		if cErr := conflict(err, "user already exists"); cErr != nil {
			return cErr
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var doc userDoc
	if err := s.users().FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) FindUserByEmailOrName(ctx context.Context, key string) (*model.User, error) {
	key = strings.TrimSpace(key)
	var doc userDoc
	err := s.users().FindOne(ctx,
		bson.M{"$or": []bson.M{{"email": key}, {"display_name": key}}},
		options.FindOne().SetSort(byCreated),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: key}
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc.toModel(), nil
}

// --- Spaces ---

func (s *MongoStore) CreateSpace(ctx context.Context, space *model.Space) error {
	if space.ID == uuid.Nil {
		space.ID = model.NewID()
	}
	space.CreatedAt = stampOr(space.CreatedAt)
	_, err := s.spaces().InsertOne(ctx, spaceDoc{
		ID:          uuidToStr(space.ID),
		Category:    string(space.Category),
		OwnerUserID: space.OwnerUserID,
		Name:        space.Name,
		ExternalKey: space.ExternalKey,
		Archived:    space.Archived,
		ParentIDs:   uuidsToStrs(space.ParentIDs),
		CreatedAt:   space.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create space: %w", err)
	}
	return nil
}

func (s *MongoStore) GetSpace(ctx context.Context, spaceID uuid.UUID) (*model.Space, error) {
	var doc spaceDoc
	if err := s.spaces().FindOne(ctx, bson.M{"_id": uuidToStr(spaceID)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "space", ID: spaceID.String()}
		}
		return nil, fmt.Errorf("failed to get space: %w", err)
	}
	sp := doc.toModel()
	return &sp, nil
}

func (s *MongoStore) findSpaces(ctx context.Context, filter bson.M) ([]model.Space, error) {
	docs, err := findAll[spaceDoc](ctx, s.spaces(), filter, options.Find().SetSort(byCreated))
	if err != nil {
		return nil, err
	}
	out := make([]model.Space, len(docs))
	for i := range docs {
		out[i] = docs[i].toModel()
	}
	return out, nil
}

func (s *MongoStore) ListSpacesByExternalKey(ctx context.Context, externalKey string) ([]model.Space, error) {
	spaces, err := s.findSpaces(ctx, bson.M{"external_key": externalKey})
	if err != nil {
		return nil, fmt.Errorf("failed to list spaces by external key: %w", err)
	}
	return spaces, nil
}

func (s *MongoStore) ListChildSpaceIDs(ctx context.Context, parentIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	docs, err := findAll[spaceDoc](ctx, s.spaces(),
		bson.M{"parent_ids": bson.M{"$in": uuidsToStrs(parentIDs)}},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list child spaces: %w", err)
	}
	ids := make([]uuid.UUID, len(docs))
	for i, d := range docs {
		ids[i] = strToUUID(d.ID)
	}
	return ids, nil
}

func (s *MongoStore) ListParentSpaceIDs(ctx context.Context, afterID *uuid.UUID, limit int) ([]uuid.UUID, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: "$parent_ids"}},
		{{Key: "$group", Value: bson.M{"_id": "$parent_ids"}}},
	}
	if afterID != nil {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{"_id": bson.M{"$gt": uuidToStr(*afterID)}}}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$sort", Value: bson.M{"_id": 1}}},
		bson.D{{Key: "$limit", Value: limit}},
	)
	rows, err := aggregate[struct {
		ID string `bson:"_id"`
	}](ctx, s.spaces(), pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list parent spaces: %w", err)
	}
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = strToUUID(r.ID)
	}
	return ids, nil
}

func (s *MongoStore) FindUserSpaces(ctx context.Context, ownerUserID string, name string) ([]model.Space, error) {
	spaces, err := s.findSpaces(ctx, bson.M{
		"category":      string(model.SpaceCategoryUser),
		"owner_user_id": ownerUserID,
		"name":          name,
		"archived":      false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find user spaces: %w", err)
	}
	return spaces, nil
}

func (s *MongoStore) ListDuplicateUserSpaces(ctx context.Context, limit int) ([]registrystore.OwnerName, error) {
	rows, err := aggregate[struct {
		Key struct {
			Owner string `bson:"owner"`
			Name  string `bson:"name"`
		} `bson:"_id"`
	}](ctx, s.spaces(), mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"category": string(model.SpaceCategoryUser), "archived": false}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"owner": "$owner_user_id", "name": "$name"},
			"n":   bson.M{"$sum": 1},
		}}},
		{{Key: "$match", Value: bson.M{"n": bson.M{"$gt": 1}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id.owner", Value: 1}, {Key: "_id.name", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate user spaces: %w", err)
	}
	out := make([]registrystore.OwnerName, len(rows))
	for i, r := range rows {
		out[i] = registrystore.OwnerName{OwnerUserID: r.Key.Owner, Name: r.Key.Name}
	}
	return out, nil
}

func (s *MongoStore) ArchiveSpace(ctx context.Context, spaceID uuid.UUID) error {
	res, err := s.spaces().UpdateByID(ctx, uuidToStr(spaceID), bson.M{"$set": bson.M{"archived": true}})
	if err != nil {
		return fmt.Errorf("failed to archive space: %w", err)
	}
	if res.MatchedCount == 0 {
		return &registrystore.NotFoundError{Resource: "space", ID: spaceID.String()}
	}
	return nil
}

// --- Chats ---

func (s *MongoStore) CreateChat(ctx context.Context, chat *model.Chat) error {
	if chat.ID == uuid.Nil {
		chat.ID = model.NewID()
	}
	chat.CreatedAt = stampOr(chat.CreatedAt)
	if _, err := s.chats().InsertOne(ctx, chatDoc{ID: uuidToStr(chat.ID), CreatedAt: chat.CreatedAt}); err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

func (s *MongoStore) GetChat(ctx context.Context, chatID uuid.UUID) (*model.Chat, error) {
	var doc chatDoc
	if err := s.chats().FindOne(ctx, bson.M{"_id": uuidToStr(chatID)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "chat", ID: chatID.String()}
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	c := doc.toModel()
	return &c, nil
}

func (s *MongoStore) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	filter := bson.M{"chat_id": uuidToStr(chatID)}

	// Delete in order: links → reads → participants → messages → chat
	for _, coll := range []*mongo.Collection{s.links(), s.reads(), s.participants(), s.messages()} {
		if _, err := coll.DeleteMany(ctx, filter); err != nil {
			return fmt.Errorf("failed to delete chat dependents: %w", err)
		}
	}
	if _, err := s.chats().DeleteOne(ctx, bson.M{"_id": uuidToStr(chatID)}); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

func (s *MongoStore) ListOrphanChats(ctx context.Context, createdBefore time.Time, limit int) ([]registrystore.OrphanChat, error) {
	var out []registrystore.OrphanChat
	cutoff := msTime(createdBefore)
	var after *chatDoc
	for len(out) < limit {
		filter := bson.M{"created_at": bson.M{"$lt": cutoff}}
		if after != nil {
			filter = bson.M{"$and": []bson.M{filter, {"$or": []bson.M{
				{"created_at": bson.M{"$gt": after.CreatedAt}},
				{"created_at": after.CreatedAt, "_id": bson.M{"$gt": after.ID}},
			}}}}
		}
		page, err := findAll[chatDoc](ctx, s.chats(), filter,
			options.Find().SetSort(byCreated).SetLimit(int64(limit)))
		if err != nil {
			return nil, fmt.Errorf("failed to list orphan chats: %w", err)
		}
		if len(page) == 0 {
			break
		}
		after = &page[len(page)-1]

		ids := make([]string, len(page))
		for i, c := range page {
			ids[i] = c.ID
		}
		linked, err := s.linksByChat(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to list orphan chats: %w", err)
		}
		for _, c := range page {
			if len(linked[c.ID]) > 0 || len(out) >= limit {
				continue
			}
			count, err := s.messages().CountDocuments(ctx, bson.M{"chat_id": c.ID})
			if err != nil {
				return nil, fmt.Errorf("failed to count orphan chat messages: %w", err)
			}
			out = append(out, registrystore.OrphanChat{Chat: c.toModel(), MessageCount: count})
		}
		if len(page) < limit {
			break
		}
	}
	return out, nil
}

// --- Links ---

// linksByChat maps each chat id to the space ids linked to it.
func (s *MongoStore) linksByChat(ctx context.Context, chatIDs []string) (map[string][]string, error) {
	out := map[string][]string{}
	if len(chatIDs) == 0 {
		return out, nil
	}
	docs, err := findAll[linkDoc](ctx, s.links(), bson.M{"chat_id": bson.M{"$in": chatIDs}})
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		out[d.ChatID] = append(out[d.ChatID], d.SpaceID)
	}
	return out, nil
}

func (s *MongoStore) findLinks(ctx context.Context, filter bson.M) ([]model.SpaceChatLink, error) {
	docs, err := findAll[linkDoc](ctx, s.links(), filter, options.Find().SetSort(byCreated))
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	out := make([]model.SpaceChatLink, len(docs))
	for i := range docs {
		out[i] = docs[i].toModel()
	}
	return out, nil
}

func (s *MongoStore) ListLinksBySpace(ctx context.Context, spaceID uuid.UUID) ([]model.SpaceChatLink, error) {
	return s.findLinks(ctx, bson.M{"space_id": uuidToStr(spaceID)})
}

func (s *MongoStore) ListLinksByChat(ctx context.Context, chatID uuid.UUID) ([]model.SpaceChatLink, error) {
	return s.findLinks(ctx, bson.M{"chat_id": uuidToStr(chatID)})
}

func (s *MongoStore) CreateLink(ctx context.Context, link *model.SpaceChatLink) error {
	if link.ID == uuid.Nil {
		link.ID = model.NewID()
	}
	link.CreatedAt = stampOr(link.CreatedAt)
	_, err := s.links().InsertOne(ctx, linkDoc{
		ID:        uuidToStr(link.ID),
		SpaceID:   uuidToStr(link.SpaceID),
		ChatID:    uuidToStr(link.ChatID),
		CreatedAt: link.CreatedAt,
	})
	if err != nil {
		if cErr := conflict(err, "space already has a chat"); cErr != nil {
			return cErr
		}
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteLink(ctx context.Context, linkID uuid.UUID) error {
	if _, err := s.links().DeleteOne(ctx, bson.M{"_id": uuidToStr(linkID)}); err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}
	return nil
}

func (s *MongoStore) RelinkChat(ctx context.Context, fromChatID, toChatID uuid.UUID) (int64, error) {
	res, err := s.links().UpdateMany(ctx,
		bson.M{"chat_id": uuidToStr(fromChatID)},
		bson.M{"$set": bson.M{"chat_id": uuidToStr(toChatID)}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to relink chat: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) ListSpacesWithDuplicateLinks(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := aggregate[struct {
		ID string `bson:"_id"`
	}](ctx, s.links(), mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$space_id", "n": bson.M{"$sum": 1}}}},
		{{Key: "$match", Value: bson.M{"n": bson.M{"$gt": 1}}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
		{{Key: "$limit", Value: limit}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate links: %w", err)
	}
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = strToUUID(r.ID)
	}
	return ids, nil
}

// --- Participants ---

func (s *MongoStore) ListParticipants(ctx context.Context, chatID uuid.UUID) ([]model.ChatParticipant, error) {
	docs, err := findAll[participantDoc](ctx, s.participants(),
		bson.M{"chat_id": uuidToStr(chatID)},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "user_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	out := make([]model.ChatParticipant, len(docs))
	for i := range docs {
		out[i] = docs[i].toModel()
	}
	return out, nil
}

func (s *MongoStore) GetParticipant(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatParticipant, error) {
	var doc participantDoc
	err := s.participants().FindOne(ctx, bson.M{"chat_id": uuidToStr(chatID), "user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "participant", ID: userID}
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	p := doc.toModel()
	return &p, nil
}

func (s *MongoStore) AddParticipant(ctx context.Context, participant *model.ChatParticipant) (bool, error) {
	participant.CreatedAt = stampOr(participant.CreatedAt)
	if participant.Grant == "" {
		participant.Grant = model.GrantLegacy
	}
	_, err := s.participants().InsertOne(ctx, participantDoc{
		ChatID:    uuidToStr(participant.ChatID),
		UserID:    participant.UserID,
		Grant:     string(participant.Grant),
		CreatedAt: participant.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to add participant: %w", err)
	}
	return true, nil
}

func (s *MongoStore) RemoveParticipant(ctx context.Context, chatID uuid.UUID, userID string) (bool, error) {
	res, err := s.participants().DeleteOne(ctx, bson.M{"chat_id": uuidToStr(chatID), "user_id": userID})
	if err != nil {
		return false, fmt.Errorf("failed to remove participant: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoStore) IsParticipantOfSpaces(ctx context.Context, userID string, spaceIDs []uuid.UUID) (bool, error) {
	if len(spaceIDs) == 0 {
		return false, nil
	}
	links, err := findAll[linkDoc](ctx, s.links(), bson.M{"space_id": bson.M{"$in": uuidsToStrs(spaceIDs)}})
	if err != nil {
		return false, fmt.Errorf("failed to check participation: %w", err)
	}
	if len(links) == 0 {
		return false, nil
	}
	chatIDs := make([]string, len(links))
	for i, l := range links {
		chatIDs[i] = l.ChatID
	}
	count, err := s.participants().CountDocuments(ctx,
		bson.M{"user_id": userID, "chat_id": bson.M{"$in": chatIDs}},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("failed to check participation: %w", err)
	}
	return count > 0, nil
}

// --- Direct chats ---

type pairRow struct {
	ChatID string   `bson:"_id"`
	Users  []string `bson:"users"`
}

// twoPartyChats groups participants by chat and keeps chats with exactly two.
func (s *MongoStore) twoPartyChats(ctx context.Context, match bson.M, having bson.M) ([]pairRow, error) {
	pipeline := mongo.Pipeline{}
	if match != nil {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}
	cond := bson.M{"n": 2}
	for k, v := range having {
		cond[k] = v
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   "$chat_id",
			"users": bson.M{"$push": "$user_id"},
			"n":     bson.M{"$sum": 1},
		}}},
		bson.D{{Key: "$match", Value: cond}},
	)
	return aggregate[pairRow](ctx, s.participants(), pipeline)
}

// userOnlyLinked keeps chats that are linked and whose linked spaces are all user spaces.
func (s *MongoStore) userOnlyLinked(ctx context.Context, chatIDs []string) (map[string]bool, error) {
	linked, err := s.linksByChat(ctx, chatIDs)
	if err != nil {
		return nil, err
	}
	var spaceIDs []string
	for _, ids := range linked {
		spaceIDs = append(spaceIDs, ids...)
	}
	category := map[string]string{}
	if len(spaceIDs) > 0 {
		docs, err := findAll[spaceDoc](ctx, s.spaces(),
			bson.M{"_id": bson.M{"$in": spaceIDs}},
			options.Find().SetProjection(bson.M{"_id": 1, "category": 1}),
		)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			category[d.ID] = d.Category
		}
	}
	out := map[string]bool{}
	for chatID, ids := range linked {
		ok := true
		for _, id := range ids {
			if c, found := category[id]; found && c != string(model.SpaceCategoryUser) {
				ok = false
				break
			}
		}
		if ok {
			out[chatID] = true
		}
	}
	return out, nil
}

func (s *MongoStore) FindDirectChats(ctx context.Context, userA, userB string) ([]model.Chat, error) {
	mine, err := findAll[participantDoc](ctx, s.participants(), bson.M{"user_id": userA})
	if err != nil {
		return nil, fmt.Errorf("failed to find direct chats: %w", err)
	}
	if len(mine) == 0 {
		return nil, nil
	}
	chatIDs := make([]string, len(mine))
	for i, p := range mine {
		chatIDs[i] = p.ChatID
	}
	rows, err := s.twoPartyChats(ctx,
		bson.M{"chat_id": bson.M{"$in": chatIDs}},
		bson.M{"users": userB},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find direct chats: %w", err)
	}
	candidates := make([]string, len(rows))
	for i, r := range rows {
		candidates[i] = r.ChatID
	}
	direct, err := s.userOnlyLinked(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to find direct chats: %w", err)
	}
	if len(direct) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(direct))
	for id := range direct {
		ids = append(ids, id)
	}
	docs, err := findAll[chatDoc](ctx, s.chats(), bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetSort(byCreated))
	if err != nil {
		return nil, fmt.Errorf("failed to find direct chats: %w", err)
	}
	out := make([]model.Chat, len(docs))
	for i := range docs {
		out[i] = docs[i].toModel()
	}
	return out, nil
}

func (s *MongoStore) ListDuplicateDirectPairs(ctx context.Context, limit int) ([]registrystore.UserPair, error) {
	rows, err := s.twoPartyChats(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate direct chats: %w", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ChatID
	}
	direct, err := s.userOnlyLinked(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate direct chats: %w", err)
	}
	counts := map[registrystore.UserPair]int{}
	for _, r := range rows {
		if direct[r.ChatID] && len(r.Users) == 2 {
			counts[registrystore.NewUserPair(r.Users[0], r.Users[1])]++
		}
	}
	var pairs []registrystore.UserPair
	for p, n := range counts {
		if n > 1 {
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	if len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs, nil
}

// --- Messages ---

func (s *MongoStore) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = model.NewID()
	}
	msg.CreatedAt = stampOr(msg.CreatedAt)
	_, err := s.messages().InsertOne(ctx, messageDoc{
		ID:           uuidToStr(msg.ID),
		ChatID:       uuidToStr(msg.ChatID),
		AuthorUserID: msg.AuthorUserID,
		Body:         msg.Body,
		CreatedAt:    msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (s *MongoStore) GetMessage(ctx context.Context, messageID uuid.UUID) (*model.ChatMessage, error) {
	var doc messageDoc
	if err := s.messages().FindOne(ctx, bson.M{"_id": uuidToStr(messageID)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	m := doc.toModel()
	return &m, nil
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func (s *MongoStore) LatestMessage(ctx context.Context, chatID uuid.UUID) (*model.ChatMessage, error) {
	var doc messageDoc
	err := s.messages().FindOne(ctx,
		bson.M{"chat_id": uuidToStr(chatID)},
		options.FindOne().SetSort(newestFirst),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest message: %w", err)
	}
	m := doc.toModel()
	return &m, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, chatID uuid.UUID, before *registrystore.MessageCursor, limit int) ([]model.ChatMessage, error) {
	filter := bson.M{"chat_id": uuidToStr(chatID)}
	if before != nil {
		filter = bson.M{"$and": []bson.M{filter, cursorFilter("$lt", before)}}
	}
	docs, err := findAll[messageDoc](ctx, s.messages(), filter,
		options.Find().SetSort(newestFirst).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]model.ChatMessage, len(docs))
	for i := range docs {
		out[i] = docs[i].toModel()
	}
	return out, nil
}

// unreadFilter matches messages of chatID not written by userID after the cursor.
func unreadFilter(chatID string, userID string, after *registrystore.MessageCursor) bson.M {
	filter := bson.M{"chat_id": chatID, "author_user_id": bson.M{"$ne": userID}}
	if after == nil {
		return filter
	}
	return bson.M{"$and": []bson.M{filter, cursorFilter("$gt", after)}}
}

func (s *MongoStore) CountUnread(ctx context.Context, chatID uuid.UUID, userID string, after *registrystore.MessageCursor) (int64, error) {
	count, err := s.messages().CountDocuments(ctx, unreadFilter(uuidToStr(chatID), userID, after))
	if err != nil {
		return 0, fmt.Errorf("failed to count unread: %w", err)
	}
	return count, nil
}

func (s *MongoStore) CountMessages(ctx context.Context, chatID uuid.UUID) (int64, error) {
	count, err := s.messages().CountDocuments(ctx, bson.M{"chat_id": uuidToStr(chatID)})
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *MongoStore) MoveMessages(ctx context.Context, fromChatID, toChatID uuid.UUID) (int64, error) {
	res, err := s.messages().UpdateMany(ctx,
		bson.M{"chat_id": uuidToStr(fromChatID)},
		bson.M{"$set": bson.M{"chat_id": uuidToStr(toChatID)}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to move messages: %w", err)
	}
	return res.ModifiedCount, nil
}

// --- Reads ---

func (s *MongoStore) GetRead(ctx context.Context, chatID uuid.UUID, userID string) (*model.ChatMessageRead, error) {
	var doc readDoc
	err := s.reads().FindOne(ctx, bson.M{"chat_id": uuidToStr(chatID), "user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get read state: %w", err)
	}
	r := doc.toModel()
	return &r, nil
}

func (s *MongoStore) UpsertRead(ctx context.Context, read *model.ChatMessageRead) error {
	read.LastReadAt = stampOr(read.LastReadAt)
	filter := bson.M{"chat_id": uuidToStr(read.ChatID), "user_id": read.UserID}
	update := bson.M{"$set": bson.M{
		"last_read_message_id": ptrUUIDToStr(read.LastReadMessageID),
		"last_read_at":         read.LastReadAt,
	}}
	var err error
	// Two concurrent upserts can both miss and race on the unique index; the
	// loser's retry then matches the winner's row.
	for attempt := 0; attempt < 2; attempt++ {
		_, err = s.reads().UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
		if err == nil || !mongo.IsDuplicateKeyError(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to upsert read state: %w", err)
	}
	return nil
}

func (s *MongoStore) ListReads(ctx context.Context, chatID uuid.UUID) ([]model.ChatMessageRead, error) {
	docs, err := findAll[readDoc](ctx, s.reads(),
		bson.M{"chat_id": uuidToStr(chatID)},
		options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list read state: %w", err)
	}
	out := make([]model.ChatMessageRead, len(docs))
	for i := range docs {
		out[i] = docs[i].toModel()
	}
	return out, nil
}

func (s *MongoStore) DeleteRead(ctx context.Context, chatID uuid.UUID, userID string) error {
	if _, err := s.reads().DeleteOne(ctx, bson.M{"chat_id": uuidToStr(chatID), "user_id": userID}); err != nil {
		return fmt.Errorf("failed to delete read state: %w", err)
	}
	return nil
}

// UnreadCountsBySpace resolves the user's chats, their visible spaces and
// watermarks with a fixed number of queries, then counts every chat in a
// single aggregation.
func (s *MongoStore) UnreadCountsBySpace(ctx context.Context, userID string) (map[uuid.UUID]int64, error) {
	wrap := func(err error) error { return fmt.Errorf("failed to count unread by space: %w", err) }

	parts, err := findAll[participantDoc](ctx, s.participants(), bson.M{"user_id": userID})
	if err != nil {
		return nil, wrap(err)
	}
	counts := map[uuid.UUID]int64{}
	if len(parts) == 0 {
		return counts, nil
	}
	chatIDs := make([]string, len(parts))
	for i, p := range parts {
		chatIDs[i] = p.ChatID
	}

	links, err := findAll[linkDoc](ctx, s.links(), bson.M{"chat_id": bson.M{"$in": chatIDs}})
	if err != nil {
		return nil, wrap(err)
	}
	if len(links) == 0 {
		return counts, nil
	}
	spaceIDs := make([]string, len(links))
	for i, l := range links {
		spaceIDs[i] = l.SpaceID
	}
	visible, err := findAll[spaceDoc](ctx, s.spaces(), bson.M{
		"_id":      bson.M{"$in": spaceIDs},
		"archived": false,
		"$or": []bson.M{
			{"category": string(model.SpaceCategoryProject)},
			{"owner_user_id": userID},
		},
	}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, wrap(err)
	}
	isVisible := map[string]bool{}
	for _, sp := range visible {
		isVisible[sp.ID] = true
	}
	spacesOf := map[string][]string{}
	for _, l := range links {
		if isVisible[l.SpaceID] {
			spacesOf[l.ChatID] = append(spacesOf[l.ChatID], l.SpaceID)
			counts[strToUUID(l.SpaceID)] = 0
		}
	}
	if len(spacesOf) == 0 {
		return counts, nil
	}
	active := make([]string, 0, len(spacesOf))
	for chatID := range spacesOf {
		active = append(active, chatID)
	}

	reads, err := findAll[readDoc](ctx, s.reads(), bson.M{"user_id": userID, "chat_id": bson.M{"$in": active}})
	if err != nil {
		return nil, wrap(err)
	}
	readOf := map[string]readDoc{}
	var watermarkIDs []string
	for _, r := range reads {
		readOf[r.ChatID] = r
		if r.LastReadMessageID != nil {
			watermarkIDs = append(watermarkIDs, *r.LastReadMessageID)
		}
	}
	watermarks := map[string]messageDoc{}
	if len(watermarkIDs) > 0 {
		docs, err := findAll[messageDoc](ctx, s.messages(),
			bson.M{"_id": bson.M{"$in": watermarkIDs}},
			options.Find().SetProjection(bson.M{"_id": 1, "created_at": 1}),
		)
		if err != nil {
			return nil, wrap(err)
		}
		for _, d := range docs {
			watermarks[d.ID] = d
		}
	}

	conds := make([]bson.M, 0, len(active))
	for _, chatID := range active {
		r, ok := readOf[chatID]
		switch {
		case !ok:
			conds = append(conds, unreadFilter(chatID, userID, nil))
		case r.LastReadMessageID != nil && watermarks[*r.LastReadMessageID].ID != "":
			w := watermarks[*r.LastReadMessageID]
			conds = append(conds, unreadFilter(chatID, userID, &registrystore.MessageCursor{
				CreatedAt: w.CreatedAt, ID: strToUUID(w.ID),
			}))
		default:
			conds = append(conds, bson.M{
				"chat_id":        chatID,
				"author_user_id": bson.M{"$ne": userID},
				"created_at":     bson.M{"$gt": msTime(r.LastReadAt)},
			})
		}
	}
	rows, err := aggregate[struct {
		ChatID string `bson:"_id"`
		N      int64  `bson:"n"`
	}](ctx, s.messages(), mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": conds}}},
		{{Key: "$group", Value: bson.M{"_id": "$chat_id", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, wrap(err)
	}
	for _, row := range rows {
		for _, spaceID := range spacesOf[row.ChatID] {
			counts[strToUUID(spaceID)] += row.N
		}
	}
	return counts, nil
}

// --- Tasks ---

func (s *MongoStore) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	var taskName *string
	if rawName, ok := taskBody["taskName"]; ok {
		if name, ok := rawName.(string); ok {
			trimmed := strings.TrimSpace(name)
			if trimmed != "" {
				taskName = &trimmed
			}
		}
	}

	now := msTime(model.Now())
	doc := taskDoc{
		ID:        uuidToStr(model.NewID()),
		TaskName:  taskName,
		TaskType:  taskType,
		TaskBody:  taskBody,
		CreatedAt: now,
		RetryAt:   now,
	}
	if taskName != nil {
		// Singleton: only the first task with a given name is queued.
		_, err := s.tasks().UpdateOne(ctx,
			bson.M{"task_name": *taskName},
			bson.M{"$setOnInsert": doc},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to create task: %w", err)
		}
		return nil
	}
	if _, err := s.tasks().InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

const claimLease = 5 * time.Minute

func (s *MongoStore) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	var tasks []model.Task
	now := msTime(model.Now())
	staleClaimCutoff := now.Add(-claimLease)

	for i := 0; i < limit; i++ {
		filter := bson.M{
			"retry_at": bson.M{"$lte": now},
			"$or": []bson.M{
				{"processing_at": bson.M{"$exists": false}},
				{"processing_at": nil},
				{"processing_at": bson.M{"$lt": staleClaimCutoff}},
			},
		}
		update := bson.M{
			"$set": bson.M{
				"processing_at": now,
				"retry_at":      now.Add(claimLease),
			},
		}
		opts := options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "retry_at", Value: 1}, {Key: "created_at", Value: 1}}).
			SetReturnDocument(options.After)

		var doc taskDoc
		err := s.tasks().FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				break
			}
			return nil, fmt.Errorf("claim ready tasks: %w", err)
		}
		body := doc.TaskBody
		if body == nil {
			body = map[string]interface{}{}
		}
		tasks = append(tasks, model.Task{
			ID:         strToUUID(doc.ID),
			TaskName:   doc.TaskName,
			TaskType:   doc.TaskType,
			TaskBody:   body,
			CreatedAt:  doc.CreatedAt.UTC(),
			RetryAt:    doc.RetryAt.UTC(),
			LastError:  doc.LastError,
			RetryCount: doc.RetryCount,
		})
	}
	return tasks, nil
}

func (s *MongoStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := s.tasks().DeleteOne(ctx, bson.M{"_id": uuidToStr(taskID)})
	return err
}

func (s *MongoStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	_, err := s.tasks().UpdateByID(ctx, uuidToStr(taskID), bson.M{
		"$inc": bson.M{"retry_count": 1},
		"$set": bson.M{
			"retry_at":      msTime(model.Now()).Add(retryDelay),
			"last_error":    errMsg,
			"processing_at": nil,
		},
	})
	return err
}
