package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/model"
	registrycache "github.com/chirino/spacechat/internal/registry/cache"
	registrynotify "github.com/chirino/spacechat/internal/registry/notify"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/security"
	"github.com/google/uuid"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200
	MaxMessageLength    = 10000
	previewLength       = 140
)

// Options tunes a Service.
type Options struct {
	UserCacheSize int64
	UnreadTTL     time.Duration
}

// Conversation is the chat backing a space.
type Conversation struct {
	ChatID       uuid.UUID               `json:"chatId"`
	SpaceID      uuid.UUID               `json:"spaceId"`
	Participants []model.ChatParticipant `json:"participants"`
}

// Service is the caller-facing surface of the conversation engine. Every
// space-addressed call goes through the Resolver first.
type Service struct {
	store    registrystore.SpaceStore
	sink     registrynotify.Sink
	dir      *Directory
	guard    *AccessGuard
	resolver *Resolver
	unread   *UnreadTracker
}

// New wires the engine's components around store and sink. cache may be nil.
func New(store registrystore.SpaceStore, sink registrynotify.Sink, cache registrycache.UnreadCache, opts Options) (*Service, error) {
	dir, err := NewDirectory(store, opts.UserCacheSize)
	if err != nil {
		return nil, err
	}
	guard := NewAccessGuard(store)
	return &Service{
		store:    store,
		sink:     sink,
		dir:      dir,
		guard:    guard,
		resolver: NewResolver(store, guard, dir, sink),
		unread:   NewUnreadTracker(store, cache, opts.UnreadTTL),
	}, nil
}

// Close releases in-process caches.
func (s *Service) Close() {
	s.dir.Close()
}

func (s *Service) Directory() *Directory { return s.dir }

func (s *Service) Guard() *AccessGuard { return s.guard }

func (s *Service) Resolver() *Resolver { return s.resolver }

func (s *Service) Unread() *UnreadTracker { return s.unread }

func (s *Service) Store() registrystore.SpaceStore { return s.store }

// Conversation resolves spaceID for userID.
func (s *Service) Conversation(ctx context.Context, spaceID uuid.UUID, userID string) (*Conversation, error) {
	res, err := s.resolver.Resolve(ctx, spaceID, userID)
	if err != nil {
		return nil, err
	}
	if res.Outcome != OutcomeExisting {
		// A new link changes which chats count toward the space.
		users := make([]string, 0, len(res.Participants))
		for _, p := range res.Participants {
			users = append(users, p.UserID)
		}
		s.unread.Invalidate(ctx, users...)
	}
	if res.Space.Category == model.SpaceCategoryUser && userID != res.Space.OwnerUserID {
		// Unread counts are reported per space the reader owns, so the
		// counterpart needs a space of their own over the same chat.
		owner, err := s.dir.Get(ctx, res.Space.OwnerUserID)
		if err == nil {
			err = s.mirrorSpace(ctx, userID, owner, res.ChatID)
		}
		if err != nil {
			log.Warn("Service: failed to mirror user space", "spaceId", spaceID, "userId", userID, "err", err)
		}
	}
	return &Conversation{ChatID: res.ChatID, SpaceID: spaceID, Participants: res.Participants}, nil
}

// PageLimit is the page size Messages applies for a requested limit.
func PageLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	return min(limit, MaxMessageLimit)
}

// Messages returns a page of messages older than before, oldest first.
func (s *Service) Messages(ctx context.Context, chatID uuid.UUID, userID string, limit int, before *uuid.UUID) ([]model.ChatMessage, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	limit = PageLimit(limit)

	var cursor *registrystore.MessageCursor
	if before != nil {
		msg, err := s.store.GetMessage(ctx, *before)
		if registrystore.IsNotFound(err) || (err == nil && msg.ChatID != chatID) {
			return nil, &registrystore.ValidationError{Field: "before", Message: "message does not belong to this chat"}
		}
		if err != nil {
			return nil, err
		}
		cursor = registrystore.CursorOf(msg)
	}

	msgs, err := s.store.ListMessages(ctx, chatID, cursor, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// PostMessage appends a message authored by userID. Other participants are
// notified; delivery failures never fail the write.
func (s *Service) PostMessage(ctx context.Context, chatID uuid.UUID, userID, body string) (*model.ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &registrystore.ValidationError{Field: "body", Message: "must not be empty"}
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return nil, &registrystore.ValidationError{Field: "body", Message: fmt.Sprintf("must be at most %d characters", MaxMessageLength)}
	}
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}

	author := userID
	msg := &model.ChatMessage{ChatID: chatID, AuthorUserID: &author, Body: body}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	participants, err := s.store.ListParticipants(ctx, chatID)
	if err != nil {
		log.Warn("Service: listing recipients failed", "chatId", chatID, "err", err)
		return msg, nil
	}
	var recipients, everyone []string
	for _, p := range participants {
		everyone = append(everyone, p.UserID)
		if p.UserID != userID {
			recipients = append(recipients, p.UserID)
		}
	}
	s.unread.Invalidate(ctx, everyone...)
	s.notify(ctx, registrynotify.Event{
		Type:       registrynotify.EventMessagePosted,
		ChatID:     chatID,
		MessageID:  msg.ID,
		AuthorID:   userID,
		Preview:    preview(body),
		Recipients: recipients,
		CreatedAt:  msg.CreatedAt,
	})
	return msg, nil
}

// MarkRead resolves spaceID and moves userID's watermark to its latest message.
func (s *Service) MarkRead(ctx context.Context, spaceID uuid.UUID, userID string) error {
	res, err := s.resolver.Resolve(ctx, spaceID, userID)
	if err != nil {
		return err
	}
	if !res.IsParticipant(userID) {
		return &registrystore.ForbiddenError{Reason: "not a participant of this conversation"}
	}
	_, err = s.unread.MarkRead(ctx, res.ChatID, userID)
	return err
}

// UnreadCounts returns unread counts per space for userID.
func (s *Service) UnreadCounts(ctx context.Context, userID string) (map[uuid.UUID]int64, error) {
	return s.unread.UnreadCounts(ctx, userID)
}

// AddMembers invites userIDs into a project space's chat. Only the owner may
// edit membership.
func (s *Service) AddMembers(ctx context.Context, spaceID uuid.UUID, ownerID string, userIDs []string) ([]model.ChatParticipant, error) {
	res, err := s.resolveForMembership(ctx, spaceID, ownerID)
	if err != nil {
		return nil, err
	}
	var added []string
	for _, userID := range userIDs {
		if _, err := s.dir.Get(ctx, userID); err != nil {
			return nil, err
		}
		allowed, err := s.guard.MayAdd(ctx, userID, spaceID, model.GrantInvite)
		if err != nil {
			return nil, err
		}
		if !allowed {
			continue
		}
		ok, err := s.store.AddParticipant(ctx, &model.ChatParticipant{ChatID: res.ChatID, UserID: userID, Grant: model.GrantInvite})
		if err != nil {
			return nil, err
		}
		if ok {
			added = append(added, userID)
		}
	}
	if len(added) > 0 {
		log.Info("Service: added members", "spaceId", spaceID, "chatId", res.ChatID, "users", added)
		s.unread.Invalidate(ctx, added...)
	}
	return s.store.ListParticipants(ctx, res.ChatID)
}

// RemoveMembers removes userIDs from a project space's chat. The owner can
// not be removed.
func (s *Service) RemoveMembers(ctx context.Context, spaceID uuid.UUID, ownerID string, userIDs []string) ([]model.ChatParticipant, error) {
	res, err := s.resolveForMembership(ctx, spaceID, ownerID)
	if err != nil {
		return nil, err
	}
	for _, userID := range userIDs {
		if userID == res.Space.OwnerUserID {
			return nil, &registrystore.ValidationError{Field: "userIds", Message: "the owner can not be removed"}
		}
	}
	var removed []string
	for _, userID := range userIDs {
		ok, err := s.store.RemoveParticipant(ctx, res.ChatID, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := s.store.DeleteRead(ctx, res.ChatID, userID); err != nil {
			log.Warn("Service: dropping read state failed", "chatId", res.ChatID, "userId", userID, "err", err)
		}
		removed = append(removed, userID)
	}
	if len(removed) > 0 {
		log.Info("Service: removed members", "spaceId", spaceID, "chatId", res.ChatID, "users", removed)
		s.unread.Invalidate(ctx, removed...)
	}
	return s.store.ListParticipants(ctx, res.ChatID)
}

func (s *Service) resolveForMembership(ctx context.Context, spaceID uuid.UUID, ownerID string) (*Resolution, error) {
	space, err := s.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if space.Category != model.SpaceCategoryProject {
		return nil, &registrystore.ValidationError{Field: "spaceId", Message: "membership of a user space can not be edited"}
	}
	if space.OwnerUserID != ownerID {
		return nil, &registrystore.ForbiddenError{Reason: "only the owner may edit membership"}
	}
	return s.resolver.Resolve(ctx, spaceID, ownerID)
}

// CreateProjectSpace creates a project space owned by ownerID under parentIDs
// and resolves its conversation.
func (s *Service) CreateProjectSpace(ctx context.Context, ownerID, name string, externalKey *string, parentIDs []uuid.UUID) (*model.Space, *Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, &registrystore.ValidationError{Field: "name", Message: "must not be empty"}
	}
	for _, parentID := range parentIDs {
		parent, err := s.store.GetSpace(ctx, parentID)
		if registrystore.IsNotFound(err) {
			return nil, nil, &registrystore.ValidationError{Field: "parentIds", Message: "unknown parent " + parentID.String()}
		}
		if err != nil {
			return nil, nil, err
		}
		if parent.Category != model.SpaceCategoryProject {
			return nil, nil, &registrystore.ValidationError{Field: "parentIds", Message: "a user space can not be a parent"}
		}
	}
	if externalKey != nil && strings.TrimSpace(*externalKey) == "" {
		externalKey = nil
	}
	space := &model.Space{
		Category:    model.SpaceCategoryProject,
		OwnerUserID: ownerID,
		Name:        name,
		ExternalKey: externalKey,
		ParentIDs:   parentIDs,
	}
	if err := s.store.CreateSpace(ctx, space); err != nil {
		return nil, nil, err
	}
	conv, err := s.Conversation(ctx, space.ID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return space, conv, nil
}

// FirstContact opens a direct conversation from fromUserID to toUserID. Both
// users end up with a user space named after the other, and both spaces
// resolve to the same chat.
func (s *Service) FirstContact(ctx context.Context, fromUserID, toUserID string) (*Conversation, error) {
	if fromUserID == toUserID {
		return nil, &registrystore.ValidationError{Field: "userId", Message: "can not start a conversation with yourself"}
	}
	to, err := s.dir.Get(ctx, toUserID)
	if err != nil {
		return nil, err
	}
	from, err := s.dir.Get(ctx, fromUserID)
	if err != nil {
		return nil, err
	}

	space, err := s.findOrCreateUserSpace(ctx, fromUserID, SpaceName(to))
	if err != nil {
		return nil, err
	}
	conv, err := s.Conversation(ctx, space.ID, fromUserID)
	if err != nil {
		return nil, err
	}

	if err := s.mirrorSpace(ctx, toUserID, from, conv.ChatID); err != nil {
		return nil, err
	}
	return conv, nil
}

// mirrorSpace makes sure userID owns a user space named after other that
// resolves to chatID.
func (s *Service) mirrorSpace(ctx context.Context, userID string, other *model.User, chatID uuid.UUID) error {
	mirror, err := s.findOrCreateUserSpace(ctx, userID, SpaceName(other))
	if err != nil {
		return err
	}
	mirrored, err := s.resolver.Resolve(ctx, mirror.ID, userID)
	if err != nil {
		return err
	}
	if mirrored.ChatID != chatID {
		security.RecordIntegrityViolation("mirror_chat")
		log.Warn("Service: mirror space resolved to a different chat",
			"chatId", chatID, "mirrorSpaceId", mirror.ID, "mirrorChatId", mirrored.ChatID)
	}
	if mirrored.Outcome != OutcomeExisting {
		s.unread.Invalidate(ctx, userID)
	}
	return nil
}

// findOrCreateUserSpace returns the oldest non-archived user space of owner
// named name. Concurrent creators may each insert one; the duplicates are
// archived by consolidation.
func (s *Service) findOrCreateUserSpace(ctx context.Context, ownerUserID, name string) (*model.Space, error) {
	spaces, err := s.store.FindUserSpaces(ctx, ownerUserID, name)
	if err != nil {
		return nil, err
	}
	if len(spaces) > 0 {
		return &spaces[0], nil
	}
	space := &model.Space{Category: model.SpaceCategoryUser, OwnerUserID: ownerUserID, Name: name}
	if err := s.store.CreateSpace(ctx, space); err != nil {
		return nil, err
	}
	log.Info("Service: created user space", "spaceId", space.ID, "owner", ownerUserID)
	return space, nil
}

func (s *Service) requireParticipant(ctx context.Context, chatID uuid.UUID, userID string) error {
	if _, err := s.store.GetChat(ctx, chatID); err != nil {
		return err
	}
	_, err := s.store.GetParticipant(ctx, chatID, userID)
	if registrystore.IsNotFound(err) {
		return &registrystore.ForbiddenError{Reason: "not a participant of this conversation"}
	}
	return err
}

func (s *Service) notify(ctx context.Context, event registrynotify.Event) {
	deliver(ctx, s.sink, event)
}

// deliver hands event to sink. Failures are logged and swallowed.
func deliver(ctx context.Context, sink registrynotify.Sink, event registrynotify.Event) {
	if sink == nil || len(event.Recipients) == 0 {
		return
	}
	if err := sink.Notify(ctx, event); err != nil {
		security.RecordNotifyFailure()
		log.Warn("Notify: delivery failed", "type", event.Type, "chatId", event.ChatID, "err", err)
	}
}

func preview(body string) string {
	if utf8.RuneCountInString(body) <= previewLength {
		return body
	}
	r := []rune(body)
	return string(r[:previewLength]) + "…"
}
