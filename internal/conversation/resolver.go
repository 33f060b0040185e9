package conversation

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/model"
	registrynotify "github.com/chirino/spacechat/internal/registry/notify"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/security"
	"github.com/google/uuid"
)

// Resolution outcomes, also used as metric labels.
const (
	OutcomeExisting = "existing"
	OutcomeReused   = "reused"
	OutcomeCreated  = "created"
	OutcomeAdopted  = "adopted"
)

// TaskMergeChat is the task type queued when a duplicate link is dropped.
const TaskMergeChat = "merge_chat"

// Resolution is the canonical chat of a space as seen by one caller.
type Resolution struct {
	ChatID       uuid.UUID
	Space        *model.Space
	Counterpart  *model.User
	Participants []model.ChatParticipant
	// Outcome is one of the Outcome* constants.
	Outcome string
}

// Created reports whether this call created the chat.
func (r *Resolution) Created() bool { return r.Outcome == OutcomeCreated }

// IsParticipant reports whether userID is among the resolved participants.
func (r *Resolution) IsParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Resolver maps a space to its canonical chat, creating and linking one when
// none exists. It holds no locks: concurrent callers converge through the
// unique space_id constraint on links using the double-check-insert-adopt
// protocol in linkOrAdopt.
type Resolver struct {
	store registrystore.SpaceStore
	guard *AccessGuard
	dir   *Directory
	sink  registrynotify.Sink
}

// NewResolver wires a resolver.
func NewResolver(store registrystore.SpaceStore, guard *AccessGuard, dir *Directory, sink registrynotify.Sink) *Resolver {
	return &Resolver{store: store, guard: guard, dir: dir, sink: sink}
}

// Resolve returns the canonical chat of spaceID for userID and makes sure the
// owner, the counterpart of a user space and, when the guard allows it, the
// requester participate in it. It is idempotent.
func (r *Resolver) Resolve(ctx context.Context, spaceID uuid.UUID, userID string) (*Resolution, error) {
	space, err := r.store.GetSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	res := &Resolution{Space: space}

	if space.Category == model.SpaceCategoryUser {
		res.Counterpart, err = r.dir.Counterpart(ctx, space)
		if err != nil {
			return nil, err
		}
		if userID != space.OwnerUserID && (res.Counterpart == nil || res.Counterpart.ID != userID) {
			return nil, &registrystore.ForbiddenError{Reason: "not a party to this conversation"}
		}
	}

	links, err := r.store.ListLinksBySpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	if len(links) > 1 {
		r.collapseLinks(ctx, space, links)
	}

	if len(links) > 0 {
		res.ChatID = links[0].ChatID
		res.Outcome = OutcomeExisting
	} else if err := r.link(ctx, res, userID); err != nil {
		return nil, err
	}
	security.RecordResolve(res.Outcome)

	res.Participants, err = r.ensureParticipants(ctx, res, userID)
	if err != nil {
		return nil, err
	}
	if res.Created() {
		r.notifyCreated(ctx, res, userID)
	}
	return res, nil
}

// creator is who a new chat is credited to: the owner of a project space,
// whoever opened it, or the requester of a direct conversation.
func creator(res *Resolution, userID string) string {
	if res.Space.Category == model.SpaceCategoryProject {
		return res.Space.OwnerUserID
	}
	return userID
}

func (r *Resolver) notifyCreated(ctx context.Context, res *Resolution, userID string) {
	author := creator(res, userID)
	var recipients []string
	for _, p := range res.Participants {
		if p.UserID != author {
			recipients = append(recipients, p.UserID)
		}
	}
	deliver(ctx, r.sink, registrynotify.Event{
		Type:       registrynotify.EventChatCreated,
		ChatID:     res.ChatID,
		SpaceID:    res.Space.ID,
		AuthorID:   author,
		Recipients: recipients,
		CreatedAt:  model.Now(),
	})
}

// collapseLinks keeps the first link and drops the others. Chats that lose
// their only link are merged into the kept chat by the task processor.
func (r *Resolver) collapseLinks(ctx context.Context, space *model.Space, links []model.SpaceChatLink) {
	kept := links[0]
	security.RecordIntegrityViolation("duplicate_link")
	log.Warn("Resolver: integrity violation, space has more than one chat link",
		"spaceId", space.ID, "links", len(links), "keptChatId", kept.ChatID)

	for _, extra := range links[1:] {
		if err := r.store.DeleteLink(ctx, extra.ID); err != nil {
			log.Error("Resolver: delete duplicate link failed", "linkId", extra.ID, "err", err)
			continue
		}
		if extra.ChatID == kept.ChatID {
			continue
		}
		body := map[string]interface{}{
			"taskName":   TaskMergeChat + ":" + extra.ChatID.String(),
			"fromChatId": extra.ChatID.String(),
			"intoChatId": kept.ChatID.String(),
		}
		if err := r.store.CreateTask(ctx, TaskMergeChat, body); err != nil {
			log.Error("Resolver: queue chat merge failed", "fromChatId", extra.ChatID, "err", err)
		}
	}
}

// link binds an unlinked space to a reusable chat or to a brand-new one.
func (r *Resolver) link(ctx context.Context, res *Resolution, userID string) error {
	reusable, err := r.findReusable(ctx, res)
	if err != nil {
		return err
	}

	if reusable != uuid.Nil {
		chatID, won, err := r.linkOrAdopt(ctx, res.Space.ID, reusable, false)
		if err != nil {
			return err
		}
		res.ChatID = chatID
		res.Outcome = OutcomeReused
		if !won {
			res.Outcome = OutcomeAdopted
		}
		return nil
	}

	chat := &model.Chat{}
	if err := r.store.CreateChat(ctx, chat); err != nil {
		return err
	}
	chatID, won, err := r.linkOrAdopt(ctx, res.Space.ID, chat.ID, true)
	if err != nil {
		return err
	}
	res.ChatID = chatID
	if !won {
		res.Outcome = OutcomeAdopted
		return nil
	}
	res.Outcome = OutcomeCreated
	return r.announce(ctx, res, userID)
}

// findReusable looks for an existing chat an unlinked space should join: a
// sibling project's chat sharing the external key, or the canonical direct
// chat between a user space's owner and counterpart.
func (r *Resolver) findReusable(ctx context.Context, res *Resolution) (uuid.UUID, error) {
	space := res.Space
	switch space.Category {
	case model.SpaceCategoryProject:
		if space.ExternalKey == nil || *space.ExternalKey == "" {
			return uuid.Nil, nil
		}
		siblings, err := r.store.ListSpacesByExternalKey(ctx, *space.ExternalKey)
		if err != nil {
			return uuid.Nil, err
		}
		for _, sibling := range siblings {
			if sibling.ID == space.ID || sibling.Category != model.SpaceCategoryProject {
				continue
			}
			links, err := r.store.ListLinksBySpace(ctx, sibling.ID)
			if err != nil {
				return uuid.Nil, err
			}
			if len(links) > 0 {
				return links[0].ChatID, nil
			}
		}
	case model.SpaceCategoryUser:
		if res.Counterpart == nil || res.Counterpart.ID == space.OwnerUserID {
			return uuid.Nil, nil
		}
		chats, err := r.store.FindDirectChats(ctx, space.OwnerUserID, res.Counterpart.ID)
		if err != nil {
			return uuid.Nil, err
		}
		if len(chats) > 1 {
			security.RecordIntegrityViolation("duplicate_direct_chat")
			log.Warn("Resolver: integrity violation, more than one direct chat for pair",
				"userA", space.OwnerUserID, "userB", res.Counterpart.ID, "chats", len(chats))
		}
		if len(chats) > 0 {
			return chats[0].ID, nil
		}
	}
	return uuid.Nil, nil
}

// linkOrAdopt is the double-check-insert-adopt protocol every link insert
// goes through:
//
//  1. re-read the space's links; if one appeared, adopt it;
//  2. otherwise insert the link;
//  3. on a unique violation, re-read and adopt the winner's link.
//
// When the candidate chat was created speculatively by this caller and the
// caller adopts another chat, the candidate is deleted so no orphan remains.
// won reports whether the caller's link was the one stored.
func (r *Resolver) linkOrAdopt(ctx context.Context, spaceID, chatID uuid.UUID, speculative bool) (uuid.UUID, bool, error) {
	adopt := func() (uuid.UUID, bool, error) {
		links, err := r.store.ListLinksBySpace(ctx, spaceID)
		if err != nil {
			return uuid.Nil, false, err
		}
		if len(links) == 0 {
			return uuid.Nil, false, nil
		}
		if speculative && links[0].ChatID != chatID {
			r.discard(ctx, chatID)
		}
		log.Debug("Resolver: adopted concurrent link", "spaceId", spaceID, "chatId", links[0].ChatID)
		return links[0].ChatID, false, nil
	}

	adopted, _, err := adopt()
	if err != nil {
		return uuid.Nil, false, r.abandon(ctx, chatID, speculative, err)
	}
	if adopted != uuid.Nil {
		return adopted, false, nil
	}

	err = r.store.CreateLink(ctx, &model.SpaceChatLink{SpaceID: spaceID, ChatID: chatID})
	if err == nil {
		return chatID, true, nil
	}
	if !registrystore.IsUniqueViolation(err) {
		return uuid.Nil, false, r.abandon(ctx, chatID, speculative, err)
	}

	adopted, _, rerr := adopt()
	if rerr != nil {
		return uuid.Nil, false, r.abandon(ctx, chatID, speculative, rerr)
	}
	if adopted == uuid.Nil {
		return uuid.Nil, false, r.abandon(ctx, chatID, speculative,
			fmt.Errorf("link for space %s conflicted but is not visible: %w", spaceID, err))
	}
	return adopted, false, nil
}

func (r *Resolver) abandon(ctx context.Context, chatID uuid.UUID, speculative bool, err error) error {
	if speculative {
		r.discard(ctx, chatID)
	}
	return err
}

// discard deletes a speculatively created chat. A failure leaves an orphan
// chat for the consolidation sweep.
func (r *Resolver) discard(ctx context.Context, chatID uuid.UUID) {
	if err := r.store.DeleteChat(context.WithoutCancel(ctx), chatID); err != nil {
		log.Warn("Resolver: delete of race-losing chat failed", "chatId", chatID, "err", err)
	}
}

// announce writes the creation system message. Only the caller whose link
// won reaches this point.
func (r *Resolver) announce(ctx context.Context, res *Resolution, userID string) error {
	label := r.dir.Label(ctx, creator(res, userID))
	body := label + " started a conversation"
	if res.Space.Category == model.SpaceCategoryProject {
		body = fmt.Sprintf("%s created project %s", label, res.Space.Name)
	}
	msg := &model.ChatMessage{ChatID: res.ChatID, Body: body}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to write creation message: %w", err)
	}
	log.Info("Resolver: created chat", "spaceId", res.Space.ID, "chatId", res.ChatID, "category", res.Space.Category)
	return nil
}

// ensureParticipants adds the owner, the counterpart of a user space and the
// requester to the chat, each subject to AccessGuard.MayAdd, and returns the
// resulting participant list.
func (r *Resolver) ensureParticipants(ctx context.Context, res *Resolution, userID string) ([]model.ChatParticipant, error) {
	space := res.Space
	participants, err := r.store.ListParticipants(ctx, res.ChatID)
	if err != nil {
		return nil, err
	}

	if space.Category == model.SpaceCategoryUser && len(participants) > 2 {
		security.RecordIntegrityViolation("dm_participants")
		log.Warn("Resolver: integrity violation, user chat has more than two participants",
			"spaceId", space.ID, "chatId", res.ChatID, "participants", len(participants))
		return participants, nil
	}

	present := make(map[string]model.Grant, len(participants))
	for _, p := range participants {
		present[p.UserID] = p.Grant
	}

	// A legacy row held only through a descendant is a ghost membership.
	if grant, ok := present[userID]; ok && !grant.Independent() {
		removed, err := r.guard.HealGhostMembership(ctx, userID, space.ID)
		if err != nil {
			return nil, err
		}
		if removed {
			delete(present, userID)
		}
	}

	type want struct {
		userID string
		grant  model.Grant
	}
	wants := []want{{space.OwnerUserID, model.GrantOwner}}
	if space.Category == model.SpaceCategoryUser && res.Counterpart != nil {
		wants = append(wants, want{res.Counterpart.ID, model.GrantCounterpart})
	}
	if _, ok := present[userID]; !ok && userID != "" {
		wants = append(wants, want{userID, model.GrantResolve})
	}

	changed := len(present) != len(participants)
	for _, w := range wants {
		if _, ok := present[w.userID]; ok {
			continue
		}
		allowed, err := r.guard.MayAdd(ctx, w.userID, space.ID, w.grant)
		if err != nil {
			return nil, err
		}
		if !allowed {
			log.Debug("Resolver: guard denied participant", "spaceId", space.ID, "userId", w.userID)
			continue
		}
		added, err := r.store.AddParticipant(ctx, &model.ChatParticipant{
			ChatID: res.ChatID,
			UserID: w.userID,
			Grant:  w.grant,
		})
		if err != nil {
			return nil, err
		}
		present[w.userID] = w.grant
		changed = changed || added
	}

	if !changed {
		return participants, nil
	}
	return r.store.ListParticipants(ctx, res.ChatID)
}
