package conversation

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/model"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/google/uuid"
)

// AccessGuard implements the ghost-parent rule. A space is a ghost parent for
// a user when the user neither owns it nor participates in its chat, yet
// participates in the chat of one of its transitive descendants. Such a user
// may see the space but must never be added to its chat by visiting it.
//
// Every participant insert in this package goes through MayAdd.
type AccessGuard struct {
	store registrystore.SpaceStore
}

// NewAccessGuard returns a guard reading from store.
func NewAccessGuard(store registrystore.SpaceStore) *AccessGuard {
	return &AccessGuard{store: store}
}

// MayJoin reports false exactly when spaceID is a ghost parent for userID.
func (g *AccessGuard) MayJoin(ctx context.Context, userID string, spaceID uuid.UUID) (bool, error) {
	space, err := g.store.GetSpace(ctx, spaceID)
	if err != nil {
		return false, err
	}
	if space.OwnerUserID == userID {
		return true, nil
	}
	member, err := g.store.IsParticipantOfSpaces(ctx, userID, []uuid.UUID{spaceID})
	if err != nil {
		return false, err
	}
	if member {
		return true, nil
	}
	ghost, err := g.reachesThroughDescendant(ctx, userID, spaceID)
	if err != nil {
		return false, err
	}
	return !ghost, nil
}

// MayAdd decides whether a participant row with the given grant may be
// inserted. Owner, counterpart and invite grants are explicit and always
// admitted; a resolve grant is admitted only when MayJoin holds.
func (g *AccessGuard) MayAdd(ctx context.Context, userID string, spaceID uuid.UUID, grant model.Grant) (bool, error) {
	switch grant {
	case model.GrantOwner, model.GrantCounterpart, model.GrantInvite:
		return true, nil
	default:
		return g.MayJoin(ctx, userID, spaceID)
	}
}

// IsGhost reports whether userID reaches space only through a descendant,
// ignoring any participant row the user may already hold in its chat.
func (g *AccessGuard) IsGhost(ctx context.Context, userID string, space *model.Space) (bool, error) {
	if space.OwnerUserID == userID {
		return false, nil
	}
	return g.reachesThroughDescendant(ctx, userID, space.ID)
}

// HealGhostMembership removes userID from the chats linked to spaceID when the
// user holds a participant row there, the ghost condition holds, and the row's
// grant is not independent. It reports whether a row was removed.
func (g *AccessGuard) HealGhostMembership(ctx context.Context, userID string, spaceID uuid.UUID) (bool, error) {
	space, err := g.store.GetSpace(ctx, spaceID)
	if err != nil {
		return false, err
	}
	if space.OwnerUserID == userID {
		return false, nil
	}
	links, err := g.store.ListLinksBySpace(ctx, spaceID)
	if err != nil {
		return false, err
	}

	var candidates []uuid.UUID
	for _, link := range links {
		p, err := g.store.GetParticipant(ctx, link.ChatID, userID)
		if registrystore.IsNotFound(err) {
			continue
		}
		if err != nil {
			return false, err
		}
		if p.Grant.Independent() {
			continue
		}
		candidates = append(candidates, link.ChatID)
	}
	if len(candidates) == 0 {
		return false, nil
	}

	ghost, err := g.reachesThroughDescendant(ctx, userID, spaceID)
	if err != nil || !ghost {
		return false, err
	}

	removed := false
	for _, chatID := range candidates {
		ok, err := g.store.RemoveParticipant(ctx, chatID, userID)
		if err != nil {
			return removed, fmt.Errorf("failed to remove ghost participant: %w", err)
		}
		if ok {
			removed = true
			if err := g.store.DeleteRead(ctx, chatID, userID); err != nil {
				log.Warn("Guard: dropping read state of ghost participant failed", "chatId", chatID, "userId", userID, "err", err)
			}
			log.Info("Guard: removed ghost participant", "spaceId", spaceID, "chatId", chatID, "userId", userID)
		}
	}
	return removed, nil
}

// reachesThroughDescendant walks the space hierarchy downward one level per
// query and reports whether userID participates in any descendant's chat.
func (g *AccessGuard) reachesThroughDescendant(ctx context.Context, userID string, spaceID uuid.UUID) (bool, error) {
	visited := map[uuid.UUID]bool{spaceID: true}
	frontier := []uuid.UUID{spaceID}
	for len(frontier) > 0 {
		children, err := g.store.ListChildSpaceIDs(ctx, frontier)
		if err != nil {
			return false, fmt.Errorf("failed to walk space hierarchy: %w", err)
		}
		var next []uuid.UUID
		for _, id := range children {
			if !visited[id] {
				visited[id] = true
				next = append(next, id)
			}
		}
		if len(next) == 0 {
			return false, nil
		}
		member, err := g.store.IsParticipantOfSpaces(ctx, userID, next)
		if err != nil {
			return false, err
		}
		if member {
			return true, nil
		}
		frontier = next
	}
	return false, nil
}
