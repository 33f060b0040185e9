// Package consolidation repairs stored state left behind by races, legacy
// writers and abandoned requests. Every step only acts on data that breaks an
// invariant, so a run over healthy data changes nothing.
package consolidation

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/spacechat/internal/conversation"
	"github.com/chirino/spacechat/internal/model"
	registrystore "github.com/chirino/spacechat/internal/registry/store"
	"github.com/chirino/spacechat/internal/security"
	"github.com/google/uuid"
)

const (
	StepDuplicateLinks      = "duplicate_links"
	StepDuplicateDirect     = "duplicate_direct_chats"
	StepGhostMemberships    = "ghost_memberships"
	StepDuplicateUserSpaces = "duplicate_user_spaces"
	StepOrphanChats         = "orphan_chats"
)

// Options tunes a Runner.
type Options struct {
	// BatchSize bounds every scan.
	BatchSize int
	// OrphanGrace is how old an unlinked chat must be before it is removed.
	// In-flight resolutions own younger chats.
	OrphanGrace time.Duration
	// Invalidate drops cached unread counts of users whose chats changed.
	// Nil when no cache is shared with the runner.
	Invalidate func(ctx context.Context, userIDs ...string)
}

// Report counts what a run changed.
type Report struct {
	LinksRemoved   int `json:"linksRemoved"`
	ChatsMerged    int `json:"chatsMerged"`
	GhostsRemoved  int `json:"ghostsRemoved"`
	SpacesArchived int `json:"spacesArchived"`
	OrphansDeleted int `json:"orphansDeleted"`
	// OrphansKept counts unlinked chats that hold messages. They are
	// reported for manual review, never deleted.
	OrphansKept int `json:"orphansKept"`
}

// Changed reports whether the run modified anything.
func (r Report) Changed() bool {
	return r.LinksRemoved+r.ChatsMerged+r.GhostsRemoved+r.SpacesArchived+r.OrphansDeleted > 0
}

// Runner executes the healing steps.
type Runner struct {
	store registrystore.SpaceStore
	guard *conversation.AccessGuard
	opts  Options
}

// NewRunner wires a runner over store.
func NewRunner(store registrystore.SpaceStore, opts Options) *Runner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.OrphanGrace <= 0 {
		opts.OrphanGrace = 10 * time.Minute
	}
	return &Runner{store: store, guard: conversation.NewAccessGuard(store), opts: opts}
}

func (r *Runner) invalidate(ctx context.Context, userIDs ...string) {
	if r.opts.Invalidate != nil && len(userIDs) > 0 {
		r.opts.Invalidate(ctx, userIDs...)
	}
}

// Run executes every step in order: duplicate links first so later steps see
// one chat per space, then duplicate direct chats, ghost memberships,
// duplicate user spaces and finally orphan chats.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report
	steps := []struct {
		name string
		run  func(context.Context, *Report) error
	}{
		{StepDuplicateLinks, r.CollapseDuplicateLinks},
		{StepDuplicateDirect, r.MergeDuplicateDirectChats},
		{StepGhostMemberships, r.HealGhostMemberships},
		{StepDuplicateUserSpaces, r.ArchiveDuplicateUserSpaces},
		{StepOrphanChats, r.RemoveOrphanChats},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := step.run(ctx, &report); err != nil {
			return report, fmt.Errorf("consolidation step %s: %w", step.name, err)
		}
	}
	if report.Changed() {
		log.Info("Consolidation: run complete",
			"linksRemoved", report.LinksRemoved,
			"chatsMerged", report.ChatsMerged,
			"ghostsRemoved", report.GhostsRemoved,
			"spacesArchived", report.SpacesArchived,
			"orphansDeleted", report.OrphansDeleted,
			"orphansKept", report.OrphansKept)
	} else {
		log.Debug("Consolidation: nothing to do")
	}
	return report, nil
}

// CollapseDuplicateLinks keeps the first link of every space holding several
// and merges each dropped chat that is left without links into the kept one.
func (r *Runner) CollapseDuplicateLinks(ctx context.Context, report *Report) error {
	spaceIDs, err := r.store.ListSpacesWithDuplicateLinks(ctx, r.opts.BatchSize)
	if err != nil {
		return err
	}
	removed := 0
	for _, spaceID := range spaceIDs {
		links, err := r.store.ListLinksBySpace(ctx, spaceID)
		if err != nil {
			return err
		}
		if len(links) < 2 {
			continue
		}
		kept := links[0]
		for _, extra := range links[1:] {
			if err := r.store.DeleteLink(ctx, extra.ID); err != nil {
				return err
			}
			removed++
			log.Info("Consolidation: removed duplicate link", "spaceId", spaceID, "chatId", extra.ChatID, "keptChatId", kept.ChatID)
			merged, err := r.MergeOrphanChat(ctx, extra.ChatID, kept.ChatID)
			if err != nil {
				return err
			}
			if merged {
				report.ChatsMerged++
			}
		}
	}
	report.LinksRemoved += removed
	security.RecordConsolidation(StepDuplicateLinks, removed)
	return nil
}

// MergeDuplicateDirectChats folds every extra direct chat of a user pair into
// the oldest one.
func (r *Runner) MergeDuplicateDirectChats(ctx context.Context, report *Report) error {
	pairs, err := r.store.ListDuplicateDirectPairs(ctx, r.opts.BatchSize)
	if err != nil {
		return err
	}
	merged := 0
	for _, pair := range pairs {
		chats, err := r.store.FindDirectChats(ctx, pair.A, pair.B)
		if err != nil {
			return err
		}
		if len(chats) < 2 {
			continue
		}
		canonical := chats[0].ID
		for _, loser := range chats[1:] {
			if err := r.MergeChat(ctx, loser.ID, canonical); err != nil {
				return err
			}
			merged++
		}
	}
	report.ChatsMerged += merged
	security.RecordConsolidation(StepDuplicateDirect, merged)
	return nil
}

// HealGhostMemberships removes legacy participants that reach a parent
// space's chat only through one of its descendants.
func (r *Runner) HealGhostMemberships(ctx context.Context, report *Report) error {
	var after *uuid.UUID
	healed := 0
	for {
		parents, err := r.store.ListParentSpaceIDs(ctx, after, r.opts.BatchSize)
		if err != nil {
			return err
		}
		for _, spaceID := range parents {
			n, err := r.healSpace(ctx, spaceID)
			if err != nil {
				return err
			}
			healed += n
		}
		if len(parents) < r.opts.BatchSize {
			break
		}
		last := parents[len(parents)-1]
		after = &last
	}
	report.GhostsRemoved += healed
	security.RecordConsolidation(StepGhostMemberships, healed)
	return nil
}

func (r *Runner) healSpace(ctx context.Context, spaceID uuid.UUID) (int, error) {
	links, err := r.store.ListLinksBySpace(ctx, spaceID)
	if err != nil {
		return 0, err
	}
	seen := map[string]bool{}
	healed := 0
	for _, link := range links {
		participants, err := r.store.ListParticipants(ctx, link.ChatID)
		if err != nil {
			return healed, err
		}
		for _, p := range participants {
			if p.Grant.Independent() || seen[p.UserID] {
				continue
			}
			seen[p.UserID] = true
			removed, err := r.guard.HealGhostMembership(ctx, p.UserID, spaceID)
			if err != nil {
				return healed, err
			}
			if removed {
				healed++
				r.invalidate(ctx, p.UserID)
			}
		}
	}
	return healed, nil
}

// ArchiveDuplicateUserSpaces keeps the oldest user space per owner and
// counterpart name and archives the rest.
func (r *Runner) ArchiveDuplicateUserSpaces(ctx context.Context, report *Report) error {
	groups, err := r.store.ListDuplicateUserSpaces(ctx, r.opts.BatchSize)
	if err != nil {
		return err
	}
	archived := 0
	for _, g := range groups {
		spaces, err := r.store.FindUserSpaces(ctx, g.OwnerUserID, g.Name)
		if err != nil {
			return err
		}
		for _, extra := range spaces[min(1, len(spaces)):] {
			if err := r.store.ArchiveSpace(ctx, extra.ID); err != nil {
				return err
			}
			archived++
			r.invalidate(ctx, g.OwnerUserID)
			log.Info("Consolidation: archived duplicate user space", "spaceId", extra.ID, "keptSpaceId", spaces[0].ID, "owner", g.OwnerUserID)
		}
	}
	report.SpacesArchived += archived
	security.RecordConsolidation(StepDuplicateUserSpaces, archived)
	return nil
}

// RemoveOrphanChats deletes empty chats that never got a link. Orphans with
// messages are only reported.
func (r *Runner) RemoveOrphanChats(ctx context.Context, report *Report) error {
	orphans, err := r.store.ListOrphanChats(ctx, model.Now().Add(-r.opts.OrphanGrace), r.opts.BatchSize)
	if err != nil {
		return err
	}
	deleted := 0
	for _, o := range orphans {
		if o.MessageCount > 0 {
			report.OrphansKept++
			log.Warn("Consolidation: unlinked chat holds messages", "chatId", o.Chat.ID, "messages", o.MessageCount)
			continue
		}
		if err := r.store.DeleteChat(ctx, o.Chat.ID); err != nil {
			return err
		}
		deleted++
		log.Info("Consolidation: deleted orphan chat", "chatId", o.Chat.ID)
	}
	report.OrphansDeleted += deleted
	security.RecordConsolidation(StepOrphanChats, deleted)
	return nil
}

// MergeOrphanChat merges from into into when from has no remaining link. It
// reports whether a merge happened.
func (r *Runner) MergeOrphanChat(ctx context.Context, from, into uuid.UUID) (bool, error) {
	if from == into {
		return false, nil
	}
	for _, id := range []uuid.UUID{from, into} {
		if _, err := r.store.GetChat(ctx, id); err != nil {
			if registrystore.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
	}
	links, err := r.store.ListLinksByChat(ctx, from)
	if err != nil {
		return false, err
	}
	if len(links) > 0 {
		log.Debug("Consolidation: chat still linked, not merging", "chatId", from, "links", len(links))
		return false, nil
	}
	return true, r.MergeChat(ctx, from, into)
}

// MergeChat moves everything from one chat into another and deletes the
// source: messages, participants (an existing row in the target wins), read
// watermarks (the later watermark wins) and links.
func (r *Runner) MergeChat(ctx context.Context, from, into uuid.UUID) error {
	if from == into {
		return nil
	}
	moved, err := r.store.MoveMessages(ctx, from, into)
	if err != nil {
		return err
	}

	participants, err := r.store.ListParticipants(ctx, from)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if _, err := r.store.AddParticipant(ctx, &model.ChatParticipant{
			ChatID:    into,
			UserID:    p.UserID,
			Grant:     p.Grant,
			CreatedAt: p.CreatedAt,
		}); err != nil {
			return err
		}
	}

	reads, err := r.store.ListReads(ctx, from)
	if err != nil {
		return err
	}
	for _, read := range reads {
		if err := r.mergeRead(ctx, read, into); err != nil {
			return err
		}
	}

	relinked, err := r.store.RelinkChat(ctx, from, into)
	if err != nil {
		return err
	}
	if err := r.store.DeleteChat(ctx, from); err != nil {
		return err
	}
	affected, err := r.store.ListParticipants(ctx, into)
	if err != nil {
		return err
	}
	users := make([]string, 0, len(affected))
	for _, p := range affected {
		users = append(users, p.UserID)
	}
	r.invalidate(ctx, users...)
	log.Info("Consolidation: merged chat",
		"fromChatId", from, "intoChatId", into,
		"messages", moved, "participants", len(participants), "reads", len(reads), "links", relinked)
	return nil
}

func (r *Runner) mergeRead(ctx context.Context, read model.ChatMessageRead, into uuid.UUID) error {
	existing, err := r.store.GetRead(ctx, into, read.UserID)
	if err != nil {
		return err
	}
	if existing != nil && !model.Earlier(existing.LastReadAt, watermarkID(existing), read.LastReadAt, watermarkID(&read)) {
		return nil
	}
	read.ChatID = into
	return r.store.UpsertRead(ctx, &read)
}

func watermarkID(read *model.ChatMessageRead) uuid.UUID {
	if read.LastReadMessageID == nil {
		return uuid.Nil
	}
	return *read.LastReadMessageID
}

// Integrity is a read-only census of invariant violations.
type Integrity struct {
	SpacesWithDuplicateLinks []uuid.UUID              `json:"spacesWithDuplicateLinks"`
	DuplicateDirectPairs     []registrystore.UserPair  `json:"duplicateDirectPairs"`
	DuplicateUserSpaces      []registrystore.OwnerName `json:"duplicateUserSpaces"`
	OrphanChats              int                       `json:"orphanChats"`
}

// Clean reports whether no violation was found.
func (i *Integrity) Clean() bool {
	return len(i.SpacesWithDuplicateLinks) == 0 && len(i.DuplicateDirectPairs) == 0 &&
		len(i.DuplicateUserSpaces) == 0 && i.OrphanChats == 0
}

// Inspect lists violations without changing anything.
func (r *Runner) Inspect(ctx context.Context) (*Integrity, error) {
	var out Integrity
	var err error
	if out.SpacesWithDuplicateLinks, err = r.store.ListSpacesWithDuplicateLinks(ctx, r.opts.BatchSize); err != nil {
		return nil, err
	}
	if out.DuplicateDirectPairs, err = r.store.ListDuplicateDirectPairs(ctx, r.opts.BatchSize); err != nil {
		return nil, err
	}
	if out.DuplicateUserSpaces, err = r.store.ListDuplicateUserSpaces(ctx, r.opts.BatchSize); err != nil {
		return nil, err
	}
	orphans, err := r.store.ListOrphanChats(ctx, model.Now().Add(-r.opts.OrphanGrace), r.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	out.OrphanChats = len(orphans)
	// Empty lists render as [] rather than null.
	if out.SpacesWithDuplicateLinks == nil {
		out.SpacesWithDuplicateLinks = []uuid.UUID{}
	}
	if out.DuplicateDirectPairs == nil {
		out.DuplicateDirectPairs = []registrystore.UserPair{}
	}
	if out.DuplicateUserSpaces == nil {
		out.DuplicateUserSpaces = []registrystore.OwnerName{}
	}
	return &out, nil
}
