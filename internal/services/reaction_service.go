// Package services – ReactionService
//
// This file implements the ReactionService, which turns up/down reaction
// events on past roll replies into durable card weight adjustments. The
// message id resolves through the roll record back to exactly one
// (chat, set, card); the reaction-mark store keyed on
// (msg_id, user_id, emoji) decides whether a given event is a fresh state
// transition or a redelivery, so adjustments are idempotent under
// at-least-once delivery. Weight writes run under the same per-set lock the
// command path uses.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/feishu-roll-bot/internal/repo"
)

// Vote is the direction of a reaction: up raises the drawn card's weight,
// down lowers it.
type Vote int

// Vote directions.
const (
	VoteUp   Vote = 1
	VoteDown Vote = -1
)

// Outcome reports what a reaction event did, mostly for logging and tests.
type Outcome int

const (
	// OutcomeApplied means the card weight was adjusted.
	OutcomeApplied Outcome = iota
	// OutcomeNoRecord means the message was not a tracked roll reply.
	OutcomeNoRecord
	// OutcomeSetGone means the set was deleted or renamed since the roll.
	OutcomeSetGone
	// OutcomeCardGone means the card was removed since the roll.
	OutcomeCardGone
	// OutcomeDuplicate means the event was a redelivery or an out-of-order
	// transition and changed nothing.
	OutcomeDuplicate
)

// ReactionService applies reaction events to card weights.
type ReactionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Locks must be the same table the CardSetService writes under.
	Locks *KeyMutex
}

// Apply processes one reaction event: userID added (removed=false) or undid
// (removed=true) a vote on the roll reply msgID. emoji is the stored emoji
// kind, used only as part of the dedup key and to derive the delta direction
// via vote.
//
// The applied delta is vote's sign, negated for removals, clamped at zero on
// the low end. Every outcome other than OutcomeApplied leaves all state
// untouched.
func (s *ReactionService) Apply(ctx context.Context, msgID, userID, emoji string, vote Vote, removed bool) (Outcome, error) {
	rec, err := repo.GetRollRecord(ctx, s.DB, msgID)
	if errors.Is(err, repo.ErrNotFound) {
		return OutcomeNoRecord, nil
	}
	if err != nil {
		return 0, err
	}

	unlock := s.Locks.Lock(setKey(rec.ChatID, rec.CardSetName))
	defer unlock()

	set, err := repo.GetCardSet(ctx, s.DB, rec.ChatID, rec.CardSetName)
	if errors.Is(err, repo.ErrNotFound) {
		return OutcomeSetGone, nil
	}
	if err != nil {
		return 0, err
	}
	if set.GetCard(rec.CardName) == nil {
		return OutcomeCardGone, nil
	}

	delta := int(vote)
	if removed {
		delta = -delta
	}

	// The mark transition and the weight write commit together. A mark that
	// outlived a failed weight save would make the redelivery of the same
	// event look like a duplicate, and the eventual undo would then apply a
	// delta that was never matched by the original.
	var applied bool
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var terr error
		applied, terr = s.transition(ctx, tx, msgID, userID, emoji, removed)
		if terr != nil || !applied {
			return terr
		}
		set.ChangeWeight(rec.CardName, delta)
		return repo.SaveCardSet(ctx, tx, set)
	})
	if err != nil {
		return 0, err
	}
	if !applied {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

// transition advances the (msgID, userID, emoji) mark to the state implied by
// the event and reports whether the event represents a fresh transition.
//
// created-event: absent mark -> create active; inactive mark -> reactivate;
// active mark -> duplicate. deleted-event: active mark -> deactivate;
// anything else -> duplicate (an undo for a vote that was never applied).
func (s *ReactionService) transition(ctx context.Context, tx *gorm.DB, msgID, userID, emoji string, removed bool) (bool, error) {
	if removed {
		return repo.SetReactionMarkActive(ctx, tx, msgID, userID, emoji, false)
	}

	err := repo.CreateReactionMark(ctx, tx, msgID, userID, emoji)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return false, err
	}
	// Mark exists: applies only if it is currently inactive.
	return repo.SetReactionMarkActive(ctx, tx, msgID, userID, emoji, true)
}
