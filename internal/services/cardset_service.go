// Package services – CardSetService
//
// This file implements the CardSetService, which carries out the bot's
// command operations on card sets: creating sets, adding and removing cards,
// listing, rolling, and linking delivered roll replies to roll records. It
// enforces the business rules the entities themselves do not (non-empty sets
// cannot be deleted, duplicate set creation is refused) and serializes every
// write per (chat_id, set_name) through a shared KeyMutex so concurrent
// webhook workers cannot lose updates.
//
// Service-level errors (ErrSetNotFound, ErrSetExists, ErrCardNotFound,
// ErrAmbiguousSet, NonEmptySetError) are returned for predictable cases so
// the bot layer can map them to chat replies consistently.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/feishu-roll-bot/internal/domain"
	"github.com/tbourn/feishu-roll-bot/internal/repo"
)

// CardSetService implements the use-cases around card sets and rolls.
// The service is context-aware and safe for concurrent use.
type CardSetService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Locks serializes writers per (chat_id, set_name). Shared with the
	// ReactionService so reactions and commands cannot race on a set.
	Locks *KeyMutex
}

// NewCardSetService constructs a CardSetService with its own lock table.
func NewCardSetService(db *gorm.DB) *CardSetService {
	return &CardSetService{DB: db, Locks: NewKeyMutex()}
}

// setKey names the per-set lock. The NUL separator keeps distinct
// (chat, name) pairs from colliding.
func setKey(chatID, name string) string { return chatID + "\x00" + name }

// CreateSet creates an empty set. A live set under the same name yields
// ErrSetExists; a tombstoned one does not block the name.
func (s *CardSetService) CreateSet(ctx context.Context, chatID, name, createdBy string) error {
	unlock := s.Locks.Lock(setKey(chatID, name))
	defer unlock()

	_, err := repo.GetCardSet(ctx, s.DB, chatID, name)
	switch {
	case err == nil:
		return ErrSetExists
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}
	return repo.SaveCardSet(ctx, s.DB, domain.NewCardSet(chatID, name, createdBy))
}

// AddCards adds the named items to the set, creating the set first when it
// does not exist. Items already present keep their weight (first-write-wins).
// A save that would exceed the payload ceiling fails with
// repo.ErrPayloadTooLarge and persists nothing.
func (s *CardSetService) AddCards(ctx context.Context, chatID, name, createdBy string, items ...string) (*domain.CardSet, error) {
	unlock := s.Locks.Lock(setKey(chatID, name))
	defer unlock()

	set, err := repo.GetCardSet(ctx, s.DB, chatID, name)
	if errors.Is(err, repo.ErrNotFound) {
		set = domain.NewCardSet(chatID, name, createdBy)
	} else if err != nil {
		return nil, err
	}
	for _, item := range items {
		set.AddCard(item, domain.DefaultCardWeight)
	}
	if err := repo.SaveCardSet(ctx, s.DB, set); err != nil {
		return nil, err
	}
	return set, nil
}

// ListSets returns the chat's live sets in creation order.
func (s *CardSetService) ListSets(ctx context.Context, chatID string) ([]*domain.CardSet, error) {
	return repo.ListCardSets(ctx, s.DB, chatID)
}

// GetSet returns the named live set, or ErrSetNotFound.
func (s *CardSetService) GetSet(ctx context.Context, chatID, name string) (*domain.CardSet, error) {
	set, err := repo.GetCardSet(ctx, s.DB, chatID, name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSetNotFound
	}
	return set, err
}

// DeleteSet tombstones an empty set. A set that still has members is refused
// with a NonEmptySetError carrying the member count.
func (s *CardSetService) DeleteSet(ctx context.Context, chatID, name string) error {
	unlock := s.Locks.Lock(setKey(chatID, name))
	defer unlock()

	set, err := repo.GetCardSet(ctx, s.DB, chatID, name)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrSetNotFound
	}
	if err != nil {
		return err
	}
	if n := set.Len(); n > 0 {
		return &NonEmptySetError{Count: n}
	}
	ok, err := repo.RemoveCardSet(ctx, s.DB, chatID, name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSetNotFound
	}
	return nil
}

// DeleteCard removes one named item from the set and returns the removed
// card, weight included, for the confirmation reply.
func (s *CardSetService) DeleteCard(ctx context.Context, chatID, name, item string) (*domain.Card, error) {
	unlock := s.Locks.Lock(setKey(chatID, name))
	defer unlock()

	set, err := repo.GetCardSet(ctx, s.DB, chatID, name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSetNotFound
	}
	if err != nil {
		return nil, err
	}
	removed := set.RemoveCard(item)
	if removed == nil {
		return nil, ErrCardNotFound
	}
	if err := repo.SaveCardSet(ctx, s.DB, set); err != nil {
		return nil, err
	}
	return removed, nil
}

// Roll draws a card from the named set. With an empty name, a chat with
// exactly one set rolls that set; zero sets yield ErrSetNotFound and more
// than one yields ErrAmbiguousSet so the bot can ask which set was meant.
// The draw itself is read-only; no lock is needed.
func (s *CardSetService) Roll(ctx context.Context, chatID, name string) (domain.Card, *domain.CardSet, error) {
	if name == "" {
		sets, err := repo.ListCardSets(ctx, s.DB, chatID)
		if err != nil {
			return domain.Card{}, nil, err
		}
		switch len(sets) {
		case 0:
			return domain.Card{}, nil, ErrSetNotFound
		case 1:
			name = sets[0].Name
		default:
			return domain.Card{}, nil, ErrAmbiguousSet
		}
	}

	set, err := repo.GetCardSet(ctx, s.DB, chatID, name)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Card{}, nil, ErrSetNotFound
	}
	if err != nil {
		return domain.Card{}, nil, err
	}
	card, err := set.Roll()
	if err != nil {
		return domain.Card{}, set, err
	}
	return card, set, nil
}

// RecordRoll persists the link between a delivered roll reply and the draw it
// announced. Called only after the reply was sent and its message id is
// known; the roll itself is never rolled back when delivery fails.
func (s *CardSetService) RecordRoll(ctx context.Context, rec *domain.RollRecord) error {
	return repo.CreateRollRecord(ctx, s.DB, rec)
}
