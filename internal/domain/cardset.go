// Package domain holds the core card-set model and its persistence records.
//
// This file implements the in-memory weighted collection logic. A CardSet is
// a named, per-chat list of Cards; each Card carries a non-negative weight
// that biases random draws. The type performs no I/O: loading and saving are
// the repo package's concern, and instances returned by the repository are
// detached copies that only become durable when saved back.
package domain

import (
	"errors"
	"math/rand"
)

// DefaultCardWeight is the weight assigned to cards added without an explicit
// weight. Reactions move weights in steps of one, so the default leaves room
// to vote a card down a fair number of times before it stops being drawn.
const DefaultCardWeight = 10

var (
	// ErrEmptySet is returned by Roll when the set contains no cards.
	ErrEmptySet = errors.New("card set is empty")

	// ErrZeroWeight is returned by Roll when cards exist but every weight is
	// zero. Falling back to a uniform draw would contradict the rule that a
	// zero-weight card is never selected, so the draw is refused instead.
	ErrZeroWeight = errors.New("all card weights are zero")
)

// Card is a named, weighted item inside a CardSet. Identity is the name,
// which is unique within the owning set. Weight is always >= 0.
type Card struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// CardSet is a named, per-chat collection of cards in insertion order.
// Identity is (ChatID, Name). The zero value is not usable; construct with
// NewCardSet.
type CardSet struct {
	ChatID    string
	Name      string
	CreatedBy string

	cards []Card
}

// NewCardSet returns an empty card set owned by chatID and attributed to
// createdBy.
func NewCardSet(chatID, name, createdBy string) *CardSet {
	return &CardSet{ChatID: chatID, Name: name, CreatedBy: createdBy}
}

// AddCard appends a card with the given name and weight. Adding a name that
// already exists is a no-op: the original card keeps its weight
// (first-write-wins). Negative weights are clamped to zero.
func (s *CardSet) AddCard(name string, weight int) {
	if s.GetCard(name) != nil {
		return
	}
	if weight < 0 {
		weight = 0
	}
	s.cards = append(s.cards, Card{Name: name, Weight: weight})
}

// RemoveCard removes the named card and returns a copy of it, or nil when no
// such card exists.
func (s *CardSet) RemoveCard(name string) *Card {
	for i, c := range s.cards {
		if c.Name == name {
			s.cards = append(s.cards[:i], s.cards[i+1:]...)
			return &c
		}
	}
	return nil
}

// GetCard returns a copy of the named card, or nil when absent.
func (s *CardSet) GetCard(name string) *Card {
	for _, c := range s.cards {
		if c.Name == name {
			card := c
			return &card
		}
	}
	return nil
}

// Cards returns a snapshot of the cards in insertion order. The returned
// slice is owned by the caller; mutating it does not affect the set.
func (s *CardSet) Cards() []Card {
	out := make([]Card, len(s.cards))
	copy(out, s.cards)
	return out
}

// Len reports the number of cards in the set.
func (s *CardSet) Len() int { return len(s.cards) }

// FlushCards removes every card from the set.
func (s *CardSet) FlushCards() { s.cards = nil }

// SetWeight stores max(weight, 0) for the named card and reports whether the
// card existed.
func (s *CardSet) SetWeight(name string, weight int) bool {
	for i := range s.cards {
		if s.cards[i].Name == name {
			if weight < 0 {
				weight = 0
			}
			s.cards[i].Weight = weight
			return true
		}
	}
	return false
}

// ChangeWeight adds delta to the named card's weight, clamping the result at
// zero, and reports whether the card existed. Every weight-modifying path
// clamps the same way, so a set can never hold a negative weight.
func (s *CardSet) ChangeWeight(name string, delta int) bool {
	for i := range s.cards {
		if s.cards[i].Name == name {
			w := s.cards[i].Weight + delta
			if w < 0 {
				w = 0
			}
			s.cards[i].Weight = w
			return true
		}
	}
	return false
}

// Roll draws one card at random with probability proportional to its weight.
// A zero-weight card is never drawn. Returns ErrEmptySet when the set has no
// cards and ErrZeroWeight when no card has a positive weight.
func (s *CardSet) Roll() (Card, error) {
	if len(s.cards) == 0 {
		return Card{}, ErrEmptySet
	}
	total := 0
	for _, c := range s.cards {
		total += c.Weight
	}
	if total <= 0 {
		return Card{}, ErrZeroWeight
	}
	n := rand.Intn(total)
	for _, c := range s.cards {
		if n < c.Weight {
			return c, nil
		}
		n -= c.Weight
	}
	// Unreachable: the prefix sums cover [0, total).
	return s.cards[len(s.cards)-1], nil
}
