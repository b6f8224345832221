// Package services defines the business logic for card sets, rolls, and
// reaction-driven weight adjustment. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; the bot
// layer translates them into chat replies (usage hints, "not found" texts)
// rather than surfacing them to users directly.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrSetNotFound indicates that the requested card set does not exist
	// in the chat (or was tombstoned).
	ErrSetNotFound = errors.New("card set not found")

	// ErrSetExists is returned when creating a set whose name is already
	// taken by a live set in the same chat.
	ErrSetExists = errors.New("card set already exists")

	// ErrCardNotFound indicates that the named card is not in the set.
	ErrCardNotFound = errors.New("card not found")

	// ErrAmbiguousSet is returned by Roll without a set name when the chat
	// has more than one set to choose from.
	ErrAmbiguousSet = errors.New("multiple card sets, name one")
)

// NonEmptySetError reports a refused deletion of a set that still has
// members. Count is surfaced to the user in the refusal message.
type NonEmptySetError struct {
	Count int
}

func (e *NonEmptySetError) Error() string {
	return fmt.Sprintf("card set still has %d members", e.Count)
}
