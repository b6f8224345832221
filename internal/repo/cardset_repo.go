// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for card sets.
//
// Card sets are stored one row per (chat_id, name) among live rows, with the
// cards serialized as a JSON array in the items column. Deletion tombstones
// the row; tombstoned rows are invisible to every read here and a later
// create under the same name inserts a fresh row.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only persistence
// and query composition. Callers are expected to serialize writes per
// (chat_id, name); the upsert in SaveCardSet is read-then-write and is not
// atomic against concurrent writers to the same key.
//
// Error semantics:
//   - A missing set returns ErrNotFound (alias of gorm.ErrRecordNotFound).
//   - A serialized payload over MaxItemsBytes returns ErrPayloadTooLarge;
//     nothing is written and nothing is truncated.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/feishu-roll-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrPayloadTooLarge is returned by SaveCardSet when the serialized cards
// exceed MaxItemsBytes. The save is refused outright; silently truncating
// the payload would corrupt the stored set.
var ErrPayloadTooLarge = errors.New("serialized card set exceeds size limit")

// MaxItemsBytes caps the serialized items column of a card set row.
const MaxItemsBytes = 2048

// rowToCardSet rebuilds the in-memory aggregate from a stored row. The
// returned set is a detached copy; mutations are durable only after
// SaveCardSet.
func rowToCardSet(row *domain.CardSetRecord) (*domain.CardSet, error) {
	var items []domain.Card
	if err := json.Unmarshal([]byte(row.Items), &items); err != nil {
		return nil, fmt.Errorf("decode card set %s/%s: %w", row.ChatID, row.Name, err)
	}
	set := domain.NewCardSet(row.ChatID, row.Name, row.CreatedBy)
	for _, it := range items {
		set.AddCard(it.Name, it.Weight)
	}
	return set, nil
}

// marshalCards serializes the set's cards and enforces the size ceiling.
func marshalCards(set *domain.CardSet) (string, error) {
	cards := set.Cards()
	if cards == nil {
		cards = []domain.Card{}
	}
	raw, err := json.Marshal(cards)
	if err != nil {
		return "", err
	}
	if len(raw) > MaxItemsBytes {
		return "", fmt.Errorf("%w: %d bytes > %d", ErrPayloadTooLarge, len(raw), MaxItemsBytes)
	}
	return string(raw), nil
}

// GetCardSet fetches the live set identified by (chatID, name), or
// ErrNotFound when no live row matches. Tombstoned rows are never returned.
func GetCardSet(ctx context.Context, db *gorm.DB, chatID, name string) (*domain.CardSet, error) {
	var row domain.CardSetRecord
	err := db.WithContext(ctx).
		Where("chat_id = ? AND name = ? AND deleted = ?", chatID, name, false).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return rowToCardSet(&row)
}

// ListCardSets returns every live set in the chat in creation order. It
// returns an empty slice when the chat has no sets.
func ListCardSets(ctx context.Context, db *gorm.DB, chatID string) ([]*domain.CardSet, error) {
	var rows []domain.CardSetRecord
	err := db.WithContext(ctx).
		Where("chat_id = ? AND deleted = ?", chatID, false).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.CardSet, 0, len(rows))
	for i := range rows {
		set, err := rowToCardSet(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, nil
}

// SaveCardSet upserts the set among live rows: an existing live
// (chat_id, name) row has its items overwritten, otherwise a fresh row is
// inserted with creation metadata. Tombstoned rows are ignored by the match,
// so re-creating a deleted name starts a new history rather than resurrecting
// the old row.
func SaveCardSet(ctx context.Context, db *gorm.DB, set *domain.CardSet) error {
	items, err := marshalCards(set)
	if err != nil {
		return err
	}

	var row domain.CardSetRecord
	err = db.WithContext(ctx).
		Where("chat_id = ? AND name = ? AND deleted = ?", set.ChatID, set.Name, false).
		First(&row).Error
	switch {
	case err == nil:
		return db.WithContext(ctx).
			Model(&domain.CardSetRecord{}).
			Where("id = ?", row.ID).
			Update("items", items).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = domain.CardSetRecord{
			ID:        uuid.NewString(),
			ChatID:    set.ChatID,
			Name:      set.Name,
			Items:     items,
			CreatedAt: time.Now().UTC(),
			CreatedBy: set.CreatedBy,
		}
		return db.WithContext(ctx).Create(&row).Error
	default:
		return err
	}
}

// RemoveCardSet tombstones the live row matching (chatID, name) and reports
// whether a row was marked. Removing an absent or already-deleted set is a
// no-op returning false.
func RemoveCardSet(ctx context.Context, db *gorm.DB, chatID, name string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.CardSetRecord{}).
		Where("chat_id = ? AND name = ? AND deleted = ?", chatID, name, false).
		Update("deleted", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
