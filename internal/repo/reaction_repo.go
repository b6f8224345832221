// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for reaction marks,
// the applied-state records that make weight adjustment idempotent under
// at-least-once webhook delivery.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/feishu-roll-bot/internal/domain"
)

// GetReactionMark returns the mark for (msgID, userID, emoji), or ErrNotFound.
func GetReactionMark(ctx context.Context, db *gorm.DB, msgID, userID, emoji string) (*domain.ReactionMark, error) {
	var row domain.ReactionMark
	err := db.WithContext(ctx).
		Where("msg_id = ? AND user_id = ? AND emoji = ?", msgID, userID, emoji).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// CreateReactionMark inserts an active mark for (msgID, userID, emoji).
// A concurrent insert of the same tuple loses to the unique index and is
// reported as ErrDuplicate.
func CreateReactionMark(ctx context.Context, db *gorm.DB, msgID, userID, emoji string) error {
	now := time.Now().UTC()
	row := domain.ReactionMark{
		ID:        uuid.NewString(),
		MsgID:     msgID,
		UserID:    userID,
		Emoji:     emoji,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// SetReactionMarkActive flips the mark's applied state only when the stored
// state differs, reporting whether a row changed. The conditional update
// makes the transition itself the dedup point: a redelivered event finds the
// state already set and affects zero rows.
func SetReactionMarkActive(ctx context.Context, db *gorm.DB, msgID, userID, emoji string, active bool) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ReactionMark{}).
		Where("msg_id = ? AND user_id = ? AND emoji = ? AND active = ?", msgID, userID, emoji, !active).
		Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkEventProcessed records a webhook event id, returning false when the id
// was already recorded (redelivery). Rows expire after ttl; expired rows for
// the same id are treated as fresh deliveries by Feishu's retry window being
// far shorter than any sane ttl.
func MarkEventProcessed(ctx context.Context, db *gorm.DB, eventID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	row := domain.ProcessedEvent{
		ID:        uuid.NewString(),
		EventID:   eventID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PurgeExpiredEvents deletes processed-event rows past their expiry and
// returns the number removed. Intended for a periodic sweep from main.
func PurgeExpiredEvents(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.ProcessedEvent{})
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
