// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for roll records.
//
// Roll records are append-only: a row is created exactly once, when a roll
// reply has been delivered and its message id is known, and is never updated
// or deleted afterwards. Reaction resolution reads them by message id.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/feishu-roll-bot/internal/domain"
)

// ErrDuplicate indicates a unique-constraint violation on insert.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation detects unique-constraint failures in a driver-agnostic
// way; glebarez/sqlite often reports them as plain-text errors rather than
// gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateRollRecord appends a roll record. MsgID must be unique: message ids
// are issued by the messaging platform, so a collision is a programming
// error surfaced as ErrDuplicate rather than a user-facing condition.
func CreateRollRecord(ctx context.Context, db *gorm.DB, rec *domain.RollRecord) error {
	row := domain.RollRecord{
		ID:          uuid.NewString(),
		ChatID:      rec.ChatID,
		CardSetName: rec.CardSetName,
		CardName:    rec.CardName,
		MsgID:       rec.MsgID,
		CreatedBy:   rec.CreatedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetRollRecord returns the record for msgID, or ErrNotFound when the message
// was not a tracked roll reply.
func GetRollRecord(ctx context.Context, db *gorm.DB, msgID string) (*domain.RollRecord, error) {
	var row domain.RollRecord
	err := db.WithContext(ctx).Where("msg_id = ?", msgID).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}
