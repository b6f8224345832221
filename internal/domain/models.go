// Package domain defines the persistence models for card sets, roll records,
// reaction marks, and processed webhook events. These types are mapped with
// GORM and form the durable data layer of the bot.
package domain

import "time"

// CardSetRecord is the durable form of a CardSet. The cards are stored as a
// JSON array in Items, capped at a hard byte ceiling by the repository.
//
// Deletion is a tombstone: Deleted is set and the row is kept forever as
// history. Reads treat tombstoned rows as absent, and re-creating a set under
// the same name inserts a fresh row rather than resurrecting the old one, so
// the (chat_id, name) pair is unique only among live rows.
type CardSetRecord struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	ChatID    string    `gorm:"type:varchar(255);not null;index:idx_chat_sets,priority:1"`
	Name      string    `gorm:"type:varchar(255);not null;index:idx_chat_sets,priority:2"`
	Items     string    `gorm:"type:varchar(2048);not null"`
	CreatedAt time.Time `gorm:"not null"`
	CreatedBy string    `gorm:"type:varchar(255);not null"`
	Deleted   bool      `gorm:"not null;default:false"`
}

// TableName returns the database table name for CardSetRecord.
func (CardSetRecord) TableName() string { return "card_sets" }

// RollRecord links an outbound roll-result message to the draw it announced.
// It is append-only: rows are never updated or deleted, and MsgID is unique
// because the messaging platform issues each message id exactly once. Later
// reactions on MsgID resolve through this row back to the drawn card.
type RollRecord struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	ChatID      string    `gorm:"type:varchar(255);not null"`
	CardSetName string    `gorm:"type:varchar(255);not null"`
	CardName    string    `gorm:"type:varchar(255);not null"`
	MsgID       string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_roll_msg"`
	CreatedBy   string    `gorm:"type:varchar(255);not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName returns the database table name for RollRecord.
func (RollRecord) TableName() string { return "roll_records" }

// ReactionMark records whether a particular user's up/down reaction on a
// particular message is currently applied to a card weight. Keying on
// (msg_id, user_id, emoji) makes weight adjustment idempotent under
// at-least-once delivery: a redelivered "created" event finds an active mark
// and is dropped instead of double-counting, and a "deleted" event only
// reverses a mark that is actually active.
type ReactionMark struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	MsgID     string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_mark_msg_user_emoji,priority:1"`
	UserID    string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_mark_msg_user_emoji,priority:2"`
	Emoji     string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_mark_msg_user_emoji,priority:3"`
	Active    bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for ReactionMark.
func (ReactionMark) TableName() string { return "reaction_marks" }

// ProcessedEvent marks a webhook event envelope as handled. Feishu delivers
// events at least once; the handler drops envelopes whose event id was
// already recorded. Rows carry an expiry so the table stays bounded.
type ProcessedEvent struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	EventID   string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_event_id"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for ProcessedEvent.
func (ProcessedEvent) TableName() string { return "processed_events" }
