package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConversationSession holds the structured answers gathered by one
// onboarding dialogue and the phase it is currently in.
type ConversationSession struct {
	ID        uint              `gorm:"primaryKey;autoIncrement"`
	Phase     string            `gorm:"size:16;not null;default:sales;index"`
	Answers   datatypes.JSONMap `gorm:"type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationThread ties a chat thread (keyed by its originating message)
// to the session it drives. ThreadTS is unique: its existence is what makes
// re-scanning a channel after a crash safe.
type ConversationThread struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	ThreadTS    string  `gorm:"size:64;not null;uniqueIndex"`
	ChannelID   string  `gorm:"size:64;not null;index"`
	SessionID   uint    `gorm:"not null;index"`
	History     string  `gorm:"type:mediumtext"` // opaque, owned by the dialogue agent
	LastReplyTS *string `gorm:"size:64"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
