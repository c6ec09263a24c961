package models

import "time"

// Onboarding phase names, as stored in channel and session rows.
const (
	PhaseSales    = "sales"
	PhaseCustomer = "customer"
)

// KnownPhase reports whether name is a phase the onboarding agent supports.
func KnownPhase(name string) bool {
	return name == PhaseSales || name == PhaseCustomer
}

// MonitoredChannel is a chat channel the poller scans every tick. Rows are
// created and removed by administrative action only.
type MonitoredChannel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ChannelID string `gorm:"size:64;not null;uniqueIndex"`
	Name      string `gorm:"size:128;not null"`
	Phase     string `gorm:"size:16;not null;default:sales"` // starting phase for new sessions
	CreatedAt time.Time
}

// ChannelCursor is the durable high-water mark for a channel: the newest
// top-level message timestamp the poller has scanned.
type ChannelCursor struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ChannelID  string `gorm:"size:64;not null;uniqueIndex"`
	LastSeenTS string `gorm:"size:64;not null"`
	UpdatedAt  time.Time
}
