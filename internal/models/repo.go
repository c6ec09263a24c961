package models

import "time"

// CustomerRepo tracks the last branch head processed for a watched repository.
type CustomerRepo struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:255;not null;uniqueIndex"` // owner/repo
	LastSHA   string `gorm:"size:64"`
	UpdatedAt time.Time
}

// Deployment records a component rollout reported over the HTTP API.
type Deployment struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Component string    `gorm:"size:128;not null;index" json:"component"`
	SHA       string    `gorm:"size:64;not null" json:"sha"`
	CreatedAt time.Time `json:"created_at"`
}
