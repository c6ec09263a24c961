package server

import (
	"fmt"
	"time"

	"github.com/checksumhq/danny/internal/models"
	"gorm.io/gorm"
)

// ChannelRow is a monitored channel with its sync progress.
type ChannelRow struct {
	ChannelID  string    `json:"channel_id"`
	Name       string    `json:"name"`
	Phase      string    `json:"phase"`
	LastSeenTS string    `json:"last_seen_ts,omitempty"`
	Threads    int64     `json:"threads"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChannelSummary returns every monitored channel with its cursor and
// thread count.
func ChannelSummary(db *gorm.DB) ([]ChannelRow, error) {
	var channels []models.MonitoredChannel
	if err := db.Order("id ASC").Find(&channels).Error; err != nil {
		return nil, err
	}

	var cursors []models.ChannelCursor
	if err := db.Find(&cursors).Error; err != nil {
		return nil, err
	}
	seen := make(map[string]string, len(cursors))
	for _, c := range cursors {
		seen[c.ChannelID] = c.LastSeenTS
	}

	type countRow struct {
		ChannelID string
		Count     int64
	}
	var counts []countRow
	if err := db.Model(&models.ConversationThread{}).
		Select("channel_id, count(*) as count").
		Group("channel_id").
		Find(&counts).Error; err != nil {
		return nil, err
	}
	threads := make(map[string]int64, len(counts))
	for _, c := range counts {
		threads[c.ChannelID] = c.Count
	}

	rows := make([]ChannelRow, len(channels))
	for i, ch := range channels {
		rows[i] = ChannelRow{
			ChannelID:  ch.ChannelID,
			Name:       ch.Name,
			Phase:      ch.Phase,
			LastSeenTS: seen[ch.ChannelID],
			Threads:    threads[ch.ChannelID],
			CreatedAt:  ch.CreatedAt,
		}
	}
	return rows, nil
}

// ThreadRow is a registered thread joined with its session phase.
type ThreadRow struct {
	ThreadTS    string    `json:"thread_ts"`
	SessionID   uint      `json:"session_id"`
	Phase       string    `json:"phase"`
	LastReplyTS *string   `json:"last_reply_ts,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChannelThreads returns the threads registered in a channel, oldest first.
func ChannelThreads(db *gorm.DB, channelID string) ([]ThreadRow, error) {
	var rows []ThreadRow
	err := db.Table("conversation_threads t").
		Select("t.thread_ts, t.session_id, s.phase, t.last_reply_ts, t.created_at, t.updated_at").
		Joins("JOIN conversation_sessions s ON s.id = t.session_id").
		Where("t.channel_id = ?", channelID).
		Order("t.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// RecordDeployment stores a reported component rollout.
func RecordDeployment(db *gorm.DB, component, sha string) (*models.Deployment, error) {
	d := models.Deployment{Component: component, SHA: sha}
	if err := db.Create(&d).Error; err != nil {
		return nil, fmt.Errorf("server: record deployment: %w", err)
	}
	return &d, nil
}

// RecentDeployments returns the latest deployments, newest first.
func RecentDeployments(db *gorm.DB, limit int) ([]models.Deployment, error) {
	var out []models.Deployment
	if err := db.Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
