package threadsync

import (
	"errors"
	"fmt"

	"github.com/checksumhq/danny/internal/models"
	"github.com/checksumhq/danny/internal/onboarding"
	"gorm.io/gorm"
)

// ErrChannelNotFound is returned when removing a channel that is not
// monitored.
var ErrChannelNotFound = errors.New("threadsync: channel not monitored")

// AddChannel starts monitoring channelID. Adding a channel that is already
// monitored changes nothing and returns the existing row with created false.
func AddChannel(db *gorm.DB, channelID, name string, phase onboarding.Phase) (ch *models.MonitoredChannel, created bool, err error) {
	if channelID == "" {
		return nil, false, fmt.Errorf("threadsync: channelID is required")
	}
	if !phase.Valid() {
		return nil, false, fmt.Errorf("threadsync: add channel %s: unknown phase %q", channelID, phase)
	}
	if name == "" {
		name = channelID
	}

	var existing models.MonitoredChannel
	err = db.Where("channel_id = ?", channelID).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("threadsync: add channel %s: %w", channelID, err)
	}

	row := models.MonitoredChannel{ChannelID: channelID, Name: name, Phase: string(phase)}
	if err := db.Create(&row).Error; err != nil {
		return nil, false, fmt.Errorf("threadsync: add channel %s: %w", channelID, err)
	}
	return &row, true, nil
}

// RemoveChannel stops monitoring channelID. Its cursor and threads are kept,
// so re-adding the channel resumes where polling left off.
func RemoveChannel(db *gorm.DB, channelID string) error {
	result := db.Where("channel_id = ?", channelID).Delete(&models.MonitoredChannel{})
	if result.Error != nil {
		return fmt.Errorf("threadsync: remove channel %s: %w", channelID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	return nil
}

// ListChannels returns all monitored channels in the order they were added.
func ListChannels(db *gorm.DB) ([]models.MonitoredChannel, error) {
	var channels []models.MonitoredChannel
	if err := db.Order("id ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("threadsync: list channels: %w", err)
	}
	return channels, nil
}
