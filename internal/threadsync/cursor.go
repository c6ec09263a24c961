package threadsync

import (
	"errors"
	"fmt"

	"github.com/checksumhq/danny/internal/models"
	"github.com/checksumhq/danny/internal/platform"
	"gorm.io/gorm"
)

// GetCursor returns the channel's high-water mark. ok is false when the
// channel has never been scanned.
func GetCursor(db *gorm.DB, channelID string) (ts string, ok bool, err error) {
	var cur models.ChannelCursor
	err = db.Where("channel_id = ?", channelID).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("threadsync: get cursor %s: %w", channelID, err)
	}
	return cur.LastSeenTS, true, nil
}

// AdvanceCursor moves the channel's high-water mark to ts, creating it on
// first use. A ts that is not newer than the stored mark is ignored, so the
// cursor never moves backwards.
func AdvanceCursor(db *gorm.DB, channelID, ts string) error {
	if channelID == "" {
		return fmt.Errorf("threadsync: channelID is required")
	}
	if ts == "" {
		return fmt.Errorf("threadsync: advance cursor %s: empty timestamp", channelID)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var cur models.ChannelCursor
		err := tx.Where("channel_id = ?", channelID).First(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cur = models.ChannelCursor{ChannelID: channelID, LastSeenTS: ts}
			if err := tx.Create(&cur).Error; err != nil {
				return fmt.Errorf("threadsync: create cursor %s: %w", channelID, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("threadsync: load cursor %s: %w", channelID, err)
		}
		if !platform.NewerThan(ts, cur.LastSeenTS) {
			return nil
		}
		if err := tx.Model(&cur).Update("last_seen_ts", ts).Error; err != nil {
			return fmt.Errorf("threadsync: advance cursor %s: %w", channelID, err)
		}
		return nil
	})
}
