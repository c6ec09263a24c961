package threadsync

import (
	"errors"
	"fmt"

	"github.com/checksumhq/danny/internal/db"
	"github.com/checksumhq/danny/internal/models"
	"github.com/checksumhq/danny/internal/onboarding"
	"github.com/checksumhq/danny/internal/platform"
	"gorm.io/gorm"
)

var (
	// ErrThreadExists is returned when a thread is already registered for a
	// message.
	ErrThreadExists = errors.New("threadsync: thread already registered")
	// ErrThreadNotFound is returned when no thread is registered for a
	// message.
	ErrThreadNotFound = errors.New("threadsync: thread not found")
	// ErrStaleProgress is returned when recorded progress would move a
	// thread's reply marker backwards.
	ErrStaleProgress = errors.New("threadsync: reply marker would move backwards")
)

// ThreadExists reports whether a thread is registered for threadTS.
func ThreadExists(db *gorm.DB, threadTS string) (bool, error) {
	var n int64
	if err := db.Model(&models.ConversationThread{}).Where("thread_ts = ?", threadTS).Count(&n).Error; err != nil {
		return false, fmt.Errorf("threadsync: thread exists %s: %w", threadTS, err)
	}
	return n > 0, nil
}

// GetThread loads the thread registered for threadTS.
func GetThread(db *gorm.DB, threadTS string) (*models.ConversationThread, error) {
	var th models.ConversationThread
	err := db.Where("thread_ts = ?", threadTS).First(&th).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadTS)
	}
	if err != nil {
		return nil, fmt.Errorf("threadsync: get thread %s: %w", threadTS, err)
	}
	return &th, nil
}

// CreateThread registers a thread for the top-level message threadTS and
// creates the session it drives, in one transaction. If a thread already
// exists for threadTS nothing is written and ErrThreadExists is returned.
func CreateThread(gdb *gorm.DB, channelID, threadTS string, phase onboarding.Phase) (*models.ConversationThread, error) {
	if channelID == "" || threadTS == "" {
		return nil, fmt.Errorf("threadsync: channelID and threadTS are required")
	}

	var th models.ConversationThread
	err := gdb.Transaction(func(tx *gorm.DB) error {
		exists, err := ThreadExists(tx, threadTS)
		if err != nil {
			return err
		}
		if exists {
			return ErrThreadExists
		}
		sess, err := onboarding.CreateSession(tx, phase)
		if err != nil {
			return err
		}
		th = models.ConversationThread{
			ThreadTS:  threadTS,
			ChannelID: channelID,
			SessionID: sess.ID,
		}
		return tx.Create(&th).Error
	})
	if errors.Is(err, ErrThreadExists) || db.IsDuplicateKey(err) {
		return nil, fmt.Errorf("%w: %s", ErrThreadExists, threadTS)
	}
	if err != nil {
		return nil, fmt.Errorf("threadsync: create thread %s: %w", threadTS, err)
	}
	return &th, nil
}

// ThreadsForChannel returns every thread registered in a channel, oldest
// first. Threads are never expired.
//
// TODO: no retention or archival policy exists, so every thread ever opened
// is rescanned each tick.
func ThreadsForChannel(db *gorm.DB, channelID string) ([]models.ConversationThread, error) {
	var threads []models.ConversationThread
	if err := db.Where("channel_id = ?", channelID).Order("id ASC").Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("threadsync: threads for %s: %w", channelID, err)
	}
	return threads, nil
}

// RecordProgress stores a thread's new history and the timestamp of the
// last message it covers. lastReplyTS may equal the stored marker (a
// replayed write) but never precede it.
func RecordProgress(db *gorm.DB, threadTS string, history []byte, lastReplyTS string) error {
	if lastReplyTS == "" {
		return fmt.Errorf("threadsync: record progress %s: empty reply timestamp", threadTS)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		th, err := GetThread(tx, threadTS)
		if err != nil {
			return err
		}
		if th.LastReplyTS != nil && platform.CompareTS(lastReplyTS, *th.LastReplyTS) < 0 {
			return fmt.Errorf("%w: %s: %s < %s", ErrStaleProgress, threadTS, lastReplyTS, *th.LastReplyTS)
		}
		result := tx.Model(th).Updates(map[string]any{
			"history":       string(history),
			"last_reply_ts": lastReplyTS,
		})
		if result.Error != nil {
			return fmt.Errorf("threadsync: record progress %s: %w", threadTS, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrThreadNotFound, threadTS)
		}
		return nil
	})
}
