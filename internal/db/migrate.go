package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/checksumhq/danny/internal/config"
	"github.com/checksumhq/danny/internal/models"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// mysqlDuplicateEntry is the MySQL error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// AllModels returns every GORM model danny persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.MonitoredChannel{},
		&models.ChannelCursor{},
		&models.ConversationSession{},
		&models.ConversationThread{},
		&models.CustomerRepo{},
		&models.Deployment{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// DropAll drops every danny table. Used by `db reset` on SQLite, where
// there is no server-side database to drop.
func DropAll(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return nil
}

// SeedChannels upserts MonitoredChannel rows from configuration.
func SeedChannels(db *gorm.DB, channels []config.ChannelConfig) error {
	for _, cc := range channels {
		name := cc.Name
		if name == "" {
			name = cc.ID
		}
		ch := models.MonitoredChannel{
			ChannelID: cc.ID,
			Name:      name,
			Phase:     cc.Phase,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "phase"}),
		}).Create(&ch)
		if result.Error != nil {
			return fmt.Errorf("db: seed channel %q: %w", cc.ID, result.Error)
		}
	}
	return nil
}

// IsDuplicateKey reports whether err is a unique-constraint violation,
// either translated by GORM or raw from the MySQL or SQLite driver.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
