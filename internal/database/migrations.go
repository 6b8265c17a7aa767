package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Schema changes AutoMigrate cannot express. Names are applied once, in
// order, and never renamed.
const (
	migrationActiveMeetingIndex    = "2025-01-10_active_meeting_per_community"
	migrationUnreadNotifications   = "2025-02-03_unread_notifications_index"
	migrationConnectedPresenceScan = "2025-03-17_connected_presence_index"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	// At most one active meeting may exist per community.
	{
		name: migrationActiveMeetingIndex,
		sql: "CREATE UNIQUE INDEX IF NOT EXISTS idx_meetings_active_community " +
			"ON meetings (community_id) WHERE is_active",
	},
	{
		name: migrationUnreadNotifications,
		sql: "CREATE INDEX IF NOT EXISTS idx_notifications_unread " +
			"ON notifications (recipient_id, created_at) WHERE NOT is_read",
	},
	// Serves the stale presence sweep.
	{
		name: migrationConnectedPresenceScan,
		sql: "CREATE INDEX IF NOT EXISTS idx_presences_connected " +
			"ON presences (last_seen) WHERE connections > 0",
	},
}

// applyMigrations runs every migration not yet recorded. A migration and its
// record commit together.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, m := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", m.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("read migration %s: %w", m.name, err)
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(m.sql).Error; err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: m.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		logger.Info("database migration applied", zap.String("migration", m.name))
	}
	return nil
}
