package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"gorm.io/gorm"
)

func createPendingNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_pending_notifications",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.PendingNotificationModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PendingNotificationModel{})
		},
	}
}
