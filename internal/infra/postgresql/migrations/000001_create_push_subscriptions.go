package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"gorm.io/gorm"
)

func createPushSubscriptionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_push_subscriptions",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.SubscriptionModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubscriptionModel{})
		},
	}
}
