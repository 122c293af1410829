package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Table that records applied migration ids. Shared by postgres and sqlite.
const tableName = "schema_migrations"

var options = &gormigrate.Options{
	TableName:                 tableName,
	IDColumnName:              "id",
	IDColumnSize:              255,
	UseTransaction:            true,
	ValidateUnknownMigrations: true,
}

func all() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createPushSubscriptionsTable(),
		createPendingNotificationsTable(),
		createNotificationsTable(),
	}
}

// Migrate applies every pending migration. It fails if the database knows a migration this
// build does not, which means an older binary is running against a newer schema.
func Migrate(db *gorm.DB) error {
	if err := gormigrate.New(db, options, all()).Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// RollbackTo undoes migrations down to and excluding id.
func RollbackTo(db *gorm.DB, id string) error {
	if err := gormigrate.New(db, options, all()).RollbackTo(id); err != nil {
		return fmt.Errorf("rollback to %s: %w", id, err)
	}
	return nil
}

// Latest returns the id of the newest migration this build ships.
func Latest() string {
	m := all()
	return m[len(m)-1].ID
}
