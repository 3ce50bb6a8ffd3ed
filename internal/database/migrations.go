package database

import (
	"log"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "1",
			Migrate: func(txn *gorm.DB) error {
				return txn.AutoMigrate(&ClassificationJob{})
			},
			Rollback: func(txn *gorm.DB) error {
				return txn.Migrator().DropTable(&ClassificationJob{})
			},
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Run when no previous migration is recorded, creating the latest
		// schema directly.
		log.Println("clean database detected, running full schema initialization")

		return txn.AutoMigrate(&ClassificationJob{})
	})

	return migrator
}
