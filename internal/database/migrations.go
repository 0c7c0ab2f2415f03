package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/records"
	"github.com/MarcoPoloResearchLab/waypoint/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationPurgeUnownedRecords     = "2026-05-04_purge_unowned_records"
	migrationLowercaseIdentityEmails = "2026-06-12_lowercase_identity_emails"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

var migrations = []migrationDefinition{
	{name: migrationPurgeUnownedRecords, apply: purgeUnownedRecords},
	{name: migrationLowercaseIdentityEmails, apply: lowercaseIdentityEmails},
}

// applyMigrations runs each named migration once, recording it in db_migrations.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		txErr := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if txErr != nil {
			return txErr
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// purgeUnownedRecords removes rows written before every record carried an owner.
func purgeUnownedRecords(db *gorm.DB) error {
	for _, model := range []any{&records.Task{}, &records.Note{}, &records.LocationWatch{}} {
		if err := db.Where("user_id IS NULL OR TRIM(user_id) = ''").Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

// lowercaseIdentityEmails normalizes addresses stored before lookups became case-insensitive.
func lowercaseIdentityEmails(db *gorm.DB) error {
	return db.Model(&users.Identity{}).
		Where("user_email <> LOWER(TRIM(user_email))").
		Update("user_email", gorm.Expr("LOWER(TRIM(user_email))")).
		Error
}
