package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/badges"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSeedBadgeCatalog      = "2026-10-01_seed_badge_catalog"
	migrationSingleActiveSeason    = "2026-10-01_single_active_season"
	migrationBackfillLifetimeXP    = "2026-10-08_backfill_lifetime_xp"
	sqlCreateSingleActiveSeasonIdx = "CREATE UNIQUE INDEX IF NOT EXISTS idx_seasons_single_active ON seasons (is_active) WHERE is_active"
	sqlBackfillLifetimeXP          = "UPDATE users SET lifetime_xp = (SELECT COALESCE(SUM(amount), 0) FROM xp_history WHERE xp_history.user_id = users.id)"
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

func migrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationSeedBadgeCatalog, apply: seedBadgeCatalog},
		{name: migrationSingleActiveSeason, apply: enforceSingleActiveSeason},
		{name: migrationBackfillLifetimeXP, apply: backfillLifetimeXP},
	}
}

// applyMigrations runs each pending migration together with its record in one transaction.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrations() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func seedBadgeCatalog(tx *gorm.DB) error {
	return badges.UpsertCatalog(tx, badges.DefaultCatalog())
}

func enforceSingleActiveSeason(tx *gorm.DB) error {
	return tx.Exec(sqlCreateSingleActiveSeasonIdx).Error
}

func backfillLifetimeXP(tx *gorm.DB) error {
	return tx.Exec(sqlBackfillLifetimeXP).Error
}
