package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/badges"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/mints"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/pieces"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/rewards"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/seasons"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver indicates a driver name other than sqlite or postgres.
var ErrUnsupportedDriver = errors.New("database: unsupported driver")

// Models lists every table the service owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&users.User{},
		&mints.Record{},
		&ledger.HistoryEntry{},
		&ledger.SeasonXP{},
		&ledger.MonthlyEvent{},
		&seasons.Season{},
		&rewards.MysteryBox{},
		&badges.Badge{},
		&badges.UserBadge{},
		&pieces.Puzzle{},
		&migrationRecord{},
	}
}

// Open connects with the named driver and performs schema migrations.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, err
	}

	if dialector.Name() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", dialector.Name()))
	return db, nil
}

// Ping checks that the connection pool can reach the database.
func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
