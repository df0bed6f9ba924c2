package ledger

import (
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/tiers"
	"gorm.io/datatypes"
)

// ReasonMintPiece labels XP granted for minting a puzzle piece.
const ReasonMintPiece = "mint_piece"

const monthKeyLayout = "2006-01-02"

// HistoryEntry is one append-only XP grant. Rows are never updated or deleted.
type HistoryEntry struct {
	ID        int64             `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    string            `gorm:"column:user_id;size:64;not null;index"`
	Amount    int64             `gorm:"column:amount;not null"`
	Reason    string            `gorm:"column:reason;size:64;not null"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt time.Time         `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (HistoryEntry) TableName() string {
	return "xp_history"
}

// SeasonXP is the per-season XP counter of a user.
type SeasonXP struct {
	SeasonID  string    `gorm:"column:season_id;primaryKey;size:64"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:64"`
	XPAmount  int64     `gorm:"column:xp_amount;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SeasonXP) TableName() string {
	return "season_xp"
}

// MonthlyEvent holds a user's cumulative XP and tier for one calendar month.
type MonthlyEvent struct {
	MonthDate string     `gorm:"column:month_date;primaryKey;size:10"`
	UserID    string     `gorm:"column:user_id;primaryKey;size:64"`
	XPGained  int64      `gorm:"column:xp_gained;not null;default:0"`
	Tier      tiers.Tier `gorm:"column:tier;size:16;not null;default:'Bronze'"`
	UpdatedAt time.Time  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MonthlyEvent) TableName() string {
	return "monthly_events"
}

// MonthKey returns the UTC calendar month start, formatted YYYY-MM-01.
func MonthKey(at time.Time) string {
	utc := at.UTC()
	return time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC).Format(monthKeyLayout)
}

// AccrueSeason returns the aggregate after adding increment to it.
func AccrueSeason(current SeasonXP, increment int64) SeasonXP {
	next := current
	next.XPAmount = current.XPAmount + increment
	return next
}

// AccrueMonthly returns the aggregate after adding increment, with the tier re-derived
// from the new monthly total.
func AccrueMonthly(current MonthlyEvent, increment int64) MonthlyEvent {
	next := current
	next.XPGained = current.XPGained + increment
	next.Tier = tiers.Classify(next.XPGained)
	return next
}
