package ledger

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryUserID       = "user_id = ?"
	querySeasonUser   = "season_id = ? AND user_id = ?"
	queryMonthUser    = "month_date = ? AND user_id = ?"
	errFormatNonPosXP = "%w: %d"
)

var (
	// ErrNonPositiveAmount indicates an XP grant of zero or less.
	ErrNonPositiveAmount = errors.New("ledger: xp amount must be positive")
	// ErrMissingLifetimeWriter indicates the ledger was built without a lifetime projection writer.
	ErrMissingLifetimeWriter = errors.New("ledger: lifetime writer required")
)

// LifetimeWriter stores the lifetime XP projection on the owning user record.
type LifetimeWriter interface {
	SetLifetimeXP(tx *gorm.DB, userID string, total int64) error
}

// Config describes the ledger dependencies.
type Config struct {
	Lifetime LifetimeWriter
	Clock    func() time.Time
}

// Ledger appends XP history and maintains the season and monthly projections.
type Ledger struct {
	lifetime LifetimeWriter
	now      func() time.Time
}

// New constructs a Ledger.
func New(cfg Config) (*Ledger, error) {
	if cfg.Lifetime == nil {
		return nil, ErrMissingLifetimeWriter
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{lifetime: cfg.Lifetime, now: clock}, nil
}

// Grant appends one history entry and returns the user's lifetime XP recomputed from history.
// Lifetime XP is always written as the history sum, never incremented in place.
func (l *Ledger) Grant(tx *gorm.DB, userID string, amount int64, reason string, metadata map[string]interface{}) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf(errFormatNonPosXP, ErrNonPositiveAmount, amount)
	}
	entry := HistoryEntry{
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		Metadata:  metadata,
		CreatedAt: l.now().UTC(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return 0, err
	}
	total, err := l.HistoryTotal(tx, userID)
	if err != nil {
		return 0, err
	}
	if err := l.lifetime.SetLifetimeXP(tx, userID, total); err != nil {
		return 0, err
	}
	return total, nil
}

// HistoryTotal sums every history entry recorded for the user.
func (l *Ledger) HistoryTotal(db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.Model(&HistoryEntry{}).
		Where(queryUserID, userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// History returns the user's entries oldest first.
func (l *Ledger) History(db *gorm.DB, userID string) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := db.Where(queryUserID, userID).Order("id ASC").Find(&entries).Error
	return entries, err
}

// AccrueSeasonXP adds increment to the (season, user) counter. The current value is read under
// a row lock immediately before the write.
func (l *Ledger) AccrueSeasonXP(tx *gorm.DB, seasonID, userID string, increment int64) (SeasonXP, error) {
	now := l.now().UTC()
	seed := SeasonXP{SeasonID: seasonID, UserID: userID, UpdatedAt: now}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return SeasonXP{}, err
	}

	var current SeasonXP
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(querySeasonUser, seasonID, userID).
		Take(&current).Error
	if err != nil {
		return SeasonXP{}, err
	}

	next := AccrueSeason(current, increment)
	next.UpdatedAt = now
	err = tx.Model(&SeasonXP{}).
		Where(querySeasonUser, seasonID, userID).
		Updates(map[string]interface{}{
			"xp_amount":  next.XPAmount,
			"updated_at": next.UpdatedAt,
		}).Error
	if err != nil {
		return SeasonXP{}, err
	}
	return next, nil
}

// AccrueMonthlyXP adds increment to the user's aggregate for the month containing at and
// re-derives the tier.
func (l *Ledger) AccrueMonthlyXP(tx *gorm.DB, userID string, increment int64, at time.Time) (MonthlyEvent, error) {
	now := l.now().UTC()
	monthKey := MonthKey(at)
	seed := AccrueMonthly(MonthlyEvent{MonthDate: monthKey, UserID: userID, UpdatedAt: now}, 0)
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return MonthlyEvent{}, err
	}

	var current MonthlyEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryMonthUser, monthKey, userID).
		Take(&current).Error
	if err != nil {
		return MonthlyEvent{}, err
	}

	next := AccrueMonthly(current, increment)
	next.UpdatedAt = now
	err = tx.Model(&MonthlyEvent{}).
		Where(queryMonthUser, monthKey, userID).
		Updates(map[string]interface{}{
			"xp_gained":  next.XPGained,
			"tier":       next.Tier,
			"updated_at": next.UpdatedAt,
		}).Error
	if err != nil {
		return MonthlyEvent{}, err
	}
	return next, nil
}

// SeasonXPFor returns the user's counter for the season, zero when absent.
func (l *Ledger) SeasonXPFor(db *gorm.DB, seasonID, userID string) (SeasonXP, error) {
	var aggregate SeasonXP
	err := db.Where(querySeasonUser, seasonID, userID).Take(&aggregate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SeasonXP{SeasonID: seasonID, UserID: userID}, nil
	}
	return aggregate, err
}

// MonthlyFor returns the user's aggregate for the month containing at, zero when absent.
func (l *Ledger) MonthlyFor(db *gorm.DB, userID string, at time.Time) (MonthlyEvent, error) {
	monthKey := MonthKey(at)
	var aggregate MonthlyEvent
	err := db.Where(queryMonthUser, monthKey, userID).Take(&aggregate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AccrueMonthly(MonthlyEvent{MonthDate: monthKey, UserID: userID}, 0), nil
	}
	return aggregate, err
}
