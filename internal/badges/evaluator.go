package badges

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMissingUser indicates an evaluation without a user id.
var ErrMissingUser = errors.New("badges: user id required")

// UserBadge records that a user unlocked a badge. The (user_id, badge_id) key admits one row per pair.
type UserBadge struct {
	UserID   string    `gorm:"column:user_id;primaryKey;size:64"`
	BadgeID  string    `gorm:"column:badge_id;primaryKey;size:64"`
	EarnedAt time.Time `gorm:"column:earned_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UserBadge) TableName() string {
	return "user_badges"
}

// EarnedBadge is a catalog badge joined with the time the user earned it.
type EarnedBadge struct {
	Badge
	EarnedAt time.Time `json:"earnedAt"`
}

// EvaluatorConfig describes the evaluator dependencies.
type EvaluatorConfig struct {
	Rules []Rule
	Clock func() time.Time
}

// Evaluator unlocks badges whose predicates hold for an aggregate state.
type Evaluator struct {
	rules []Rule
	now   func() time.Time
}

// NewEvaluator constructs an Evaluator; nil rules select DefaultRules.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Evaluator{rules: rules, now: clock}
}

// Evaluate persists every qualifying badge with insert-if-absent semantics and returns only the
// ids that this call unlocked.
func (e *Evaluator) Evaluate(tx *gorm.DB, state AggregateState) ([]string, error) {
	if state.UserID == "" {
		return nil, ErrMissingUser
	}
	earnedAt := e.now().UTC()
	unlocked := make([]string, 0)
	for _, badgeID := range Qualifying(e.rules, state) {
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&UserBadge{
			UserID:   state.UserID,
			BadgeID:  badgeID,
			EarnedAt: earnedAt,
		})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			unlocked = append(unlocked, badgeID)
		}
	}
	return unlocked, nil
}

// ListForUser returns the user's badges with catalog details, earliest first.
func (e *Evaluator) ListForUser(db *gorm.DB, userID string) ([]EarnedBadge, error) {
	var earned []EarnedBadge
	err := db.Table(UserBadge{}.TableName()+" AS ub").
		Select("b.id, b.name, b.description, b.image_url, b.tier, ub.earned_at").
		Joins("JOIN badges b ON b.id = ub.badge_id").
		Where("ub.user_id = ?", userID).
		Order("ub.earned_at ASC").
		Order("b.id ASC").
		Scan(&earned).Error
	return earned, err
}
