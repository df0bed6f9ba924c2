package badges

import (
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/tiers"
)

const (
	earlyBirdWindow = 7 * 24 * time.Hour
	whaleMintCount  = 100
)

// AggregateState is the user's ledger state after the current mint has been applied.
type AggregateState struct {
	UserID          string
	MintCount       int64
	LifetimeXP      int64
	SeasonXP        int64
	MonthlyXP       int64
	Tier            tiers.Tier
	SeasonStart     *time.Time
	UserCreatedAt   time.Time
	CompletedPuzzle bool
}

// Rule pairs a badge with its unlock predicate. Predicates must be monotone in the counters so
// that a later evaluation still unlocks a badge an earlier one missed.
type Rule struct {
	BadgeID   string
	Predicate func(AggregateState) bool
}

// DefaultRules returns the predicates of the built-in catalog.
func DefaultRules() []Rule {
	return []Rule{
		{BadgeID: BadgeFirstMint, Predicate: func(state AggregateState) bool {
			return state.MintCount >= 1
		}},
		{BadgeID: BadgeEarlyBird, Predicate: func(state AggregateState) bool {
			if state.SeasonStart == nil {
				return false
			}
			return state.UserCreatedAt.Before(state.SeasonStart.Add(earlyBirdWindow))
		}},
		{BadgeID: BadgePuzzleMaster, Predicate: func(state AggregateState) bool {
			return state.CompletedPuzzle
		}},
		{BadgeID: BadgeWhale, Predicate: func(state AggregateState) bool {
			return state.MintCount >= whaleMintCount
		}},
	}
}

// Qualifying returns the ids of the rules whose predicate holds, in rule order.
func Qualifying(rules []Rule, state AggregateState) []string {
	qualifying := make([]string, 0, len(rules))
	for _, rule := range rules {
		if rule.Predicate(state) {
			qualifying = append(qualifying, rule.BadgeID)
		}
	}
	return qualifying
}
