package tiers

// Tier labels the monthly standing derived from monthly XP.
type Tier string

const (
	TierBronze  Tier = "Bronze"
	TierSilver  Tier = "Silver"
	TierGold    Tier = "Gold"
	TierDiamond Tier = "Diamond"
)

// Inclusive lower bounds of monthly XP per tier.
const (
	SilverThreshold  int64 = 100
	GoldThreshold    int64 = 500
	DiamondThreshold int64 = 1500
)

// Classify maps accumulated monthly XP to a tier. Negative input is treated as zero.
func Classify(monthlyXP int64) Tier {
	switch {
	case monthlyXP >= DiamondThreshold:
		return TierDiamond
	case monthlyXP >= GoldThreshold:
		return TierGold
	case monthlyXP >= SilverThreshold:
		return TierSilver
	default:
		return TierBronze
	}
}

// Progress reports how far monthlyXP sits between its tier floor and the next tier, from 0 to 100.
// Diamond is the last tier and always reports 100.
func Progress(monthlyXP int64) float64 {
	if monthlyXP < 0 {
		monthlyXP = 0
	}
	var floor, ceiling int64
	switch Classify(monthlyXP) {
	case TierDiamond:
		return 100
	case TierGold:
		floor, ceiling = GoldThreshold, DiamondThreshold
	case TierSilver:
		floor, ceiling = SilverThreshold, GoldThreshold
	default:
		floor, ceiling = 0, SilverThreshold
	}
	return float64(monthlyXP-floor) / float64(ceiling-floor) * 100
}

// String returns the tier label.
func (t Tier) String() string {
	return string(t)
}

// Valid reports whether t is one of the four tier labels.
func Valid(t Tier) bool {
	switch t {
	case TierBronze, TierSilver, TierGold, TierDiamond:
		return true
	}
	return false
}
