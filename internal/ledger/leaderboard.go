package ledger

import (
	"gorm.io/gorm"
)

const (
	// DefaultLeaderboardLimit is the number of rows returned when no limit is given.
	DefaultLeaderboardLimit = 10
	// MaxLeaderboardLimit caps the rows a single leaderboard query returns.
	MaxLeaderboardLimit = 100
)

// LeaderboardEntry is one ranked row of a season leaderboard.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	UserID        string `json:"userId"`
	WalletAddress string `json:"walletAddress"`
	XPAmount      int64  `json:"xp"`
}

type leaderboardRow struct {
	UserID        string
	WalletAddress string
	XPAmount      int64
}

// ClampLeaderboardLimit maps a requested limit onto [1, MaxLeaderboardLimit], using the default
// for non-positive requests.
func ClampLeaderboardLimit(requested int) int {
	if requested <= 0 {
		return DefaultLeaderboardLimit
	}
	if requested > MaxLeaderboardLimit {
		return MaxLeaderboardLimit
	}
	return requested
}

// Leaderboard returns the top users of the season by season XP. Ties rank by wallet address.
func (l *Ledger) Leaderboard(db *gorm.DB, seasonID string, limit int) ([]LeaderboardEntry, error) {
	var rows []leaderboardRow
	err := db.Table(SeasonXP{}.TableName()+" AS s").
		Select("s.user_id AS user_id, u.wallet_address AS wallet_address, s.xp_amount AS xp_amount").
		Joins("JOIN users u ON u.id = s.user_id").
		Where("s.season_id = ?", seasonID).
		Order("s.xp_amount DESC").
		Order("u.wallet_address ASC").
		Limit(ClampLeaderboardLimit(limit)).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(rows))
	for index, row := range rows {
		entries = append(entries, LeaderboardEntry{
			Rank:          index + 1,
			UserID:        row.UserID,
			WalletAddress: row.WalletAddress,
			XPAmount:      row.XPAmount,
		})
	}
	return entries, nil
}
