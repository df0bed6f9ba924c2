package users

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	walletPrefix        = "0x"
	maxWalletHexDigits  = 40
	activityDayLayout   = "2006-01-02"
	errFormatWalletFail = "%w: %s"
)

var (
	// ErrInvalidWalletAddress indicates the address is empty or not 0x-prefixed hex.
	ErrInvalidWalletAddress = errors.New("users: invalid wallet address")
	// ErrUserNotFound indicates no user is registered for the address.
	ErrUserNotFound = errors.New("users: user not found")
)

// User captures the internal identity behind a wallet address.
type User struct {
	ID            string    `gorm:"column:id;primaryKey;size:64;not null"`
	WalletAddress string    `gorm:"column:wallet_address;size:64;not null;uniqueIndex"`
	LifetimeXP    int64     `gorm:"column:lifetime_xp;not null;default:0"`
	StreakDays    int       `gorm:"column:streak_days;not null;default:0"`
	LastActiveOn  string    `gorm:"column:last_active_on;size:10;not null;default:''"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// WalletAddress is a validated, lowercase wallet address.
type WalletAddress string

// NewWalletAddress trims, lowercases and validates a 0x-prefixed hex address.
func NewWalletAddress(rawInput string) (WalletAddress, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" {
		return "", fmt.Errorf(errFormatWalletFail, ErrInvalidWalletAddress, "empty")
	}
	if !strings.HasPrefix(normalized, walletPrefix) {
		return "", fmt.Errorf(errFormatWalletFail, ErrInvalidWalletAddress, "missing 0x prefix")
	}
	digits := normalized[len(walletPrefix):]
	if digits == "" || len(digits) > maxWalletHexDigits {
		return "", fmt.Errorf(errFormatWalletFail, ErrInvalidWalletAddress, "unexpected length")
	}
	for _, r := range digits {
		if !isHexDigit(r) {
			return "", fmt.Errorf(errFormatWalletFail, ErrInvalidWalletAddress, "non-hex character")
		}
	}
	return WalletAddress(normalized), nil
}

// String returns the normalized address.
func (address WalletAddress) String() string {
	return string(address)
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

// StreakAt returns the streak as of at. A streak survives until the end of the day after the
// last active day and reads as zero once a full UTC day passes without activity.
func (u User) StreakAt(at time.Time) int {
	if u.StreakDays <= 0 || u.LastActiveOn == "" {
		return 0
	}
	today := activityDay(at)
	if u.LastActiveOn == today {
		return u.StreakDays
	}
	last, err := time.Parse(activityDayLayout, u.LastActiveOn)
	if err != nil {
		return 0
	}
	if last.AddDate(0, 0, 1).Format(activityDayLayout) == today {
		return u.StreakDays
	}
	return 0
}

// activityDay formats the UTC calendar day used for streak tracking.
func activityDay(at time.Time) string {
	return at.UTC().Format(activityDayLayout)
}

// nextStreak returns the streak after activity on today given the last active day.
func nextStreak(current int, lastActiveOn, today string) int {
	if lastActiveOn == today {
		if current < 1 {
			return 1
		}
		return current
	}
	last, err := time.Parse(activityDayLayout, lastActiveOn)
	if err != nil {
		return 1
	}
	if last.AddDate(0, 0, 1).Format(activityDayLayout) == today {
		return current + 1
	}
	return 1
}
