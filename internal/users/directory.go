package users

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ids"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnWalletAddress = "wallet_address"
	queryWalletAddress  = columnWalletAddress + " = ?"
	queryUserID         = "id = ?"
)

// DirectoryConfig describes the dependencies required for wallet resolution.
type DirectoryConfig struct {
	IDProvider ids.Provider
	Clock      func() time.Time
}

// Directory maps wallet addresses to users and is the only writer of the users table.
// Methods take the gorm handle so callers can run them inside their own transaction.
type Directory struct {
	idProvider ids.Provider
	now        func() time.Time
}

// NewDirectory constructs the directory with UUIDv7 ids and wall-clock time by default.
func NewDirectory(cfg DirectoryConfig) *Directory {
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Directory{idProvider: idProvider, now: clock}
}

// Resolve returns the user for the address, creating it with zero XP on first sight.
// Concurrent first-sight calls converge on one row through the unique wallet_address key.
func (d *Directory) Resolve(tx *gorm.DB, address WalletAddress) (User, bool, error) {
	address, err := NewWalletAddress(address.String())
	if err != nil {
		return User{}, false, err
	}

	existing, err := d.Lookup(tx, address)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, false, err
	}

	id, err := d.idProvider.NewID()
	if err != nil {
		return User{}, false, fmt.Errorf("users: id generation: %w", err)
	}
	now := d.now().UTC()
	candidate := User{
		ID:            id,
		WalletAddress: address.String(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	createResult := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: columnWalletAddress}},
		DoNothing: true,
	}).Create(&candidate)
	if createResult.Error != nil {
		return User{}, false, createResult.Error
	}
	if createResult.RowsAffected == 1 {
		return candidate, true, nil
	}

	winner, err := d.Lookup(tx, address)
	if err != nil {
		return User{}, false, err
	}
	return winner, false, nil
}

// Lookup returns the user registered for the address.
func (d *Directory) Lookup(db *gorm.DB, address WalletAddress) (User, error) {
	normalized, err := NewWalletAddress(address.String())
	if err != nil {
		return User{}, err
	}
	var user User
	err = db.Where(queryWalletAddress, normalized.String()).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// RecordActivity advances the user's daily streak for activity at the given instant.
func (d *Directory) RecordActivity(tx *gorm.DB, userID string, at time.Time) (int, error) {
	var user User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryUserID, userID).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}

	today := activityDay(at)
	streak := nextStreak(user.StreakDays, user.LastActiveOn, today)
	if streak == user.StreakDays && today == user.LastActiveOn {
		return streak, nil
	}
	err = tx.Model(&User{}).
		Where(queryUserID, userID).
		Updates(map[string]interface{}{
			"streak_days":    streak,
			"last_active_on": today,
			"updated_at":     d.now().UTC(),
		}).Error
	if err != nil {
		return 0, err
	}
	return streak, nil
}

// SetLifetimeXP stores the lifetime XP projection computed from the XP history.
func (d *Directory) SetLifetimeXP(tx *gorm.DB, userID string, total int64) error {
	result := tx.Model(&User{}).
		Where(queryUserID, userID).
		Updates(map[string]interface{}{
			"lifetime_xp": total,
			"updated_at":  d.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListIDs returns every user id, ordered for stable iteration.
func (d *Directory) ListIDs(db *gorm.DB) ([]string, error) {
	var identifiers []string
	err := db.Model(&User{}).Order("id ASC").Pluck("id", &identifiers).Error
	return identifiers, err
}

// Get returns the user with the internal id.
func (d *Directory) Get(db *gorm.DB, userID string) (User, error) {
	var user User
	err := db.Where(queryUserID, userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// LifetimeXP returns the stored lifetime XP projection of the user.
func (d *Directory) LifetimeXP(db *gorm.DB, userID string) (int64, error) {
	user, err := d.Get(db, userID)
	if err != nil {
		return 0, err
	}
	return user.LifetimeXP, nil
}
