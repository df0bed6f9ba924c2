package rewards

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ids"
	"gorm.io/gorm"
)

// Rarity is the box type of a mystery box.
type Rarity string

const (
	RarityCommon    Rarity = "Common"
	RarityRare      Rarity = "Rare"
	RarityEpic      Rarity = "Epic"
	RarityLegendary Rarity = "Legendary"
)

// BoxStatus tracks the claim flow of a mystery box. Only BoxStatusLocked is written here;
// the claim flow owns the other transitions.
type BoxStatus string

const (
	BoxStatusLocked BoxStatus = "locked"
	BoxStatusReady  BoxStatus = "ready"
	BoxStatusOpened BoxStatus = "opened"
)

// MysteryBox is a reward container created in the locked state.
type MysteryBox struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null"`
	UserID       string    `gorm:"column:user_id;size:64;not null;index:idx_mystery_boxes_user,priority:1"`
	BoxType      Rarity    `gorm:"column:box_type;size:16;not null"`
	Status       BoxStatus `gorm:"column:status;size:16;not null;default:'locked'"`
	MintTxHash   string    `gorm:"column:mint_tx_hash;size:190;not null;uniqueIndex"`
	RewardType   *string   `gorm:"column:reward_type;size:16"`
	RewardAmount *int64    `gorm:"column:reward_amount"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_mystery_boxes_user,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (MysteryBox) TableName() string {
	return "mystery_boxes"
}

// BoxStore persists mystery boxes.
type BoxStore struct {
	idProvider ids.Provider
}

// NewBoxStore constructs a BoxStore; a nil provider defaults to UUIDv7.
func NewBoxStore(idProvider ids.Provider) *BoxStore {
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	return &BoxStore{idProvider: idProvider}
}

// CreateLocked inserts a locked box for the user, tied to the mint that dropped it.
func (s *BoxStore) CreateLocked(tx *gorm.DB, userID string, rarity Rarity, mintTxHash string, createdAt time.Time) (MysteryBox, error) {
	if userID == "" {
		return MysteryBox{}, errors.New("rewards: user id required")
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return MysteryBox{}, fmt.Errorf("rewards: box id: %w", err)
	}
	box := MysteryBox{
		ID:         id,
		UserID:     userID,
		BoxType:    rarity,
		Status:     BoxStatusLocked,
		MintTxHash: mintTxHash,
		CreatedAt:  createdAt.UTC(),
	}
	if err := tx.Create(&box).Error; err != nil {
		return MysteryBox{}, err
	}
	return box, nil
}

// ListForUser returns the user's boxes, newest first.
func (s *BoxStore) ListForUser(db *gorm.DB, userID string) ([]MysteryBox, error) {
	var boxes []MysteryBox
	err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&boxes).Error
	return boxes, err
}

// CountForUser returns how many boxes the user has found.
func (s *BoxStore) CountForUser(db *gorm.DB, userID string) (int64, error) {
	var count int64
	err := db.Model(&MysteryBox{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
