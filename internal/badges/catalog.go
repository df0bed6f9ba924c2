package badges

import (
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/tiers"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Badge identifiers of the built-in catalog.
const (
	BadgeFirstMint    = "first_mint"
	BadgeEarlyBird    = "early_bird"
	BadgePuzzleMaster = "puzzle_master"
	BadgeWhale        = "whale"
)

// Badge is a catalog entry describing an unlockable badge.
type Badge struct {
	ID          string     `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Name        string     `gorm:"column:name;size:128;not null" json:"name"`
	Description string     `gorm:"column:description;size:512;not null;default:''" json:"description"`
	ImageURL    string     `gorm:"column:image_url;size:512;not null;default:''" json:"imageUrl"`
	Tier        tiers.Tier `gorm:"column:tier;size:16;not null" json:"tier"`
}

// TableName provides the explicit table binding for GORM.
func (Badge) TableName() string {
	return "badges"
}

// DefaultCatalog returns the badges seeded into a fresh database.
func DefaultCatalog() []Badge {
	return []Badge{
		{ID: BadgeFirstMint, Name: "First Mint", Description: "Minted your first puzzle piece", ImageURL: "/badges/first_mint.png", Tier: tiers.TierBronze},
		{ID: BadgeEarlyBird, Name: "Early Bird", Description: "Joined in the first week", ImageURL: "/badges/early_bird.png", Tier: tiers.TierSilver},
		{ID: BadgePuzzleMaster, Name: "Puzzle Master", Description: "Completed a full puzzle", ImageURL: "/badges/puzzle_master.png", Tier: tiers.TierGold},
		{ID: BadgeWhale, Name: "Whale", Description: "Own 100+ pieces", ImageURL: "/badges/whale.png", Tier: tiers.TierDiamond},
	}
}

// UpsertCatalog writes the badges, replacing the display fields of existing entries.
func UpsertCatalog(tx *gorm.DB, catalog []Badge) error {
	if len(catalog) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "image_url", "tier"}),
	}).Create(&catalog).Error
}

// ListCatalog returns every catalog badge ordered by id.
func ListCatalog(db *gorm.DB) ([]Badge, error) {
	var catalog []Badge
	err := db.Order("id ASC").Find(&catalog).Error
	return catalog, err
}
