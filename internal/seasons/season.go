package seasons

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ids"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnSlug      = "slug"
	columnIsActive  = "is_active"
	queryIsActive   = columnIsActive + " = ?"
	querySlug       = columnSlug + " = ?"
	orderStartDesc  = "start_date DESC"
	orderStartAsc   = "start_date ASC"
	queryWindowOpen = "start_date <= ? AND end_date > ?"
)

var (
	// ErrSeasonNotFound indicates no season matches the lookup.
	ErrSeasonNotFound = errors.New("seasons: season not found")
	// ErrInvalidSeason indicates a season definition with a missing name or an empty window.
	ErrInvalidSeason = errors.New("seasons: invalid season")
)

// Season is a bounded window over which a separate XP leaderboard accrues.
type Season struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Name      string    `gorm:"column:name;size:128;not null" json:"name"`
	Slug      string    `gorm:"column:slug;size:128;not null;uniqueIndex" json:"slug"`
	StartDate time.Time `gorm:"column:start_date;not null" json:"startDate"`
	EndDate   time.Time `gorm:"column:end_date;not null" json:"endDate"`
	IsActive  bool      `gorm:"column:is_active;not null;default:false;index" json:"isActive"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Season) TableName() string {
	return "seasons"
}

// Contains reports whether the instant falls within [StartDate, EndDate).
func (season Season) Contains(at time.Time) bool {
	return !at.Before(season.StartDate) && at.Before(season.EndDate)
}

// Definition describes a season to create or update.
type Definition struct {
	Name      string
	Slug      string
	StartDate time.Time
	EndDate   time.Time
	IsActive  bool
}

func (definition Definition) normalized() (Definition, error) {
	normalized := definition
	normalized.Name = strings.TrimSpace(definition.Name)
	if normalized.Name == "" {
		return Definition{}, fmt.Errorf("%w: name required", ErrInvalidSeason)
	}
	normalized.Slug = strings.TrimSpace(definition.Slug)
	if normalized.Slug == "" {
		normalized.Slug = slug.Make(normalized.Name)
	} else {
		normalized.Slug = slug.Make(normalized.Slug)
	}
	if normalized.Slug == "" {
		return Definition{}, fmt.Errorf("%w: slug required", ErrInvalidSeason)
	}
	if !normalized.EndDate.After(normalized.StartDate) {
		return Definition{}, fmt.Errorf("%w: end must follow start", ErrInvalidSeason)
	}
	normalized.StartDate = normalized.StartDate.UTC()
	normalized.EndDate = normalized.EndDate.UTC()
	return normalized, nil
}

// StoreConfig describes the season store dependencies.
type StoreConfig struct {
	IDProvider ids.Provider
	Clock      func() time.Time
}

// Store reads and maintains seasons. The single-active-season rule is kept by Rotate and by
// Upsert deactivating the others when it activates a season.
type Store struct {
	idProvider ids.Provider
	now        func() time.Time
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) *Store {
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{idProvider: idProvider, now: clock}
}

// Active returns the active season, or nil when no season is active.
func (s *Store) Active(db *gorm.DB) (*Season, error) {
	var season Season
	err := db.Where(queryIsActive, true).Order(orderStartDesc).Take(&season).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &season, nil
}

// BySlug returns the season with the slug.
func (s *Store) BySlug(db *gorm.DB, seasonSlug string) (Season, error) {
	var season Season
	err := db.Where(querySlug, seasonSlug).Take(&season).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Season{}, ErrSeasonNotFound
	}
	return season, err
}

// List returns every season ordered by start date.
func (s *Store) List(db *gorm.DB) ([]Season, error) {
	var seasons []Season
	err := db.Order(orderStartAsc).Find(&seasons).Error
	return seasons, err
}

// Upsert creates the season or updates the one sharing its slug.
func (s *Store) Upsert(tx *gorm.DB, definition Definition) (Season, error) {
	normalized, err := definition.normalized()
	if err != nil {
		return Season{}, err
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return Season{}, fmt.Errorf("seasons: id generation: %w", err)
	}
	candidate := Season{
		ID:        id,
		Name:      normalized.Name,
		Slug:      normalized.Slug,
		StartDate: normalized.StartDate,
		EndDate:   normalized.EndDate,
		IsActive:  false,
		CreatedAt: s.now().UTC(),
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: columnSlug}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "start_date", "end_date"}),
	}).Create(&candidate).Error
	if err != nil {
		return Season{}, err
	}
	stored, err := s.BySlug(tx, normalized.Slug)
	if err != nil {
		return Season{}, err
	}
	if normalized.IsActive {
		if err := s.activate(tx, stored.ID); err != nil {
			return Season{}, err
		}
		stored.IsActive = true
	}
	return stored, nil
}

// Rotate activates the latest-starting season whose window contains now and deactivates the
// rest. It returns the active season after rotation, or nil when no window is open.
func (s *Store) Rotate(tx *gorm.DB, now time.Time) (*Season, error) {
	var current Season
	err := tx.Where(queryWindowOpen, now.UTC(), now.UTC()).Order(orderStartDesc).Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		deactivateErr := tx.Model(&Season{}).Where(queryIsActive, true).Update(columnIsActive, false).Error
		return nil, deactivateErr
	}
	if err != nil {
		return nil, err
	}
	if err := s.activate(tx, current.ID); err != nil {
		return nil, err
	}
	current.IsActive = true
	return &current, nil
}

func (s *Store) activate(tx *gorm.DB, seasonID string) error {
	err := tx.Model(&Season{}).
		Where("id <> ? AND is_active = ?", seasonID, true).
		Update(columnIsActive, false).Error
	if err != nil {
		return err
	}
	return tx.Model(&Season{}).Where("id = ?", seasonID).Update(columnIsActive, true).Error
}
