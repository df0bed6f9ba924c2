package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/badges"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/pieces"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/seasons"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/tiers"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// File is the seed document for seasons, puzzles and badges.
type File struct {
	Seasons []SeasonEntry `yaml:"seasons"`
	Puzzles []PuzzleEntry `yaml:"puzzles"`
	Badges  []BadgeEntry  `yaml:"badges"`
}

type SeasonEntry struct {
	Name   string    `yaml:"name"`
	Slug   string    `yaml:"slug"`
	Start  time.Time `yaml:"start"`
	End    time.Time `yaml:"end"`
	Active bool      `yaml:"active"`
}

type PuzzleEntry struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	TotalPieces int64  `yaml:"totalPieces"`
}

type BadgeEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	ImageURL    string `yaml:"imageUrl"`
	Tier        string `yaml:"tier"`
}

// Summary counts the entries applied by Apply.
type Summary struct {
	Seasons int
	Puzzles int
	Badges  int
}

// SeasonWriter upserts seasons.
type SeasonWriter interface {
	Upsert(tx *gorm.DB, definition seasons.Definition) (seasons.Season, error)
}

// PuzzleWriter upserts puzzles.
type PuzzleWriter interface {
	Upsert(tx *gorm.DB, puzzle pieces.Puzzle) error
}

// LoadFile reads a seed document from disk.
func LoadFile(path string) (File, error) {
	handle, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer handle.Close()
	return Load(handle)
}

// Load decodes a seed document, rejecting unknown keys.
func Load(reader io.Reader) (File, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	var file File
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("catalog: decode: %w", err)
	}
	for _, entry := range file.Badges {
		if entry.ID == "" || entry.Name == "" {
			return File{}, fmt.Errorf("catalog: badge entries need id and name")
		}
		if !tiers.Valid(tiers.Tier(entry.Tier)) {
			return File{}, fmt.Errorf("catalog: badge %s has unknown tier %q", entry.ID, entry.Tier)
		}
	}
	return file, nil
}

// Apply writes the document in one transaction.
func Apply(ctx context.Context, db *gorm.DB, file File, seasonWriter SeasonWriter, puzzleWriter PuzzleWriter) (Summary, error) {
	var summary Summary
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range file.Seasons {
			_, err := seasonWriter.Upsert(tx, seasons.Definition{
				Name:      entry.Name,
				Slug:      entry.Slug,
				StartDate: entry.Start,
				EndDate:   entry.End,
				IsActive:  entry.Active,
			})
			if err != nil {
				return fmt.Errorf("season %q: %w", entry.Name, err)
			}
			summary.Seasons++
		}
		for _, entry := range file.Puzzles {
			err := puzzleWriter.Upsert(tx, pieces.Puzzle{ID: entry.ID, Name: entry.Name, TotalPieces: entry.TotalPieces})
			if err != nil {
				return fmt.Errorf("puzzle %d: %w", entry.ID, err)
			}
			summary.Puzzles++
		}
		if len(file.Badges) > 0 {
			entries := make([]badges.Badge, 0, len(file.Badges))
			for _, entry := range file.Badges {
				entries = append(entries, badges.Badge{
					ID:          entry.ID,
					Name:        entry.Name,
					Description: entry.Description,
					ImageURL:    entry.ImageURL,
					Tier:        tiers.Tier(entry.Tier),
				})
			}
			if err := badges.UpsertCatalog(tx, entries); err != nil {
				return fmt.Errorf("badges: %w", err)
			}
			summary.Badges = len(entries)
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}
