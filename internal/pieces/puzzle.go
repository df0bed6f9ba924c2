package pieces

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/mints"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrPuzzleNotFound indicates the puzzle is not in the catalog.
	ErrPuzzleNotFound = errors.New("pieces: puzzle not found")
	// ErrInvalidPuzzle indicates a catalog entry with a non-positive id or piece count.
	ErrInvalidPuzzle = errors.New("pieces: invalid puzzle")
)

// Puzzle is the off-chain catalog entry of an on-chain puzzle.
type Puzzle struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Name        string `gorm:"column:name;size:128;not null" json:"name"`
	TotalPieces int64  `gorm:"column:total_pieces;not null" json:"totalPieces"`
}

// TableName provides the explicit table binding for GORM.
func (Puzzle) TableName() string {
	return "puzzles"
}

// PieceCounter is the slice of the mint store the catalog needs.
type PieceCounter interface {
	CountDistinctPieces(db *gorm.DB, puzzleID, totalPieces int64, excludeTxHash string) (int64, error)
	FindPiece(db *gorm.DB, puzzleID, pieceID int64) (mints.Record, error)
}

// Catalog reads and maintains puzzle metadata.
type Catalog struct {
	counter PieceCounter
}

// NewCatalog constructs a Catalog.
func NewCatalog(counter PieceCounter) *Catalog {
	return &Catalog{counter: counter}
}

// Upsert writes the puzzle, replacing the name and piece count of an existing entry.
func (c *Catalog) Upsert(tx *gorm.DB, puzzle Puzzle) error {
	puzzle.Name = strings.TrimSpace(puzzle.Name)
	if puzzle.ID <= 0 || puzzle.TotalPieces <= 0 {
		return fmt.Errorf("%w: id %d with %d pieces", ErrInvalidPuzzle, puzzle.ID, puzzle.TotalPieces)
	}
	if puzzle.Name == "" {
		puzzle.Name = fmt.Sprintf("Puzzle %d", puzzle.ID)
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "total_pieces"}),
	}).Create(&puzzle).Error
}

// Get returns the catalogued puzzle.
func (c *Catalog) Get(db *gorm.DB, puzzleID int64) (Puzzle, error) {
	var puzzle Puzzle
	err := db.Where("id = ?", puzzleID).Take(&puzzle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Puzzle{}, ErrPuzzleNotFound
	}
	return puzzle, err
}

// List returns the catalog ordered by id.
func (c *Catalog) List(db *gorm.DB) ([]Puzzle, error) {
	var puzzles []Puzzle
	err := db.Order("id ASC").Find(&puzzles).Error
	return puzzles, err
}

// CompletedByMint reports whether the mint recorded under txHash was the one that completed
// the puzzle: every piece in [0, TotalPieces) is minted now and one was missing without it.
// Piece ids outside that range never count. Uncatalogued puzzles never complete.
func (c *Catalog) CompletedByMint(tx *gorm.DB, puzzleID int64, txHash string) (bool, error) {
	puzzle, err := c.Get(tx, puzzleID)
	if errors.Is(err, ErrPuzzleNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	minted, err := c.counter.CountDistinctPieces(tx, puzzleID, puzzle.TotalPieces, "")
	if err != nil {
		return false, err
	}
	if minted < puzzle.TotalPieces {
		return false, nil
	}
	withoutMint, err := c.counter.CountDistinctPieces(tx, puzzleID, puzzle.TotalPieces, txHash)
	if err != nil {
		return false, err
	}
	return withoutMint < puzzle.TotalPieces, nil
}
