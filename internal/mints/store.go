package mints

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMintNotFound indicates no mint exists for the lookup key.
var ErrMintNotFound = errors.New("mints: mint not found")

// Store records processed mints. The primary key on tx_hash is the serialization point for
// duplicate deliveries: exactly one insert per hash succeeds.
type Store struct{}

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{}
}

// Insert writes the record unless the hash is already present. It reports false when an
// earlier delivery already claimed the hash.
func (s *Store) Insert(tx *gorm.DB, record Record) (bool, error) {
	createResult := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if createResult.Error != nil {
		return false, createResult.Error
	}
	return createResult.RowsAffected == 1, nil
}

// Find returns the record stored for the hash.
func (s *Store) Find(db *gorm.DB, hash TxHash) (Record, error) {
	var record Record
	err := db.Where("tx_hash = ?", hash.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrMintNotFound
	}
	return record, err
}

// FindPiece returns the earliest record for a (puzzle, piece) pair.
func (s *Store) FindPiece(db *gorm.DB, puzzleID, pieceID int64) (Record, error) {
	var record Record
	err := db.Where("puzzle_id = ? AND piece_id = ?", puzzleID, pieceID).
		Order("processed_at ASC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrMintNotFound
	}
	return record, err
}

// CountForUser returns how many mints the user has recorded.
func (s *Store) CountForUser(db *gorm.DB, userID string) (int64, error) {
	var count int64
	err := db.Model(&Record{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// CountDistinctPieces returns how many distinct pieces in [0, totalPieces) of the puzzle have
// been minted. A non-empty excludeTxHash leaves that mint out of the count.
func (s *Store) CountDistinctPieces(db *gorm.DB, puzzleID, totalPieces int64, excludeTxHash string) (int64, error) {
	query := db.Model(&Record{}).
		Where("puzzle_id = ? AND piece_id >= 0 AND piece_id < ?", puzzleID, totalPieces)
	if excludeTxHash != "" {
		query = query.Where("tx_hash <> ?", excludeTxHash)
	}
	var count int64
	err := query.Distinct("piece_id").Count(&count).Error
	return count, err
}
