package mints

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxTxHashLength = 190

// ErrInvalidTxHash indicates the transaction hash is empty, oversized or not 0x-prefixed hex.
var ErrInvalidTxHash = errors.New("mints: invalid transaction hash")

// Record is one processed on-chain piece purchase. It is immutable once written and its
// primary key is the transaction hash.
type Record struct {
	TxHash        string    `gorm:"column:tx_hash;primaryKey;size:190;not null"`
	PuzzleID      int64     `gorm:"column:puzzle_id;not null;index:idx_mints_puzzle_piece,priority:1"`
	PieceID       int64     `gorm:"column:piece_id;not null;index:idx_mints_puzzle_piece,priority:2"`
	MinterAddress string    `gorm:"column:minter_address;size:64;not null"`
	UserID        string    `gorm:"column:user_id;size:64;not null;index"`
	ProcessedAt   time.Time `gorm:"column:processed_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "mints"
}

// TxHash is a validated, lowercase transaction hash.
type TxHash string

// NewTxHash trims, lowercases and validates a 0x-prefixed hex transaction hash.
func NewTxHash(rawInput string) (TxHash, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTxHash)
	}
	if len(normalized) > maxTxHashLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTxHash, maxTxHashLength)
	}
	if !strings.HasPrefix(normalized, "0x") || len(normalized) == 2 {
		return "", fmt.Errorf("%w: expected 0x-prefixed hex", ErrInvalidTxHash)
	}
	for _, r := range normalized[2:] {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return "", fmt.Errorf("%w: non-hex character", ErrInvalidTxHash)
		}
	}
	return TxHash(normalized), nil
}

// String returns the normalized hash.
func (hash TxHash) String() string {
	return string(hash)
}
