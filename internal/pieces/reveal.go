package pieces

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/mints"
	"gorm.io/gorm"
)

// ErrPieceNotMinted indicates the piece image is still hidden.
var ErrPieceNotMinted = errors.New("pieces: piece not minted yet")

// ErrStorageUnconfigured indicates no URL signer is available.
var ErrStorageUnconfigured = errors.New("pieces: image storage not configured")

// ObjectKey returns the storage key of a piece image.
func ObjectKey(puzzleID, pieceID int64) string {
	return fmt.Sprintf("puzzle_%d/piece_%d.png", puzzleID, pieceID)
}

// SignedURL is a URL for a stored object, with an expiry when it is presigned.
type SignedURL struct {
	URL       string
	ExpiresAt *time.Time
}

// URLSigner produces a readable URL for a stored object key.
type URLSigner interface {
	SignURL(ctx context.Context, key string) (SignedURL, error)
}

// PublicURLSigner joins keys onto a public base URL such as a CDN origin.
type PublicURLSigner struct {
	baseURL string
}

// NewPublicURLSigner constructs a signer for the base URL.
func NewPublicURLSigner(baseURL string) *PublicURLSigner {
	return &PublicURLSigner{baseURL: strings.TrimRight(baseURL, "/")}
}

// SignURL returns base/key.
func (s *PublicURLSigner) SignURL(_ context.Context, key string) (SignedURL, error) {
	return SignedURL{URL: s.baseURL + "/" + key}, nil
}

// Reveal is the response for a minted piece.
type Reveal struct {
	PuzzleID  int64      `json:"puzzleId"`
	PieceID   int64      `json:"pieceId"`
	Owner     string     `json:"owner"`
	ImageURL  string     `json:"imageUrl"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Revealer hands out piece image URLs once a piece has been minted.
type Revealer struct {
	counter PieceCounter
	signer  URLSigner
}

// NewRevealer constructs a Revealer. A nil signer makes every reveal fail with ErrStorageUnconfigured.
func NewRevealer(counter PieceCounter, signer URLSigner) *Revealer {
	return &Revealer{counter: counter, signer: signer}
}

// Reveal returns the image URL of a minted piece.
func (r *Revealer) Reveal(ctx context.Context, db *gorm.DB, puzzleID, pieceID int64) (Reveal, error) {
	record, err := r.counter.FindPiece(db.WithContext(ctx), puzzleID, pieceID)
	if errors.Is(err, mints.ErrMintNotFound) {
		return Reveal{}, ErrPieceNotMinted
	}
	if err != nil {
		return Reveal{}, err
	}
	if r.signer == nil {
		return Reveal{}, ErrStorageUnconfigured
	}
	signed, err := r.signer.SignURL(ctx, ObjectKey(puzzleID, pieceID))
	if err != nil {
		return Reveal{}, err
	}
	return Reveal{
		PuzzleID:  puzzleID,
		PieceID:   pieceID,
		Owner:     record.MinterAddress,
		ImageURL:  signed.URL,
		ExpiresAt: signed.ExpiresAt,
	}, nil
}
