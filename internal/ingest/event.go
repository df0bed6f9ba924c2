package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/mints"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/users"
)

// ErrInvalidPayload indicates a mint notification with missing or malformed fields.
var ErrInvalidPayload = errors.New("ingest: invalid payload")

// MintEvent is a validated on-chain mint notification.
type MintEvent struct {
	PuzzleID int64
	PieceID  int64
	Minter   users.WalletAddress
	TxHash   mints.TxHash
}

// RawMintEvent is the wire form delivered by the indexer or webhook relay.
type RawMintEvent struct {
	PuzzleID *int64 `json:"puzzleId"`
	PieceID  *int64 `json:"pieceId"`
	Minter   string `json:"minter"`
	TxHash   string `json:"txHash"`
}

type recordEnvelope struct {
	Record *RawMintEvent `json:"record"`
}

// ParseMintEvent decodes either a bare event or a database-webhook envelope {"record": {...}}
// and validates it.
func ParseMintEvent(body []byte) (MintEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return MintEvent{}, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	var envelope recordEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return MintEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if envelope.Record != nil {
		return envelope.Record.Validate()
	}
	var raw RawMintEvent
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return MintEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return raw.Validate()
}

// Validate converts the wire form into a MintEvent.
func (raw RawMintEvent) Validate() (MintEvent, error) {
	if raw.PuzzleID == nil {
		return MintEvent{}, fmt.Errorf("%w: puzzleId required", ErrInvalidPayload)
	}
	if raw.PieceID == nil {
		return MintEvent{}, fmt.Errorf("%w: pieceId required", ErrInvalidPayload)
	}
	return MintEvent{
		PuzzleID: *raw.PuzzleID,
		PieceID:  *raw.PieceID,
		Minter:   users.WalletAddress(raw.Minter),
		TxHash:   mints.TxHash(raw.TxHash),
	}.normalized()
}

// normalized re-derives the wallet and hash so events built outside ParseMintEvent share the
// same lowercase keys.
func (event MintEvent) normalized() (MintEvent, error) {
	if event.PuzzleID <= 0 {
		return MintEvent{}, fmt.Errorf("%w: puzzleId required", ErrInvalidPayload)
	}
	if event.PieceID < 0 {
		return MintEvent{}, fmt.Errorf("%w: pieceId required", ErrInvalidPayload)
	}
	minter, err := users.NewWalletAddress(event.Minter.String())
	if err != nil {
		return MintEvent{}, fmt.Errorf("%w: minter: %v", ErrInvalidPayload, err)
	}
	txHash, err := mints.NewTxHash(event.TxHash.String())
	if err != nil {
		return MintEvent{}, fmt.Errorf("%w: txHash: %v", ErrInvalidPayload, err)
	}
	event.Minter = minter
	event.TxHash = txHash
	return event, nil
}
