package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/badges"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/mints"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/rewards"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/seasons"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/tiers"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultXPPerMint is the XP granted for one minted piece.
const DefaultXPPerMint int64 = 10

const (
	opServiceNew = "ingest.service.new"
	opIngest     = "ingest.mint"

	fieldTxHash   = "tx_hash"
	fieldPuzzleID = "puzzle_id"
	fieldPieceID  = "piece_id"
	fieldMinter   = "minter"
	fieldUserID   = "user_id"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingDependency = errors.New("pipeline dependency is required")
	errInvalidXPPerMint  = errors.New("xp per mint must be positive")
	errAlreadyProcessed  = errors.New("mint already processed")
)

// Status is the result class of an ingestion.
type Status string

const (
	StatusProcessed        Status = "processed"
	StatusAlreadyProcessed Status = "already_processed"
	StatusInvalid          Status = "invalid"
	StatusFailed           Status = "failed"
)

// Outcome summarizes one ingestion. For StatusAlreadyProcessed only Status and TxHash are set.
type Outcome struct {
	Status      Status
	TxHash      string
	UserID      string
	UserCreated bool
	XPGranted   int64
	LifetimeXP  int64
	StreakDays  int
	SeasonID    string
	SeasonXP    int64
	MonthlyXP   int64
	Tier        tiers.Tier
	BoxDropped  bool
	Box         *rewards.MysteryBox
	NewBadges   []string
}

type UserDirectory interface {
	Resolve(tx *gorm.DB, address users.WalletAddress) (users.User, bool, error)
	RecordActivity(tx *gorm.DB, userID string, at time.Time) (int, error)
}

type MintStore interface {
	Insert(tx *gorm.DB, record mints.Record) (bool, error)
	CountForUser(db *gorm.DB, userID string) (int64, error)
}

type XPLedger interface {
	Grant(tx *gorm.DB, userID string, amount int64, reason string, metadata map[string]interface{}) (int64, error)
	AccrueSeasonXP(tx *gorm.DB, seasonID, userID string, increment int64) (ledger.SeasonXP, error)
	AccrueMonthlyXP(tx *gorm.DB, userID string, increment int64, at time.Time) (ledger.MonthlyEvent, error)
}

type SeasonResolver interface {
	Active(db *gorm.DB) (*seasons.Season, error)
}

type Roller interface {
	Roll() rewards.DropResult
}

type BoxStore interface {
	CreateLocked(tx *gorm.DB, userID string, rarity rewards.Rarity, mintTxHash string, createdAt time.Time) (rewards.MysteryBox, error)
}

type BadgeEvaluator interface {
	Evaluate(tx *gorm.DB, state badges.AggregateState) ([]string, error)
}

// PuzzleCompletion decides whether a recorded mint completed its puzzle.
type PuzzleCompletion interface {
	CompletedByMint(tx *gorm.DB, puzzleID int64, txHash string) (bool, error)
}

// Observer receives ingestion measurements after the transaction has settled.
type Observer interface {
	ObserveIngestion(status string, elapsed time.Duration)
	ObserveMysteryBox(rarity string)
	ObserveBadgeUnlocked(badgeID string)
}

// Notifier is told about committed ingestions, keyed by minter address.
type Notifier interface {
	NotifyMintProcessed(address string, outcome Outcome)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Users      UserDirectory
	Mints      MintStore
	Ledger     XPLedger
	Seasons    SeasonResolver
	Roller     Roller
	Boxes      BoxStore
	Badges     BadgeEvaluator
	Completion PuzzleCompletion
	XPPerMint  int64
	Clock      func() time.Time
	Logger     *zap.Logger
	Observer   Observer
	Notifier   Notifier
}

// Service is the single writer path from mint notifications into the ledger.
type Service struct {
	db         *gorm.DB
	users      UserDirectory
	mints      MintStore
	ledger     XPLedger
	seasons    SeasonResolver
	roller     Roller
	boxes      BoxStore
	badges     BadgeEvaluator
	completion PuzzleCompletion
	xpPerMint  int64
	clock      func() time.Time
	logger     *zap.Logger
	observer   Observer
	notifier   Notifier
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Users == nil || cfg.Mints == nil || cfg.Ledger == nil || cfg.Seasons == nil ||
		cfg.Roller == nil || cfg.Boxes == nil || cfg.Badges == nil {
		return nil, newServiceError(opServiceNew, "missing_dependency", errMissingDependency)
	}
	xpPerMint := cfg.XPPerMint
	if xpPerMint == 0 {
		xpPerMint = DefaultXPPerMint
	}
	if xpPerMint < 0 {
		return nil, newServiceError(opServiceNew, "invalid_xp_per_mint", errInvalidXPPerMint)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		users:      cfg.Users,
		mints:      cfg.Mints,
		ledger:     cfg.Ledger,
		seasons:    cfg.Seasons,
		roller:     cfg.Roller,
		boxes:      cfg.Boxes,
		badges:     cfg.Badges,
		completion: cfg.Completion,
		xpPerMint:  xpPerMint,
		clock:      clock,
		logger:     logger,
		observer:   cfg.Observer,
		notifier:   cfg.Notifier,
	}, nil
}

type stepFailure struct {
	reason string
	err    error
}

func (f *stepFailure) Error() string {
	return f.reason + ": " + f.err.Error()
}

func (f *stepFailure) Unwrap() error {
	return f.err
}

func fail(reason string, err error) error {
	return &stepFailure{reason: reason, err: err}
}

// Ingest applies one mint event. The active season is resolved once and every step runs in a
// single transaction, so a failure leaves no trace and a redelivery re-runs the pipeline. A
// duplicate transaction hash returns StatusAlreadyProcessed with no side effects. The
// transaction ignores cancellation of ctx once started.
func (s *Service) Ingest(ctx context.Context, event MintEvent) (Outcome, error) {
	started := s.clock()
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	event, err := event.normalized()
	if err != nil {
		s.observe(StatusInvalid, started)
		return Outcome{Status: StatusInvalid}, err
	}
	eventFields := []zap.Field{
		zap.String(fieldTxHash, event.TxHash.String()),
		zap.Int64(fieldPuzzleID, event.PuzzleID),
		zap.Int64(fieldPieceID, event.PieceID),
		zap.String(fieldMinter, event.Minter.String()),
	}

	var outcome Outcome
	txErr := s.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		season, err := s.seasons.Active(tx)
		if err != nil {
			return fail("resolve_season", err)
		}
		result, err := s.apply(tx, event, season)
		if err != nil {
			return err
		}
		outcome = result
		return nil
	})
	if errors.Is(txErr, errAlreadyProcessed) {
		s.observe(StatusAlreadyProcessed, started)
		s.logger.Info("mint already processed", eventFields...)
		return Outcome{Status: StatusAlreadyProcessed, TxHash: event.TxHash.String()}, nil
	}
	if txErr != nil {
		reason := "transaction_failed"
		var failure *stepFailure
		if errors.As(txErr, &failure) {
			reason = failure.reason
		}
		s.logError(opIngest, reason, txErr, eventFields...)
		s.observe(StatusFailed, started)
		return Outcome{}, newServiceError(opIngest, reason, txErr)
	}

	s.observe(outcome.Status, started)
	s.report(event, outcome)
	s.logger.Info("mint processed", append(eventFields,
		zap.String(fieldUserID, outcome.UserID),
		zap.Int64("xp_granted", outcome.XPGranted),
		zap.Bool("box_dropped", outcome.BoxDropped),
		zap.Strings("new_badges", outcome.NewBadges),
	)...)
	return outcome, nil
}

// IngestPayload parses a raw notification body and ingests it. A malformed body returns
// StatusInvalid with an error wrapping ErrInvalidPayload.
func (s *Service) IngestPayload(ctx context.Context, body []byte) (Outcome, error) {
	event, err := ParseMintEvent(body)
	if err != nil {
		s.observe(StatusInvalid, s.clock())
		s.logger.Info("mint payload rejected", zap.Error(err))
		return Outcome{Status: StatusInvalid}, err
	}
	return s.Ingest(ctx, event)
}

func (s *Service) apply(tx *gorm.DB, event MintEvent, season *seasons.Season) (Outcome, error) {
	now := s.clock().UTC()
	outcome := Outcome{TxHash: event.TxHash.String()}

	user, created, err := s.users.Resolve(tx, event.Minter)
	if err != nil {
		return Outcome{}, fail("resolve_user", err)
	}

	inserted, err := s.mints.Insert(tx, mints.Record{
		TxHash:        event.TxHash.String(),
		PuzzleID:      event.PuzzleID,
		PieceID:       event.PieceID,
		MinterAddress: event.Minter.String(),
		UserID:        user.ID,
		ProcessedAt:   now,
	})
	if err != nil {
		return Outcome{}, fail("insert_mint", err)
	}
	if !inserted {
		// Rolls back a user the duplicate may have created.
		return Outcome{}, errAlreadyProcessed
	}
	outcome.Status = StatusProcessed
	outcome.UserID = user.ID
	outcome.UserCreated = created

	streak, err := s.users.RecordActivity(tx, user.ID, now)
	if err != nil {
		return Outcome{}, fail("record_activity", err)
	}
	outcome.StreakDays = streak

	lifetime, err := s.ledger.Grant(tx, user.ID, s.xpPerMint, ledger.ReasonMintPiece, map[string]interface{}{
		fieldTxHash:   event.TxHash.String(),
		fieldPuzzleID: event.PuzzleID,
		fieldPieceID:  event.PieceID,
	})
	if err != nil {
		return Outcome{}, fail("grant_xp", err)
	}
	outcome.XPGranted = s.xpPerMint
	outcome.LifetimeXP = lifetime

	var seasonStart *time.Time
	if season != nil {
		aggregate, err := s.ledger.AccrueSeasonXP(tx, season.ID, user.ID, s.xpPerMint)
		if err != nil {
			return Outcome{}, fail("accrue_season", err)
		}
		outcome.SeasonID = season.ID
		outcome.SeasonXP = aggregate.XPAmount
		start := season.StartDate
		seasonStart = &start
	}

	monthly, err := s.ledger.AccrueMonthlyXP(tx, user.ID, s.xpPerMint, now)
	if err != nil {
		return Outcome{}, fail("accrue_monthly", err)
	}
	outcome.MonthlyXP = monthly.XPGained
	outcome.Tier = monthly.Tier

	drop := s.roller.Roll()
	if drop.Dropped {
		box, err := s.boxes.CreateLocked(tx, user.ID, drop.Rarity, event.TxHash.String(), now)
		if err != nil {
			return Outcome{}, fail("create_box", err)
		}
		outcome.BoxDropped = true
		outcome.Box = &box
	}

	mintCount, err := s.mints.CountForUser(tx, user.ID)
	if err != nil {
		return Outcome{}, fail("count_mints", err)
	}
	completed := false
	if s.completion != nil {
		completed, err = s.completion.CompletedByMint(tx, event.PuzzleID, event.TxHash.String())
		if err != nil {
			return Outcome{}, fail("check_completion", err)
		}
	}
	unlocked, err := s.badges.Evaluate(tx, badges.AggregateState{
		UserID:          user.ID,
		MintCount:       mintCount,
		LifetimeXP:      lifetime,
		SeasonXP:        outcome.SeasonXP,
		MonthlyXP:       monthly.XPGained,
		Tier:            monthly.Tier,
		SeasonStart:     seasonStart,
		UserCreatedAt:   user.CreatedAt,
		CompletedPuzzle: completed,
	})
	if err != nil {
		return Outcome{}, fail("evaluate_badges", err)
	}
	outcome.NewBadges = unlocked
	return outcome, nil
}

func (s *Service) report(event MintEvent, outcome Outcome) {
	if s.observer != nil {
		if outcome.Box != nil {
			s.observer.ObserveMysteryBox(string(outcome.Box.BoxType))
		}
		for _, badgeID := range outcome.NewBadges {
			s.observer.ObserveBadgeUnlocked(badgeID)
		}
	}
	if s.notifier != nil {
		s.notifier.NotifyMintProcessed(event.Minter.String(), outcome)
	}
}

func (s *Service) observe(status Status, started time.Time) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveIngestion(string(status), s.clock().Sub(started))
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("ingest service error", attrs...)
}
