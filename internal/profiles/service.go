package profiles

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/badges"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/rewards"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/seasons"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/tiers"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoActiveSeason indicates a leaderboard request while no season is active.
var ErrNoActiveSeason = errors.New("profiles: no active season")

var (
	errMissingDatabase = errors.New("profiles: database handle is required")
	errMissingReader   = errors.New("profiles: read dependency is required")
)

type UserLookup interface {
	Lookup(db *gorm.DB, address users.WalletAddress) (users.User, error)
}

type LedgerReader interface {
	MonthlyFor(db *gorm.DB, userID string, at time.Time) (ledger.MonthlyEvent, error)
	SeasonXPFor(db *gorm.DB, seasonID, userID string) (ledger.SeasonXP, error)
	Leaderboard(db *gorm.DB, seasonID string, limit int) ([]ledger.LeaderboardEntry, error)
}

type MintCounter interface {
	CountForUser(db *gorm.DB, userID string) (int64, error)
}

type BoxReader interface {
	CountForUser(db *gorm.DB, userID string) (int64, error)
	ListForUser(db *gorm.DB, userID string) ([]rewards.MysteryBox, error)
}

type BadgeReader interface {
	ListForUser(db *gorm.DB, userID string) ([]badges.EarnedBadge, error)
}

type SeasonReader interface {
	Active(db *gorm.DB) (*seasons.Season, error)
	BySlug(db *gorm.DB, seasonSlug string) (seasons.Season, error)
}

type ServiceConfig struct {
	Database *gorm.DB
	Users    UserLookup
	Ledger   LedgerReader
	Mints    MintCounter
	Boxes    BoxReader
	Badges   BadgeReader
	Seasons  SeasonReader
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SeasonStanding is the user's XP in the active season.
type SeasonStanding struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	XP   int64  `json:"xp"`
}

// UserStats is the profile summary of one wallet. Unknown wallets report zero values.
type UserStats struct {
	WalletAddress    string          `json:"walletAddress"`
	LifetimeXP       int64           `json:"lifetimeXp"`
	StreakDays       int             `json:"streakDays"`
	MintCount        int64           `json:"mintCount"`
	BoxesFound       int64           `json:"boxesFound"`
	MonthlyXP        int64           `json:"monthlyXp"`
	Tier             tiers.Tier      `json:"tier"`
	NextTierProgress float64         `json:"nextTierProgress"`
	Season           *SeasonStanding `json:"season,omitempty"`
}

// SeasonLeaderboard pairs a season with its ranked entries.
type SeasonLeaderboard struct {
	Season  seasons.Season            `json:"season"`
	Entries []ledger.LeaderboardEntry `json:"entries"`
}

// Service answers the read-only profile and leaderboard queries.
type Service struct {
	db      *gorm.DB
	users   UserLookup
	ledger  LedgerReader
	mints   MintCounter
	boxes   BoxReader
	badges  BadgeReader
	seasons SeasonReader
	clock   func() time.Time
	logger  *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Users == nil || cfg.Ledger == nil || cfg.Mints == nil || cfg.Boxes == nil ||
		cfg.Badges == nil || cfg.Seasons == nil {
		return nil, errMissingReader
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
		db:      cfg.Database,
		users:   cfg.Users,
		ledger:  cfg.Ledger,
		mints:   cfg.Mints,
		boxes:   cfg.Boxes,
		badges:  cfg.Badges,
		seasons: cfg.Seasons,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Stats returns the profile summary for the wallet.
func (s *Service) Stats(ctx context.Context, address users.WalletAddress) (UserStats, error) {
	db := s.db.WithContext(ctx)
	stats := UserStats{
		WalletAddress:    address.String(),
		Tier:             tiers.Classify(0),
		NextTierProgress: tiers.Progress(0),
	}
	user, found, err := s.lookup(db, address)
	if err != nil || !found {
		return stats, err
	}
	stats.LifetimeXP = user.LifetimeXP
	stats.StreakDays = user.StreakAt(s.clock())

	if stats.MintCount, err = s.mints.CountForUser(db, user.ID); err != nil {
		return UserStats{}, s.readFailed("count_mints", err)
	}
	if stats.BoxesFound, err = s.boxes.CountForUser(db, user.ID); err != nil {
		return UserStats{}, s.readFailed("count_boxes", err)
	}
	monthly, err := s.ledger.MonthlyFor(db, user.ID, s.clock())
	if err != nil {
		return UserStats{}, s.readFailed("monthly_xp", err)
	}
	stats.MonthlyXP = monthly.XPGained
	stats.Tier = tiers.Classify(monthly.XPGained)
	stats.NextTierProgress = tiers.Progress(monthly.XPGained)

	season, err := s.seasons.Active(db)
	if err != nil {
		return UserStats{}, s.readFailed("active_season", err)
	}
	if season != nil {
		standing, err := s.ledger.SeasonXPFor(db, season.ID, user.ID)
		if err != nil {
			return UserStats{}, s.readFailed("season_xp", err)
		}
		stats.Season = &SeasonStanding{Slug: season.Slug, Name: season.Name, XP: standing.XPAmount}
	}
	return stats, nil
}

// Badges returns the wallet's earned badges.
func (s *Service) Badges(ctx context.Context, address users.WalletAddress) ([]badges.EarnedBadge, error) {
	db := s.db.WithContext(ctx)
	user, found, err := s.lookup(db, address)
	if err != nil || !found {
		return []badges.EarnedBadge{}, err
	}
	earned, err := s.badges.ListForUser(db, user.ID)
	if err != nil {
		return nil, s.readFailed("list_badges", err)
	}
	return earned, nil
}

// Boxes returns the wallet's mystery boxes, newest first.
func (s *Service) Boxes(ctx context.Context, address users.WalletAddress) ([]rewards.MysteryBox, error) {
	db := s.db.WithContext(ctx)
	user, found, err := s.lookup(db, address)
	if err != nil || !found {
		return []rewards.MysteryBox{}, err
	}
	boxes, err := s.boxes.ListForUser(db, user.ID)
	if err != nil {
		return nil, s.readFailed("list_boxes", err)
	}
	return boxes, nil
}

// ActiveLeaderboard ranks the active season.
func (s *Service) ActiveLeaderboard(ctx context.Context, limit int) (SeasonLeaderboard, error) {
	db := s.db.WithContext(ctx)
	season, err := s.seasons.Active(db)
	if err != nil {
		return SeasonLeaderboard{}, s.readFailed("active_season", err)
	}
	if season == nil {
		return SeasonLeaderboard{}, ErrNoActiveSeason
	}
	return s.leaderboard(db, *season, limit)
}

// Leaderboard ranks the season with the slug.
func (s *Service) Leaderboard(ctx context.Context, seasonSlug string, limit int) (SeasonLeaderboard, error) {
	db := s.db.WithContext(ctx)
	season, err := s.seasons.BySlug(db, seasonSlug)
	if err != nil {
		return SeasonLeaderboard{}, err
	}
	return s.leaderboard(db, season, limit)
}

func (s *Service) leaderboard(db *gorm.DB, season seasons.Season, limit int) (SeasonLeaderboard, error) {
	entries, err := s.ledger.Leaderboard(db, season.ID, limit)
	if err != nil {
		return SeasonLeaderboard{}, s.readFailed("leaderboard", err)
	}
	return SeasonLeaderboard{Season: season, Entries: entries}, nil
}

func (s *Service) lookup(db *gorm.DB, address users.WalletAddress) (users.User, bool, error) {
	user, err := s.users.Lookup(db, address)
	if errors.Is(err, users.ErrUserNotFound) {
		return users.User{}, false, nil
	}
	if err != nil {
		return users.User{}, false, s.readFailed("lookup_user", err)
	}
	return user, true, nil
}

func (s *Service) readFailed(reason string, err error) error {
	s.logger.Error("profiles read failed", zap.String("reason", reason), zap.Error(err))
	return err
}
