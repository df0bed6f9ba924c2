package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/tiers"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("user-%d", s.next), nil
}

var fixedNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func TestGrantKeepsLifetimeEqualToHistorySum(t *testing.T) {
	db, directory, ledger := newLedgerFixture(t)
	user := resolveUser(t, db, directory, "0xa")

	amounts := []int64{10, 10, 25}
	var lifetime int64
	for _, amount := range amounts {
		total, err := ledger.Grant(db, user.ID, amount, ReasonMintPiece, map[string]interface{}{"tx_hash": "0x1"})
		if err != nil {
			t.Fatalf("grant failed: %v", err)
		}
		lifetime = total
	}
	if lifetime != 45 {
		t.Fatalf("expected lifetime 45, got %d", lifetime)
	}

	stored, err := directory.LifetimeXP(db, user.ID)
	if err != nil {
		t.Fatalf("lifetime lookup failed: %v", err)
	}
	historyTotal, err := ledger.HistoryTotal(db, user.ID)
	if err != nil {
		t.Fatalf("history sum failed: %v", err)
	}
	if stored != historyTotal {
		t.Fatalf("lifetime %d diverged from history %d", stored, historyTotal)
	}

	entries, err := ledger.History(db, user.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(entries) != 3 || entries[0].Reason != ReasonMintPiece {
		t.Fatalf("unexpected history %+v", entries)
	}
	if entries[0].Metadata["tx_hash"] != "0x1" {
		t.Fatalf("expected metadata to round trip, got %v", entries[0].Metadata)
	}
}

func TestGrantRejectsNonPositiveAmount(t *testing.T) {
	db, directory, ledger := newLedgerFixture(t)
	user := resolveUser(t, db, directory, "0xa")
	if _, err := ledger.Grant(db, user.ID, 0, ReasonMintPiece, nil); !errors.Is(err, ErrNonPositiveAmount) {
		t.Fatalf("expected ErrNonPositiveAmount, got %v", err)
	}
}

func TestGrantFailsForUnknownUser(t *testing.T) {
	db, _, ledger := newLedgerFixture(t)
	err := db.Transaction(func(tx *gorm.DB) error {
		_, grantErr := ledger.Grant(tx, "missing", 10, ReasonMintPiece, nil)
		return grantErr
	})
	if !errors.Is(err, users.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	var count int64
	db.Model(&HistoryEntry{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected rolled back history, found %d entries", count)
	}
}

func TestAccrueSeasonXPAccumulates(t *testing.T) {
	db, directory, ledger := newLedgerFixture(t)
	user := resolveUser(t, db, directory, "0xa")

	for step := 1; step <= 3; step++ {
		aggregate, err := ledger.AccrueSeasonXP(db, "season-1", user.ID, 10)
		if err != nil {
			t.Fatalf("accrue failed: %v", err)
		}
		if aggregate.XPAmount != int64(step*10) {
			t.Fatalf("step %d: expected %d, got %d", step, step*10, aggregate.XPAmount)
		}
	}
	other, err := ledger.SeasonXPFor(db, "season-2", user.ID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if other.XPAmount != 0 {
		t.Fatalf("expected seasons to be independent, got %d", other.XPAmount)
	}
}

func TestAccrueMonthlyXPRecomputesTier(t *testing.T) {
	db, directory, ledger := newLedgerFixture(t)
	user := resolveUser(t, db, directory, "0xa")

	aggregate, err := ledger.AccrueMonthlyXP(db, user.ID, 90, fixedNow)
	if err != nil {
		t.Fatalf("accrue failed: %v", err)
	}
	if aggregate.Tier != tiers.TierBronze || aggregate.MonthDate != "2026-03-01" {
		t.Fatalf("unexpected aggregate %+v", aggregate)
	}
	aggregate, err = ledger.AccrueMonthlyXP(db, user.ID, 10, fixedNow)
	if err != nil {
		t.Fatalf("accrue failed: %v", err)
	}
	if aggregate.XPGained != 100 || aggregate.Tier != tiers.TierSilver {
		t.Fatalf("expected Silver at 100, got %+v", aggregate)
	}

	nextMonth, err := ledger.AccrueMonthlyXP(db, user.ID, 10, fixedNow.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("accrue failed: %v", err)
	}
	if nextMonth.XPGained != 10 || nextMonth.Tier != tiers.TierBronze {
		t.Fatalf("expected a fresh month, got %+v", nextMonth)
	}

	stored, err := ledger.MonthlyFor(db, user.ID, fixedNow)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if stored.XPGained != 100 || stored.Tier != tiers.TierSilver {
		t.Fatalf("unexpected stored aggregate %+v", stored)
	}
}

func TestMonthKeyUsesUTCCalendarMonth(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{name: "mid month", at: fixedNow, want: "2026-03-01"},
		{name: "first instant", at: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), want: "2026-01-01"},
		{name: "offset zone crosses month", at: time.Date(2026, time.May, 1, 1, 0, 0, 0, time.FixedZone("CEST", 2*60*60)), want: "2026-04-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MonthKey(tt.at); got != tt.want {
				t.Fatalf("MonthKey(%s) = %s, want %s", tt.at, got, tt.want)
			}
		})
	}
}

func TestAccrueIsPure(t *testing.T) {
	season := SeasonXP{SeasonID: "s", UserID: "u", XPAmount: 40}
	if next := AccrueSeason(season, 10); next.XPAmount != 50 || season.XPAmount != 40 {
		t.Fatalf("unexpected season accrual %+v from %+v", next, season)
	}
	monthly := MonthlyEvent{XPGained: 1490, Tier: tiers.TierGold}
	next := AccrueMonthly(monthly, 10)
	if next.XPGained != 1500 || next.Tier != tiers.TierDiamond {
		t.Fatalf("unexpected monthly accrual %+v", next)
	}
	if monthly.Tier != tiers.TierGold {
		t.Fatalf("input aggregate mutated: %+v", monthly)
	}
}

func TestLeaderboardOrdersBySeasonXP(t *testing.T) {
	db, directory, ledger := newLedgerFixture(t)
	alice := resolveUser(t, db, directory, "0xaa")
	bob := resolveUser(t, db, directory, "0xbb")
	carol := resolveUser(t, db, directory, "0xcc")

	grants := map[string]int64{alice.ID: 20, bob.ID: 50, carol.ID: 20}
	for userID, amount := range grants {
		if _, err := ledger.AccrueSeasonXP(db, "season-1", userID, amount); err != nil {
			t.Fatalf("accrue failed: %v", err)
		}
	}
	if _, err := ledger.AccrueSeasonXP(db, "season-2", alice.ID, 500); err != nil {
		t.Fatalf("accrue failed: %v", err)
	}

	entries, err := ledger.Leaderboard(db, "season-1", 0)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	expected := []string{"0xbb", "0xaa", "0xcc"}
	for index, entry := range entries {
		if entry.WalletAddress != expected[index] || entry.Rank != index+1 {
			t.Fatalf("entry %d: unexpected %+v", index, entry)
		}
	}

	limited, err := ledger.Leaderboard(db, "season-1", 1)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(limited) != 1 || limited[0].XPAmount != 50 {
		t.Fatalf("unexpected limited leaderboard %+v", limited)
	}
}

func TestClampLeaderboardLimit(t *testing.T) {
	tests := map[int]int{-1: 10, 0: 10, 5: 5, 100: 100, 1000: 100}
	for requested, want := range tests {
		if got := ClampLeaderboardLimit(requested); got != want {
			t.Fatalf("ClampLeaderboardLimit(%d) = %d, want %d", requested, got, want)
		}
	}
}

func TestReconcilerRepairsDrift(t *testing.T) {
	db, directory, ledger := newLedgerFixture(t)
	alice := resolveUser(t, db, directory, "0xaa")
	bob := resolveUser(t, db, directory, "0xbb")
	if _, err := ledger.Grant(db, alice.ID, 30, ReasonMintPiece, nil); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if _, err := ledger.Grant(db, bob.ID, 10, ReasonMintPiece, nil); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if err := db.Model(&users.User{}).Where("id = ?", alice.ID).Update("lifetime_xp", 999).Error; err != nil {
		t.Fatalf("failed to corrupt projection: %v", err)
	}

	reconciler := NewReconciler(ledger, directory, nil)
	report, err := reconciler.Run(context.Background(), db)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.UsersChecked != 2 || report.UsersRepaired != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	repaired, err := directory.LifetimeXP(db, alice.ID)
	if err != nil || repaired != 30 {
		t.Fatalf("expected repaired lifetime 30, got %d (%v)", repaired, err)
	}
}

func TestNewRequiresLifetimeWriter(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrMissingLifetimeWriter) {
		t.Fatalf("expected ErrMissingLifetimeWriter, got %v", err)
	}
}

func newLedgerFixture(t *testing.T) (*gorm.DB, *users.Directory, *Ledger) {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&users.User{}, &HistoryEntry{}, &SeasonXP{}, &MonthlyEvent{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	clock := func() time.Time { return fixedNow }
	directory := users.NewDirectory(users.DirectoryConfig{IDProvider: &sequenceIDs{}, Clock: clock})
	ledger, err := New(Config{Lifetime: directory, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}
	return db, directory, ledger
}

func resolveUser(t *testing.T, db *gorm.DB, directory *users.Directory, raw string) users.User {
	t.Helper()
	address, err := users.NewWalletAddress(raw)
	if err != nil {
		t.Fatalf("invalid address %q: %v", raw, err)
	}
	user, _, err := directory.Resolve(db, address)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	return user
}
