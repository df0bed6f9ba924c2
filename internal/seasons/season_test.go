package seasons

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("season-%d", s.next), nil
}

var seasonStart = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestUpsertDerivesSlugAndUpdatesInPlace(t *testing.T) {
	db, store := newSeasonFixture(t)

	created, err := store.Upsert(db, Definition{
		Name:      "Genesis Season",
		StartDate: seasonStart,
		EndDate:   seasonStart.AddDate(0, 3, 0),
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if created.Slug != "genesis-season" {
		t.Fatalf("expected derived slug, got %q", created.Slug)
	}

	updated, err := store.Upsert(db, Definition{
		Name:      "Genesis Season",
		StartDate: seasonStart,
		EndDate:   seasonStart.AddDate(0, 4, 0),
	})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if updated.ID != created.ID {
		t.Fatalf("expected upsert to keep id %s, got %s", created.ID, updated.ID)
	}
	if !updated.EndDate.Equal(seasonStart.AddDate(0, 4, 0)) {
		t.Fatalf("expected end date to be updated, got %s", updated.EndDate)
	}

	all, err := store.List(db)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected a single season, got %d (%v)", len(all), err)
	}
}

func TestUpsertRejectsInvalidDefinitions(t *testing.T) {
	db, store := newSeasonFixture(t)
	tests := []struct {
		name       string
		definition Definition
	}{
		{name: "missing name", definition: Definition{StartDate: seasonStart, EndDate: seasonStart.Add(time.Hour)}},
		{name: "empty window", definition: Definition{Name: "Empty", StartDate: seasonStart, EndDate: seasonStart}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Upsert(db, tt.definition); !errors.Is(err, ErrInvalidSeason) {
				t.Fatalf("expected ErrInvalidSeason, got %v", err)
			}
		})
	}
}

func TestActivatingUpsertKeepsSingleActiveSeason(t *testing.T) {
	db, store := newSeasonFixture(t)
	if _, err := store.Upsert(db, Definition{Name: "Genesis", StartDate: seasonStart, EndDate: seasonStart.AddDate(0, 3, 0), IsActive: true}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	second, err := store.Upsert(db, Definition{Name: "Spring", StartDate: seasonStart.AddDate(0, 3, 0), EndDate: seasonStart.AddDate(0, 6, 0), IsActive: true})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	active, err := store.Active(db)
	if err != nil {
		t.Fatalf("active lookup failed: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("expected %s active, got %+v", second.ID, active)
	}
	var activeCount int64
	db.Model(&Season{}).Where("is_active = ?", true).Count(&activeCount)
	if activeCount != 1 {
		t.Fatalf("expected one active season, got %d", activeCount)
	}
}

func TestActiveReturnsNilWithoutActiveSeason(t *testing.T) {
	db, store := newSeasonFixture(t)
	active, err := store.Active(db)
	if err != nil {
		t.Fatalf("active lookup failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active season, got %+v", active)
	}
}

func TestRotateFollowsSeasonWindows(t *testing.T) {
	db, store := newSeasonFixture(t)
	genesis, _ := store.Upsert(db, Definition{Name: "Genesis", StartDate: seasonStart, EndDate: seasonStart.AddDate(0, 3, 0)})
	spring, _ := store.Upsert(db, Definition{Name: "Spring", StartDate: seasonStart.AddDate(0, 3, 0), EndDate: seasonStart.AddDate(0, 6, 0)})

	active, err := store.Rotate(db, seasonStart.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if active == nil || active.ID != genesis.ID {
		t.Fatalf("expected genesis active, got %+v", active)
	}

	active, err = store.Rotate(db, seasonStart.AddDate(0, 3, 0))
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if active == nil || active.ID != spring.ID {
		t.Fatalf("expected spring active at its start boundary, got %+v", active)
	}
	reloaded, err := store.BySlug(db, "genesis")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if reloaded.IsActive {
		t.Fatalf("expected genesis to be deactivated")
	}

	active, err = store.Rotate(db, seasonStart.AddDate(1, 0, 0))
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active season after all windows closed, got %+v", active)
	}
	current, _ := store.Active(db)
	if current != nil {
		t.Fatalf("expected rotation to clear the active flag, got %+v", current)
	}
}

func TestBySlugMissing(t *testing.T) {
	db, store := newSeasonFixture(t)
	if _, err := store.BySlug(db, "nope"); !errors.Is(err, ErrSeasonNotFound) {
		t.Fatalf("expected ErrSeasonNotFound, got %v", err)
	}
}

func newSeasonFixture(t *testing.T) (*gorm.DB, *Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:seasons_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Season{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store := NewStore(StoreConfig{
		IDProvider: &sequenceIDs{},
		Clock:      func() time.Time { return seasonStart },
	})
	return db, store
}
