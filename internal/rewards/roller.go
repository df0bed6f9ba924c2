package rewards

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

// DefaultDropRate is the probability that a single mint drops a mystery box.
const DefaultDropRate = 0.05

// Cumulative rarity thresholds evaluated in order Legendary, Epic, Rare; the rest is Common.
const (
	legendaryCeiling = 0.05
	epicCeiling      = 0.20
	rareCeiling      = 0.50
)

// ErrInvalidDropRate indicates the configured drop probability is outside [0, 1].
var ErrInvalidDropRate = errors.New("rewards: invalid drop rate")

// Source yields uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// DropResult reports the outcome of one roll.
type DropResult struct {
	Dropped bool
	Rarity  Rarity
}

// RollerConfig configures a Roller.
type RollerConfig struct {
	Source   Source
	DropRate float64
}

// Roller decides per mint whether a mystery box drops and at which rarity.
// Draws are serialized so a single non-thread-safe Source can be shared by concurrent ingestions.
type Roller struct {
	mu       sync.Mutex
	source   Source
	dropRate float64
}

// NewRoller validates the configuration and returns a Roller.
func NewRoller(cfg RollerConfig) (*Roller, error) {
	if cfg.Source == nil {
		return nil, errors.New("rewards: random source required")
	}
	if cfg.DropRate < 0 || cfg.DropRate > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDropRate, cfg.DropRate)
	}
	return &Roller{source: cfg.Source, dropRate: cfg.DropRate}, nil
}

// NewSeededSource returns a deterministic PCG source for the given seed.
func NewSeededSource(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Roll performs the drop draw and, on a drop, the rarity draw.
func (r *Roller) Roll() DropResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.source.Float64() >= r.dropRate {
		return DropResult{}
	}
	return DropResult{Dropped: true, Rarity: rarityFor(r.source.Float64())}
}

func rarityFor(draw float64) Rarity {
	switch {
	case draw < legendaryCeiling:
		return RarityLegendary
	case draw < epicCeiling:
		return RarityEpic
	case draw < rareCeiling:
		return RarityRare
	default:
		return RarityCommon
	}
}
