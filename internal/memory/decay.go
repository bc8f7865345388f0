package memory

import (
	"math"
	"time"
)

// DefaultHalfLifeDays is the half-life used when none is configured.
const DefaultHalfLifeDays = 60.0

// incremental sweep constants
const (
	incrementalFactor = 0.98
	incrementalFloor  = 0.5
)

// Clamp bounds s to [MinStrength, MaxStrength].
func Clamp(s float64) float64 {
	if math.IsNaN(s) {
		return MinStrength
	}
	return math.Min(MaxStrength, math.Max(MinStrength, s))
}

// Decay applies exponential half-life decay. Time before lastReinforcedAt
// counts as zero elapsed.
func Decay(strength float64, lastReinforcedAt time.Time, halfLifeDays float64, now time.Time) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultHalfLifeDays
	}
	days := now.Sub(lastReinforcedAt).Hours() / 24
	if days <= 0 {
		return Clamp(strength)
	}
	return Clamp(strength * math.Pow(0.5, days/halfLifeDays))
}

// ImportanceToStrength maps importance 1..10 onto [1, 3]. Zero means unset.
func ImportanceToStrength(importance int) float64 {
	if importance == 0 {
		importance = DefaultImportance
	}
	return math.Min(3, math.Max(1, 0.5+float64(importance)/4))
}

// DecayPolicy computes the next strength for a fact during a sweep.
type DecayPolicy interface {
	Name() string
	Next(strength float64, baseline, now time.Time) float64
}

// HalfLife is exponential decay by elapsed time.
type HalfLife struct {
	Days float64
}

func (HalfLife) Name() string { return "half_life" }

func (p HalfLife) Next(strength float64, baseline, now time.Time) float64 {
	return Decay(strength, baseline, p.Days, now)
}

// Incremental shaves a fixed 2% per sweep and never pushes a fact below 0.5.
// It ignores elapsed time, so callers run it on a fixed cadence.
type Incremental struct{}

func (Incremental) Name() string { return "incremental" }

func (Incremental) Next(strength float64, _, _ time.Time) float64 {
	return Clamp(math.Max(incrementalFloor, strength*incrementalFactor))
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string, halfLifeDays float64) (DecayPolicy, error) {
	switch name {
	case "", "half_life":
		return HalfLife{Days: halfLifeDays}, nil
	case "incremental":
		return Incremental{}, nil
	}
	return nil, &ValidationError{Field: "policy", Reason: "unknown decay policy " + name}
}
