package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// LevelRules describes the level curve. The cost of going from level L to L+1 is
// round(BaseXP * GrowthFactor^(L-1)). Rules are pinned per evaluation; stored levels
// only change when a new event recomputes them.
type LevelRules struct {
	Version      string  `json:"version"`
	BaseXP       int64   `json:"base_xp"`
	GrowthFactor float64 `json:"growth_factor"`
	MaxLevel     int     `json:"max_level"`
}

// MaxLevelCap is the highest MaxLevel a curve may declare.
const MaxLevelCap = 10000

// DefaultLevelRules: level 1 covers 0-99 XP and every level costs 25% more than the previous one.
func DefaultLevelRules() LevelRules {
	return LevelRules{Version: "default", BaseXP: 100, GrowthFactor: 1.25, MaxLevel: 100}
}

// Validate reports invalid curve parameters.
func (r LevelRules) Validate() error {
	var errs []string
	if r.BaseXP <= 0 {
		errs = append(errs, "base_xp must be > 0")
	}
	if r.GrowthFactor <= 0 || math.IsNaN(r.GrowthFactor) || math.IsInf(r.GrowthFactor, 0) {
		errs = append(errs, "growth_factor must be a positive number")
	}
	if r.MaxLevel < 1 {
		errs = append(errs, "max_level must be >= 1")
	}
	if r.MaxLevel > MaxLevelCap {
		errs = append(errs, fmt.Sprintf("max_level must be <= %d", MaxLevelCap))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// WithDefaults fills zero-valued fields from DefaultLevelRules.
func (r LevelRules) WithDefaults() LevelRules {
	d := DefaultLevelRules()
	if r.BaseXP == 0 {
		r.BaseXP = d.BaseXP
	}
	if r.GrowthFactor == 0 {
		r.GrowthFactor = d.GrowthFactor
	}
	if r.MaxLevel == 0 {
		r.MaxLevel = d.MaxLevel
	}
	if r.Version == "" {
		r.Version = fmt.Sprintf("base=%d,growth=%g,max=%d", r.BaseXP, r.GrowthFactor, r.MaxLevel)
	}
	return r
}

// Cost returns the XP needed to go from level to level+1, saturating at MaxInt64.
func (r LevelRules) Cost(level int) int64 {
	if level < 1 {
		level = 1
	}
	f := float64(r.BaseXP) * math.Pow(r.GrowthFactor, float64(level-1))
	if f >= math.MaxInt64/2 || math.IsInf(f, 1) {
		return math.MaxInt64
	}
	c := int64(math.Round(f))
	if c < 1 {
		return 1
	}
	return c
}

// LevelInfo is the result of LevelFor.
type LevelInfo struct {
	Level         int   `json:"level"`
	XPToNextLevel int64 `json:"xp_to_next_level"`
	// LevelStartXP is the cumulative XP at which Level begins.
	LevelStartXP int64 `json:"level_start_xp"`
}

// LevelFor maps a cumulative XP total to a level. It is pure and monotonic
// non-decreasing in totalXP for fixed rules; totals at or below zero are level 1.
func LevelFor(totalXP int64, rules LevelRules) LevelInfo {
	rules = rules.WithDefaults()
	level := 1
	var start int64
	for level < rules.MaxLevel {
		cost := rules.Cost(level)
		if rules.flatFrom(cost) && totalXP > start {
			// Every remaining level costs the same, so skip ahead in one step.
			steps := (totalXP - start) / cost
			if room := int64(rules.MaxLevel - level); steps > room {
				steps = room
			}
			level += int(steps)
			start += steps * cost
			if level >= rules.MaxLevel {
				break
			}
		}
		next, err := AddSafe(start, cost)
		if err != nil {
			next = math.MaxInt64
		}
		if totalXP < next {
			return LevelInfo{Level: level, XPToNextLevel: next - totalXP, LevelStartXP: start}
		}
		if next == math.MaxInt64 {
			break
		}
		start = next
		level++
	}
	return LevelInfo{Level: level, XPToNextLevel: 0, LevelStartXP: start}
}

// flatFrom reports whether cost is also the cost of every later level.
func (r LevelRules) flatFrom(cost int64) bool {
	return r.GrowthFactor == 1 || (r.GrowthFactor < 1 && cost == 1)
}
