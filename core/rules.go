package core

// Catalog is the versioned badge configuration injected into evaluation.
type Catalog struct {
	Version     string           `json:"version"`
	Badges      []Badge          `json:"badges"`
	RarityBonus map[Rarity]int64 `json:"rarity_bonus,omitempty"`
}

// DefaultRarityBonus is the fixed bonus table; amounts ascend with rarity.
func DefaultRarityBonus() map[Rarity]int64 {
	return map[Rarity]int64{
		RarityCommon:    10,
		RarityRare:      25,
		RarityEpic:      50,
		RarityLegendary: 100,
	}
}

// Bonus returns the bonus XP for a rarity tier. Unknown tiers earn the common bonus.
func (c Catalog) Bonus(r Rarity) int64 {
	table := c.RarityBonus
	if len(table) == 0 {
		table = DefaultRarityBonus()
	}
	if v, ok := table[r]; ok {
		return v
	}
	if v, ok := table[RarityCommon]; ok {
		return v
	}
	return DefaultRarityBonus()[RarityCommon]
}

// ActiveBadges returns the active entries in catalog order.
func (c Catalog) ActiveBadges() []Badge {
	out := make([]Badge, 0, len(c.Badges))
	for _, b := range c.Badges {
		if b.Active {
			out = append(out, b)
		}
	}
	return out
}

// Counters are totals counted from collaborator stores at evaluation time.
type Counters struct {
	LessonsCompleted   int64 `json:"lessons_completed"`
	CoursesCompleted   int64 `json:"courses_completed"`
	QuizzesPassed      int64 `json:"quizzes_passed"`
	CertificatesEarned int64 `json:"certificates_earned"`
}

// Snapshot carries progression values computed by the triggering event itself.
type Snapshot struct {
	Level   int   `json:"level"`
	TotalXP int64 `json:"total_xp"`
}

// Trigger describes the event that caused a badge evaluation.
type Trigger struct {
	Type         ExperienceType `json:"type"`
	CourseID     CourseID       `json:"course_id,omitempty"`
	PerfectScore bool           `json:"perfect_score,omitempty"`
	Fresh        *Snapshot      `json:"fresh,omitempty"`
}

// Facts is the flattened input every badge requirement is checked against.
type Facts struct {
	Counters      Counters
	Level         int
	TotalXP       int64
	CurrentStreak int
	LongestStreak int
	Trigger       Trigger
}

// NewFacts merges counters and the aggregate, preferring fresh trigger values.
func NewFacts(counters Counters, stats StatsAggregate, trigger Trigger) Facts {
	f := Facts{
		Counters:      counters,
		Level:         stats.CurrentLevel,
		TotalXP:       stats.TotalXP,
		CurrentStreak: stats.CurrentStreak,
		LongestStreak: stats.LongestStreak,
		Trigger:       trigger,
	}
	if trigger.Fresh != nil {
		if trigger.Fresh.Level > f.Level {
			f.Level = trigger.Fresh.Level
		}
		if trigger.Fresh.TotalXP > f.TotalXP {
			f.TotalXP = trigger.Fresh.TotalXP
		}
	}
	return f
}

// metric returns the fact a structured requirement compares against.
func (f Facts) metric(req RequirementType) (int64, bool) {
	switch req {
	case ReqLessonsCompleted:
		return f.Counters.LessonsCompleted, true
	case ReqCoursesCompleted:
		return f.Counters.CoursesCompleted, true
	case ReqQuizzesPassed:
		return f.Counters.QuizzesPassed, true
	case ReqCertificatesEarned:
		return f.Counters.CertificatesEarned, true
	case ReqLevelReached:
		return int64(f.Level), true
	case ReqStreakDays:
		return int64(f.CurrentStreak), true
	case ReqTotalXP:
		return f.TotalXP, true
	}
	return 0, false
}

// Qualifies reports whether a badge requirement is met. Badges without a recognized
// structured requirement fall back to the legacy slug rule table.
func Qualifies(b Badge, f Facts) bool {
	if v, ok := f.metric(b.RequirementType); ok {
		return v >= b.RequirementValue
	}
	return LegacyQualifies(b.Slug, f)
}

// Evaluate returns, in catalog order, the active badges not yet owned whose
// requirements hold. It never writes anything.
func Evaluate(badges []Badge, owned map[BadgeID]struct{}, counters Counters, stats StatsAggregate, trigger Trigger) []Badge {
	facts := NewFacts(counters, stats, trigger)
	var out []Badge
	for _, b := range badges {
		if !b.Active {
			continue
		}
		if _, ok := owned[b.ID]; ok {
			continue
		}
		if Qualifies(b, facts) {
			out = append(out, b)
		}
	}
	return out
}
