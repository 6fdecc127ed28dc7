package analytics

import (
	"fmt"
	"sync"
	"time"

	"learnkit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(e core.Event) {
	day := dayKey(e.Time)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// Metrics tracks learning KPIs derived from progression events.
type Metrics struct {
	mu sync.RWMutex

	dailyActive  map[string]map[core.UserID]struct{}
	weeklyActive map[string]map[core.UserID]struct{}

	xpByDay  map[string]int64
	xpByType map[core.ExperienceType]int64

	badgesByDay    map[string]int64
	badgesByRarity map[core.Rarity]int64
	badgeHolders   map[core.BadgeID]map[core.UserID]struct{}

	levelUpsByDay     map[string]int64
	levelDistribution map[int]int

	certificatesByDay   map[string]int64
	completionsByCourse map[core.CourseID]int64
	quizzes             struct{ submitted, passed int64 }
}

func NewMetrics() *Metrics {
	return &Metrics{
		dailyActive:         make(map[string]map[core.UserID]struct{}),
		weeklyActive:        make(map[string]map[core.UserID]struct{}),
		xpByDay:             make(map[string]int64),
		xpByType:            make(map[core.ExperienceType]int64),
		badgesByDay:         make(map[string]int64),
		badgesByRarity:      make(map[core.Rarity]int64),
		badgeHolders:        make(map[core.BadgeID]map[core.UserID]struct{}),
		levelUpsByDay:       make(map[string]int64),
		levelDistribution:   make(map[int]int),
		certificatesByDay:   make(map[string]int64),
		completionsByCourse: make(map[core.CourseID]int64),
	}
}

func (m *Metrics) OnEvent(e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := dayKey(e.Time)
	markActive(m.dailyActive, day, e.UserID)
	markActive(m.weeklyActive, weekKey(e.Time), e.UserID)

	switch e.Type {
	case core.EventXPAwarded:
		// Admin corrections are not earned experience.
		if e.Delta > 0 && e.XPType != core.XPAdminAdjustment {
			m.xpByDay[day] += e.Delta
			m.xpByType[e.XPType] += e.Delta
		}
	case core.EventLevelUp:
		m.levelUpsByDay[day]++
		m.levelDistribution[e.Level]++
	case core.EventBadgeAwarded:
		m.badgesByDay[day]++
		if rarity, ok := e.Metadata["rarity"].(string); ok {
			m.badgesByRarity[core.Rarity(rarity)]++
		}
		if m.badgeHolders[e.Badge] == nil {
			m.badgeHolders[e.Badge] = make(map[core.UserID]struct{})
		}
		m.badgeHolders[e.Badge][e.UserID] = struct{}{}
	case core.EventCertificateIssued:
		m.certificatesByDay[day]++
	case core.EventCourseCompleted:
		m.completionsByCourse[e.CourseID]++
	case core.EventQuizSubmitted:
		m.quizzes.submitted++
		if passed, _ := e.Metadata["passed"].(bool); passed {
			m.quizzes.passed++
		}
	}
}

func markActive(buckets map[string]map[core.UserID]struct{}, key string, user core.UserID) {
	if buckets[key] == nil {
		buckets[key] = make(map[core.UserID]struct{})
	}
	buckets[key][user] = struct{}{}
}

// DailyActiveUsers returns the count of active learners on day (YYYY-MM-DD).
func (m *Metrics) DailyActiveUsers(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dailyActive[day])
}

// WeeklyActiveUsers returns the count of active learners in an ISO week (YYYY-Www).
func (m *Metrics) WeeklyActiveUsers(week string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.weeklyActive[week])
}

func (m *Metrics) XPByDay(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.xpByDay[day]
}

func (m *Metrics) XPByType(typ core.ExperienceType) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.xpByType[typ]
}

func (m *Metrics) BadgeHolders(badge core.BadgeID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.badgeHolders[badge])
}

// Summary is a point-in-time rollup for dashboards.
type Summary struct {
	XPByType          map[core.ExperienceType]int64 `json:"xp_by_type"`
	BadgesByRarity    map[core.Rarity]int64         `json:"badges_by_rarity"`
	LevelDistribution map[int]int                   `json:"level_distribution"`
	CourseCompletions map[core.CourseID]int64       `json:"course_completions"`
	CertificatesToday int64                         `json:"certificates_today"`
	ActiveToday       int                           `json:"active_today"`
	QuizzesSubmitted  int64                         `json:"quizzes_submitted"`
	QuizPassRate      float64                       `json:"quiz_pass_rate"`
}

// Summary copies the current counters; now selects the "today" bucket.
func (m *Metrics) Summary(now time.Time) Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Summary{
		XPByType:          make(map[core.ExperienceType]int64, len(m.xpByType)),
		BadgesByRarity:    make(map[core.Rarity]int64, len(m.badgesByRarity)),
		LevelDistribution: make(map[int]int, len(m.levelDistribution)),
		CourseCompletions: make(map[core.CourseID]int64, len(m.completionsByCourse)),
		CertificatesToday: m.certificatesByDay[dayKey(now)],
		ActiveToday:       len(m.dailyActive[dayKey(now)]),
		QuizzesSubmitted:  m.quizzes.submitted,
	}
	for k, v := range m.xpByType {
		s.XPByType[k] = v
	}
	for k, v := range m.badgesByRarity {
		s.BadgesByRarity[k] = v
	}
	for k, v := range m.levelDistribution {
		s.LevelDistribution[k] = v
	}
	for k, v := range m.completionsByCourse {
		s.CourseCompletions[k] = v
	}
	if m.quizzes.submitted > 0 {
		s.QuizPassRate = float64(m.quizzes.passed) / float64(m.quizzes.submitted)
	}
	return s
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
