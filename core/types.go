package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a learner.
type UserID string

// CourseID identifies a course.
type CourseID string

// BadgeID identifies a badge catalog entry.
type BadgeID string

// ExperienceType enumerates the fixed catalog of point-earning events.
type ExperienceType string

const (
	XPLessonCompleted ExperienceType = "lesson_completed"
	XPQuizPassed      ExperienceType = "quiz_passed"
	XPPerfectScore    ExperienceType = "perfect_score"
	XPCourseCompleted ExperienceType = "course_completed"
	XPBadgeEarned     ExperienceType = "badge_earned"
	XPDailyLogin      ExperienceType = "daily_login"
	XPStreakBonus     ExperienceType = "streak_bonus"
	XPAdminAdjustment ExperienceType = "admin_adjustment"
)

// Valid reports whether t belongs to the event catalog.
func (t ExperienceType) Valid() bool {
	switch t {
	case XPLessonCompleted, XPQuizPassed, XPPerfectScore, XPCourseCompleted,
		XPBadgeEarned, XPDailyLogin, XPStreakBonus, XPAdminAdjustment:
		return true
	}
	return false
}

// ExperienceEvent is one immutable ledger entry.
type ExperienceEvent struct {
	ID          string         `json:"id" db:"id"`
	UserID      UserID         `json:"user_id" db:"user_id"`
	Type        ExperienceType `json:"type" db:"event_type"`
	Amount      int64          `json:"amount" db:"amount"`
	Description string         `json:"description" db:"description"`
	Context     map[string]any `json:"context,omitempty" db:"-"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// StatsAggregate is the denormalized, recomputable progression row of a user.
type StatsAggregate struct {
	UserID           UserID     `json:"user_id" db:"user_id"`
	CurrentLevel     int        `json:"current_level" db:"current_level"`
	TotalXP          int64      `json:"total_xp" db:"total_xp"`
	XPToNextLevel    int64      `json:"xp_to_next_level" db:"xp_to_next_level"`
	TotalBadges      int        `json:"total_badges" db:"total_badges"`
	CurrentStreak    int        `json:"current_streak" db:"current_streak"`
	LongestStreak    int        `json:"longest_streak" db:"longest_streak"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty" db:"last_activity_date"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// NewStatsAggregate returns the default row for a user that has no stats yet.
func NewStatsAggregate(user UserID, rules LevelRules) StatsAggregate {
	info := LevelFor(0, rules)
	return StatsAggregate{
		UserID:        user,
		CurrentLevel:  info.Level,
		XPToNextLevel: info.XPToNextLevel,
	}
}

// Rarity is a badge tier; each tier maps to a fixed bonus.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Rank orders rarities from common (0) to legendary (3); unknown tiers rank as common.
func (r Rarity) Rank() int {
	switch r {
	case RarityRare:
		return 1
	case RarityEpic:
		return 2
	case RarityLegendary:
		return 3
	default:
		return 0
	}
}

// RequirementType names the counter a badge threshold is compared against.
type RequirementType string

const (
	ReqLessonsCompleted   RequirementType = "lessons_completed"
	ReqCoursesCompleted   RequirementType = "courses_completed"
	ReqQuizzesPassed      RequirementType = "quizzes_passed"
	ReqLevelReached       RequirementType = "level_reached"
	ReqStreakDays         RequirementType = "streak_days"
	ReqTotalXP            RequirementType = "total_xp"
	ReqCertificatesEarned RequirementType = "certificates_earned"
)

// Badge is a read-only catalog entry.
type Badge struct {
	ID               BadgeID         `json:"id" db:"id"`
	Slug             string          `json:"slug" db:"slug"`
	Title            string          `json:"title" db:"title"`
	Description      string          `json:"description" db:"description"`
	Rarity           Rarity          `json:"rarity" db:"rarity"`
	RequirementType  RequirementType `json:"requirement_type,omitempty" db:"requirement_type"`
	RequirementValue int64           `json:"requirement_value,omitempty" db:"requirement_value"`
	Active           bool            `json:"active" db:"active"`
}

// BadgeOwnership records that a user unlocked a badge. (UserID, BadgeID) is unique.
type BadgeOwnership struct {
	UserID     UserID    `json:"user_id" db:"user_id"`
	BadgeID    BadgeID   `json:"badge_id" db:"badge_id"`
	UnlockedAt time.Time `json:"unlocked_at" db:"unlocked_at"`
}

// Question is one entry of a module's question bank.
type Question struct {
	ID            string `json:"id" db:"id"`
	CorrectAnswer int    `json:"correct_answer" db:"correct_answer"`
}

// QuizAttempt is one graded submission. Attempts are never deduplicated.
type QuizAttempt struct {
	ID             string    `json:"id" db:"id"`
	UserID         UserID    `json:"user_id" db:"user_id"`
	CourseID       CourseID  `json:"course_id" db:"course_id"`
	ModuleID       string    `json:"module_id" db:"module_id"`
	Score          float64   `json:"score" db:"score"`
	Passed         bool      `json:"passed" db:"passed"`
	Answers        []int     `json:"answers" db:"-"`
	CorrectCount   int       `json:"correct_count" db:"correct_count"`
	TotalQuestions int       `json:"total_questions" db:"total_questions"`
	CompletedAt    time.Time `json:"completed_at" db:"completed_at"`
}

// Certificate is the completion credential of a (user, course) pair.
type Certificate struct {
	ID       string    `json:"id" db:"id"`
	UserID   UserID    `json:"user_id" db:"user_id"`
	CourseID CourseID  `json:"course_id" db:"course_id"`
	Number   string    `json:"certificate_number" db:"certificate_number"`
	IssuedAt time.Time `json:"issued_at" db:"issued_at"`
}

// Enrollment tracks a user's progress through a course.
type Enrollment struct {
	UserID          UserID     `json:"user_id" db:"user_id"`
	CourseID        CourseID   `json:"course_id" db:"course_id"`
	ProgressPercent float64    `json:"progress_percent" db:"progress_percent"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// LessonCompletion records the first time a user finished a lesson.
type LessonCompletion struct {
	UserID      UserID    `json:"user_id" db:"user_id"`
	LessonID    string    `json:"lesson_id" db:"lesson_id"`
	CourseID    CourseID  `json:"course_id" db:"course_id"`
	CompletedAt time.Time `json:"completed_at" db:"completed_at"`
}

// UserProfile is the subset of the user directory used for notifications.
type UserProfile struct {
	UserID UserID `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Email is an outbound message handed to a Mailer.
type Email struct {
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", fmt.Errorf("%w: empty user id", ErrValidation)
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateSlug ensures a non-empty identifier made of alnum, dash and underscore.
func ValidateSlug(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%w: empty identifier", ErrValidation)
	}
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return fmt.Errorf("%w: invalid identifier %q", ErrValidation, s)
	}
	return nil
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
