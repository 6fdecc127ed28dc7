package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"learnkit/core"
)

// LessonResult reports a lesson completion.
type LessonResult struct {
	AlreadyCompleted bool           `json:"already_completed"`
	XPAwarded        int64          `json:"xp_awarded"`
	Badges           []AwardedBadge `json:"badges"`
}

// CompleteLesson records a finished lesson. Only the first completion of a lesson
// earns experience and triggers badge evaluation.
func (e *Engine) CompleteLesson(ctx context.Context, user core.UserID, lessonID string, course core.CourseID) (LessonResult, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return LessonResult{}, err
	}
	if err := core.ValidateSlug(lessonID); err != nil {
		return LessonResult{}, fmt.Errorf("lesson id: %w", err)
	}
	lessonID = strings.TrimSpace(lessonID)

	err = e.store.InsertLessonCompletion(ctx, core.LessonCompletion{
		UserID:      normalized,
		LessonID:    lessonID,
		CourseID:    course,
		CompletedAt: e.now(),
	})
	if errors.Is(err, core.ErrAlreadyExists) {
		return LessonResult{AlreadyCompleted: true, Badges: []AwardedBadge{}}, nil
	}
	if err != nil {
		return LessonResult{}, fmt.Errorf("insert lesson completion: %w", err)
	}

	rules := e.LevelRules(ctx)
	res := LessonResult{Badges: []AwardedBadge{}}
	meta := map[string]any{"lesson_id": lessonID, "course_id": string(course)}
	r, err := e.award(ctx, normalized, core.XPLessonCompleted, e.xp.LessonCompleted, "Completed lesson "+lessonID, meta, rules)
	if err != nil {
		e.log.Warn("lesson xp award failed", "user_id", normalized, "lesson_id", lessonID, "error", err)
	} else {
		res.XPAwarded = r.AppliedAmount
	}
	res.Badges = e.evaluateQuietly(ctx, normalized, rules, core.Trigger{Type: core.XPLessonCompleted, CourseID: course, Fresh: r.snapshot()})
	return res, nil
}

// LoginResult reports the streak state after a login.
type LoginResult struct {
	AlreadyRecorded bool           `json:"already_recorded"`
	CurrentStreak   int            `json:"current_streak"`
	LongestStreak   int            `json:"longest_streak"`
	XPAwarded       int64          `json:"xp_awarded"`
	Badges          []AwardedBadge `json:"badges"`
}

// RecordLogin counts one active day. Logins on consecutive UTC days extend the
// streak, a gap resets it to 1, and repeat logins on the same day do nothing.
func (e *Engine) RecordLogin(ctx context.Context, user core.UserID, at time.Time) (LoginResult, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return LoginResult{}, err
	}
	if at.IsZero() {
		at = e.now()
	}
	today := core.Day(at)
	rules := e.LevelRules(ctx)

	current, err := e.loadStats(ctx, normalized, rules)
	if err != nil {
		return LoginResult{}, err
	}
	if current.LastActivityDate != nil && !today.After(core.Day(*current.LastActivityDate)) {
		return LoginResult{
			AlreadyRecorded: true,
			CurrentStreak:   current.CurrentStreak,
			LongestStreak:   current.LongestStreak,
			Badges:          []AwardedBadge{},
		}, nil
	}

	_, after, err := e.modifyStats(ctx, normalized, rules, func(st *core.StatsAggregate) {
		if st.LastActivityDate != nil && core.Day(*st.LastActivityDate).Equal(today.AddDate(0, 0, -1)) {
			st.CurrentStreak++
		} else {
			st.CurrentStreak = 1
		}
		if st.CurrentStreak > st.LongestStreak {
			st.LongestStreak = st.CurrentStreak
		}
		day := today
		st.LastActivityDate = &day
	})
	if err != nil {
		return LoginResult{}, err
	}

	res := LoginResult{CurrentStreak: after.CurrentStreak, LongestStreak: after.LongestStreak, Badges: []AwardedBadge{}}
	meta := map[string]any{"day": today.Format(time.DateOnly), "streak": after.CurrentStreak}
	r, err := e.award(ctx, normalized, core.XPDailyLogin, e.xp.DailyLogin, "Daily login", meta, rules)
	if err != nil {
		e.log.Warn("daily login xp award failed", "user_id", normalized, "error", err)
	} else {
		res.XPAwarded += r.AppliedAmount
	}
	fresh := r.snapshot()
	if every := e.xp.StreakBonusEvery; every > 0 && after.CurrentStreak%every == 0 {
		desc := fmt.Sprintf("%d day streak", after.CurrentStreak)
		if rb, err := e.award(ctx, normalized, core.XPStreakBonus, e.xp.StreakBonus, desc, meta, rules); err != nil {
			e.log.Warn("streak bonus award failed", "user_id", normalized, "streak", after.CurrentStreak, "error", err)
		} else {
			res.XPAwarded += rb.AppliedAmount
			fresh = pick(fresh, rb.snapshot())
		}
	}
	res.Badges = e.evaluateQuietly(ctx, normalized, rules, core.Trigger{Type: core.XPDailyLogin, Fresh: fresh})
	return res, nil
}

// evaluateQuietly runs a single badge evaluation, logging rather than returning failures.
func (e *Engine) evaluateQuietly(ctx context.Context, user core.UserID, rules core.LevelRules, trigger core.Trigger) []AwardedBadge {
	run, err := e.newBadgeRun(ctx, user, rules)
	if err != nil {
		e.log.Warn("badge evaluation skipped", "user_id", user, "trigger", trigger.Type, "error", err)
		return []AwardedBadge{}
	}
	awarded, err := e.evaluate(ctx, run, trigger)
	if err != nil {
		e.log.Warn("badge evaluation failed", "user_id", user, "trigger", trigger.Type, "error", err)
		return []AwardedBadge{}
	}
	return awarded
}
