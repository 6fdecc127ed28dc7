package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"learnkit/core"
	"learnkit/leaderboard"
)

type experienceRow struct {
	core.ExperienceEvent
	ContextJSON sql.NullString `db:"context"`
}

// Ledger

func (s *Store) AppendExperience(ctx context.Context, ev core.ExperienceEvent) error {
	var raw sql.NullString
	if len(ev.Context) > 0 {
		b, err := json.Marshal(ev.Context)
		if err != nil {
			return fmt.Errorf("encode context: %w", err)
		}
		raw = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO experience_events (id, user_id, event_type, amount, description, context, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.UserID, ev.Type, ev.Amount, ev.Description, raw, ev.CreatedAt)
	return mapErr(err, "append experience")
}

func (s *Store) SumExperience(ctx context.Context, user core.UserID) (int64, error) {
	var total sql.NullInt64
	err := s.db.GetContext(ctx, &total, s.q(`SELECT SUM(amount) FROM experience_events WHERE user_id = ?`), user)
	if err != nil {
		return 0, mapErr(err, "sum experience")
	}
	return total.Int64, nil
}

func (s *Store) ListExperience(ctx context.Context, user core.UserID) ([]core.ExperienceEvent, error) {
	var rows []experienceRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT id, user_id, event_type, amount, description, context, created_at FROM experience_events WHERE user_id = ? ORDER BY created_at, id`), user)
	if err != nil {
		return nil, mapErr(err, "list experience")
	}
	out := make([]core.ExperienceEvent, 0, len(rows))
	for _, r := range rows {
		ev := r.ExperienceEvent
		if r.ContextJSON.Valid && r.ContextJSON.String != "" {
			if err := json.Unmarshal([]byte(r.ContextJSON.String), &ev.Context); err != nil {
				return nil, fmt.Errorf("decode context of %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

// Stats

const statsColumns = `user_id, current_level, total_xp, xp_to_next_level, total_badges, current_streak, longest_streak, last_activity_date, updated_at`

func (s *Store) GetStats(ctx context.Context, user core.UserID) (core.StatsAggregate, error) {
	var st core.StatsAggregate
	err := s.db.GetContext(ctx, &st, s.q(`SELECT `+statsColumns+` FROM user_stats WHERE user_id = ?`), user)
	if err != nil {
		return core.StatsAggregate{}, mapErr(err, "get stats")
	}
	return st, nil
}

func (s *Store) UpsertStats(ctx context.Context, st core.StatsAggregate) error {
	query := `INSERT INTO user_stats (` + statsColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) `
	if s.driver == DriverMySQL {
		query += `ON DUPLICATE KEY UPDATE current_level = VALUES(current_level), total_xp = VALUES(total_xp),
			xp_to_next_level = VALUES(xp_to_next_level), total_badges = VALUES(total_badges),
			current_streak = VALUES(current_streak), longest_streak = VALUES(longest_streak),
			last_activity_date = VALUES(last_activity_date), updated_at = VALUES(updated_at)`
	} else {
		query += `ON CONFLICT (user_id) DO UPDATE SET current_level = excluded.current_level, total_xp = excluded.total_xp,
			xp_to_next_level = excluded.xp_to_next_level, total_badges = excluded.total_badges,
			current_streak = excluded.current_streak, longest_streak = excluded.longest_streak,
			last_activity_date = excluded.last_activity_date, updated_at = excluded.updated_at`
	}
	_, err := s.db.ExecContext(ctx, s.q(query),
		st.UserID, st.CurrentLevel, st.TotalXP, st.XPToNextLevel, st.TotalBadges,
		st.CurrentStreak, st.LongestStreak, st.LastActivityDate, st.UpdatedAt)
	return mapErr(err, "upsert stats")
}

func (s *Store) ListStatsUsers(ctx context.Context) ([]core.UserID, error) {
	var users []core.UserID
	if err := s.db.SelectContext(ctx, &users, `SELECT user_id FROM user_stats ORDER BY user_id`); err != nil {
		return nil, mapErr(err, "list stats users")
	}
	return users, nil
}

// Top returns up to n users by total XP, highest first.
func (s *Store) Top(ctx context.Context, n int) ([]leaderboard.Entry, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive", core.ErrValidation)
	}
	var rows []struct {
		UserID  core.UserID `db:"user_id"`
		TotalXP int64       `db:"total_xp"`
	}
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT user_id, total_xp FROM user_stats ORDER BY total_xp DESC, user_id LIMIT ?`), n)
	if err != nil {
		return nil, mapErr(err, "leaderboard")
	}
	out := make([]leaderboard.Entry, len(rows))
	for i, r := range rows {
		out[i] = leaderboard.Entry{User: r.UserID, TotalXP: r.TotalXP, Rank: i + 1}
	}
	return out, nil
}

// Badges

func (s *Store) InsertBadgeOwnership(ctx context.Context, o core.BadgeOwnership) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO user_badges (user_id, badge_id, unlocked_at) VALUES (?, ?, ?)`),
		o.UserID, o.BadgeID, o.UnlockedAt)
	return mapErr(err, "insert badge ownership")
}

func (s *Store) ListBadgeOwnership(ctx context.Context, user core.UserID) ([]core.BadgeOwnership, error) {
	var out []core.BadgeOwnership
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT user_id, badge_id, unlocked_at FROM user_badges WHERE user_id = ? ORDER BY unlocked_at, badge_id`), user)
	if err != nil {
		return nil, mapErr(err, "list badge ownership")
	}
	return out, nil
}

func (s *Store) CountBadges(ctx context.Context, user core.UserID) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM user_badges WHERE user_id = ?`), user); err != nil {
		return 0, mapErr(err, "count badges")
	}
	return n, nil
}

// Certificates

const certificateColumns = `id, user_id, course_id, certificate_number, issued_at`

func (s *Store) GetCertificate(ctx context.Context, user core.UserID, course core.CourseID) (core.Certificate, error) {
	var c core.Certificate
	err := s.db.GetContext(ctx, &c, s.q(`SELECT `+certificateColumns+` FROM certificates WHERE user_id = ? AND course_id = ?`), user, course)
	if err != nil {
		return core.Certificate{}, mapErr(err, "get certificate")
	}
	return c, nil
}

func (s *Store) InsertCertificate(ctx context.Context, c core.Certificate) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO certificates (`+certificateColumns+`) VALUES (?, ?, ?, ?, ?)`),
		c.ID, c.UserID, c.CourseID, c.Number, c.IssuedAt)
	return mapErr(err, "insert certificate")
}

func (s *Store) ListCertificates(ctx context.Context, user core.UserID) ([]core.Certificate, error) {
	var out []core.Certificate
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT `+certificateColumns+` FROM certificates WHERE user_id = ? ORDER BY issued_at`), user)
	if err != nil {
		return nil, mapErr(err, "list certificates")
	}
	return out, nil
}

func (s *Store) CountCertificates(ctx context.Context, user core.UserID) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM certificates WHERE user_id = ?`), user); err != nil {
		return 0, mapErr(err, "count certificates")
	}
	return n, nil
}

// Attempts

func (s *Store) InsertAttempt(ctx context.Context, a core.QuizAttempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO quiz_attempts (id, user_id, course_id, module_id, score, passed, answers, correct_count, total_questions, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.UserID, a.CourseID, a.ModuleID, a.Score, a.Passed, string(answers), a.CorrectCount, a.TotalQuestions, a.CompletedAt)
	return mapErr(err, "insert attempt")
}

func (s *Store) CountPassedAttempts(ctx context.Context, user core.UserID) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM quiz_attempts WHERE user_id = ? AND passed = ?`), user, true); err != nil {
		return 0, mapErr(err, "count passed attempts")
	}
	return n, nil
}

// Enrollments

// CompleteEnrollment marks the enrollment finished, creating it if the user was never enrolled.
// An existing completion time is kept.
func (s *Store) CompleteEnrollment(ctx context.Context, user core.UserID, course core.CourseID, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(`UPDATE enrollments SET progress_percent = 100, completed_at = COALESCE(completed_at, ?) WHERE user_id = ? AND course_id = ?`), at, user, course)
	if err != nil {
		return mapErr(err, "complete enrollment")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// A concurrent completion may insert the row first; that insert is a no-op.
		query := `INSERT INTO enrollments (user_id, course_id, progress_percent, completed_at) VALUES (?, ?, 100, ?) `
		if s.driver == DriverMySQL {
			query += `ON DUPLICATE KEY UPDATE user_id = user_id`
		} else {
			query += `ON CONFLICT (user_id, course_id) DO NOTHING`
		}
		if _, err := tx.ExecContext(ctx, s.q(query), user, course, at); err != nil {
			return mapErr(err, "insert enrollment")
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) CountCompletedCourses(ctx context.Context, user core.UserID) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM enrollments WHERE user_id = ? AND completed_at IS NOT NULL`), user); err != nil {
		return 0, mapErr(err, "count completed courses")
	}
	return n, nil
}

// Lessons

func (s *Store) InsertLessonCompletion(ctx context.Context, lc core.LessonCompletion) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO lesson_completions (user_id, lesson_id, course_id, completed_at) VALUES (?, ?, ?, ?)`),
		lc.UserID, lc.LessonID, lc.CourseID, lc.CompletedAt)
	return mapErr(err, "insert lesson completion")
}

func (s *Store) CountCompletedLessons(ctx context.Context, user core.UserID) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM lesson_completions WHERE user_id = ?`), user); err != nil {
		return 0, mapErr(err, "count completed lessons")
	}
	return n, nil
}

// Course content and directories

func (s *Store) Questions(ctx context.Context, moduleID string) ([]core.Question, error) {
	var out []core.Question
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT id, correct_answer FROM questions WHERE module_id = ? ORDER BY position, id`), moduleID)
	if err != nil {
		return nil, mapErr(err, "list questions")
	}
	return out, nil
}

func (s *Store) GraduationModule(ctx context.Context, course core.CourseID) (string, error) {
	var module sql.NullString
	err := s.db.GetContext(ctx, &module, s.q(`SELECT graduation_module_id FROM courses WHERE id = ?`), course)
	if err != nil {
		return "", mapErr(err, "graduation module")
	}
	if !module.Valid || module.String == "" {
		return "", fmt.Errorf("graduation module: %w", core.ErrNotFound)
	}
	return module.String, nil
}

func (s *Store) LookupUser(ctx context.Context, user core.UserID) (core.UserProfile, error) {
	var p struct {
		ID    string `db:"id"`
		Name  string `db:"name"`
		Email string `db:"email"`
	}
	if err := s.db.GetContext(ctx, &p, s.q(`SELECT id, name, email FROM users WHERE id = ?`), user); err != nil {
		return core.UserProfile{}, mapErr(err, "lookup user")
	}
	return core.UserProfile{UserID: core.UserID(p.ID), Name: p.Name, Email: p.Email}, nil
}

// Configuration

func (s *Store) Catalog(ctx context.Context) (core.Catalog, error) {
	var badges []core.Badge
	err := s.db.SelectContext(ctx, &badges, `SELECT id, slug, title, description, rarity, requirement_type, requirement_value, active FROM badges ORDER BY position, id`)
	if err != nil {
		return core.Catalog{}, mapErr(err, "load badges")
	}
	var bonuses []struct {
		Rarity  core.Rarity `db:"rarity"`
		BonusXP int64       `db:"bonus_xp"`
	}
	if err := s.db.SelectContext(ctx, &bonuses, `SELECT rarity, bonus_xp FROM rarity_bonuses`); err != nil {
		return core.Catalog{}, mapErr(err, "load rarity bonuses")
	}
	cat := core.Catalog{Version: "sql", Badges: badges}
	if len(bonuses) > 0 {
		cat.RarityBonus = make(map[core.Rarity]int64, len(bonuses))
		for _, b := range bonuses {
			cat.RarityBonus[b.Rarity] = b.BonusXP
		}
	}
	return cat, nil
}

func (s *Store) LevelRules(ctx context.Context) (core.LevelRules, bool, error) {
	var r core.LevelRules
	err := s.db.QueryRowxContext(ctx, `SELECT version, base_xp, growth_factor, max_level FROM level_rules WHERE id = 1`).
		Scan(&r.Version, &r.BaseXP, &r.GrowthFactor, &r.MaxLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LevelRules{}, false, nil
	}
	if err != nil {
		return core.LevelRules{}, false, mapErr(err, "load level rules")
	}
	return r, true, nil
}
