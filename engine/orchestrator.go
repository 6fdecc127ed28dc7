package engine

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/google/uuid"

	"learnkit/core"
)

// SubmitQuizRequest is the inbound quiz submission.
type SubmitQuizRequest struct {
	CourseID core.CourseID `json:"course_id" validate:"required,notblank"`
	UserID   core.UserID   `json:"user_id" validate:"required,notblank"`
	// Score is trusted only when the graduation module has no question bank.
	Score        *float64 `json:"score" validate:"required,gte=0,lte=100"`
	Passed       *bool    `json:"passed,omitempty"`
	Answers      []int    `json:"answers,omitempty"`
	PassingScore *float64 `json:"passing_score,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// SubmissionResult is what the submitter learns once the attempt is recorded.
type SubmissionResult struct {
	AttemptID      string            `json:"attempt_id"`
	Score          float64           `json:"score"`
	Passed         bool              `json:"passed"`
	CorrectCount   int               `json:"correct_count"`
	TotalQuestions int               `json:"total_questions"`
	XPAwarded      int64             `json:"xp_awarded"`
	Certificate    *core.Certificate `json:"certificate"`
	Badges         []AwardedBadge    `json:"badges"`
}

type scoring struct {
	moduleID string
	score    float64
	passed   bool
	perfect  bool
	correct  int
	total    int
}

// SubmitQuiz scores a graduation quiz, records the attempt and, when passed,
// completes the course and runs every reward. Once the attempt is recorded the
// result is always returned; later step failures are logged and count as absent.
func (e *Engine) SubmitQuiz(ctx context.Context, caller core.UserID, req SubmitQuizRequest) (SubmissionResult, error) {
	if err := e.validateStruct(req); err != nil {
		return SubmissionResult{}, err
	}
	user, err := core.NormalizeUserID(req.UserID)
	if err != nil {
		return SubmissionResult{}, err
	}
	caller, err = core.NormalizeUserID(caller)
	if err != nil {
		return SubmissionResult{}, err
	}
	if caller != user {
		return SubmissionResult{}, fmt.Errorf("%w: cannot submit a quiz for another user", core.ErrForbidden)
	}
	course := core.CourseID(strings.TrimSpace(string(req.CourseID)))
	log := e.log.With("user_id", user, "course_id", course)

	sc, err := e.score(ctx, course, req)
	if err != nil {
		return SubmissionResult{}, err
	}

	attempt := core.QuizAttempt{
		ID:             uuid.NewString(),
		UserID:         user,
		CourseID:       course,
		ModuleID:       sc.moduleID,
		Score:          sc.score,
		Passed:         sc.passed,
		Answers:        req.Answers,
		CorrectCount:   sc.correct,
		TotalQuestions: sc.total,
		CompletedAt:    e.now(),
	}
	if err := e.store.InsertAttempt(ctx, attempt); err != nil {
		return SubmissionResult{}, fmt.Errorf("%w: %v", core.ErrAttemptNotRecorded, err)
	}
	log.Info("quiz attempt recorded", "attempt_id", attempt.ID, "score", sc.score, "passed", sc.passed)
	e.bus.Publish(ctx, core.NewQuizSubmitted(attempt))

	res := SubmissionResult{
		AttemptID:      attempt.ID,
		Score:          sc.score,
		Passed:         sc.passed,
		CorrectCount:   sc.correct,
		TotalQuestions: sc.total,
		Badges:         []AwardedBadge{},
	}
	rules := e.LevelRules(ctx)

	if sc.passed {
		if err := e.store.CompleteEnrollment(ctx, user, course, e.now()); err != nil {
			log.Warn("enrollment completion failed", "step", "completing", "error", err)
		}
	}

	var fresh *core.Snapshot
	if sc.passed {
		meta := map[string]any{"course_id": string(course), "attempt_id": attempt.ID, "score": sc.score}
		if r, err := e.award(ctx, user, core.XPQuizPassed, e.xp.QuizPassed, "Passed quiz for course "+string(course), meta, rules); err != nil {
			log.Warn("quiz xp award failed", "step", "awarding_xp", "error", err)
		} else {
			res.XPAwarded += r.AppliedAmount
			fresh = pick(fresh, r.snapshot())
		}
		if sc.perfect {
			if r, err := e.award(ctx, user, core.XPPerfectScore, e.xp.PerfectScore, "Perfect score for course "+string(course), meta, rules); err != nil {
				log.Warn("perfect score xp award failed", "step", "awarding_xp", "error", err)
			} else {
				res.XPAwarded += r.AppliedAmount
				fresh = pick(fresh, r.snapshot())
			}
		}
	}

	if run, err := e.newBadgeRun(ctx, user, rules); err != nil {
		log.Warn("badge evaluation skipped", "step", "checking_badges", "error", err)
	} else {
		triggers := []core.Trigger{{Type: core.XPQuizPassed, CourseID: course, PerfectScore: sc.passed && sc.perfect, Fresh: fresh}}
		if sc.passed {
			triggers = append(triggers, core.Trigger{Type: core.XPCourseCompleted, CourseID: course, PerfectScore: sc.perfect, Fresh: fresh})
		}
		for _, t := range triggers {
			awarded, err := e.evaluate(ctx, run, t)
			if err != nil {
				log.Warn("badge evaluation failed", "step", "checking_badges", "trigger", t.Type, "error", err)
				continue
			}
			res.Badges = append(res.Badges, awarded...)
		}
	}

	var newCert bool
	if sc.passed {
		issued, err := e.IssueCertificate(ctx, user, course)
		if err != nil {
			log.Warn("certificate issuance failed", "step", "issuing_certificate", "error", err)
		} else {
			cert := issued.Certificate
			res.Certificate = &cert
			newCert = !issued.AlreadyExisted
		}
	}

	e.notify(ctx, user, course, sc.passed, res, newCert)
	return res, nil
}

// score resolves the graduation module and grades the answers against its bank.
// Without a bank the caller's score is trusted.
func (e *Engine) score(ctx context.Context, course core.CourseID, req SubmitQuizRequest) (scoring, error) {
	moduleID, err := e.store.GraduationModule(ctx, course)
	if errors.Is(err, core.ErrNotFound) {
		return scoring{}, fmt.Errorf("%w: course %s has no graduation module", core.ErrNotFound, course)
	}
	if err != nil {
		return scoring{}, fmt.Errorf("resolve graduation module: %w", err)
	}

	threshold := e.passingScore
	if req.PassingScore != nil {
		threshold = *req.PassingScore
	}

	questions, err := e.store.Questions(ctx, moduleID)
	if err != nil {
		e.log.Warn("question bank unavailable, trusting submitted score", "module_id", moduleID, "error", err)
		questions = nil
	}
	if len(questions) == 0 {
		sc := scoring{moduleID: moduleID, score: *req.Score}
		if req.Passed != nil {
			sc.passed = *req.Passed
		} else {
			sc.passed = sc.score >= threshold
		}
		sc.perfect = sc.score >= 100
		return sc, nil
	}

	correct := 0
	for i, q := range questions {
		if i < len(req.Answers) && req.Answers[i] == q.CorrectAnswer {
			correct++
		}
	}
	score := math.Round(float64(correct) * 100 / float64(len(questions)))
	return scoring{
		moduleID: moduleID,
		score:    score,
		passed:   score >= threshold,
		perfect:  correct == len(questions),
		correct:  correct,
		total:    len(questions),
	}, nil
}

// pick keeps the later of two snapshots.
func pick(cur, next *core.Snapshot) *core.Snapshot {
	if next == nil {
		return cur
	}
	return next
}

// notify dispatches side effects. Nothing here can fail the submission.
func (e *Engine) notify(ctx context.Context, user core.UserID, course core.CourseID, passed bool, res SubmissionResult, newCert bool) {
	if passed {
		ev := core.NewCourseCompleted(user, course)
		e.safely(ctx, "publish_course_completed", func(ctx context.Context) error {
			e.bus.Publish(ctx, ev)
			return nil
		})
		for _, b := range e.broadcasters {
			b := b
			e.safely(ctx, "broadcast", func(ctx context.Context) error { return b.Broadcast(ctx, ev) })
		}
	}

	var rare []AwardedBadge
	for _, ab := range res.Badges {
		if ab.Badge.Rarity.Rank() >= core.RarityRare.Rank() {
			rare = append(rare, ab)
		}
	}
	if e.mailer == nil || (!newCert && len(rare) == 0) {
		return
	}

	var profile core.UserProfile
	ok := e.safely(ctx, "lookup_user", func(ctx context.Context) error {
		p, err := e.store.LookupUser(ctx, user)
		profile = p
		return err
	})
	if !ok || profile.Email == "" {
		return
	}
	if newCert && res.Certificate != nil {
		msg := certificateEmail(profile, *res.Certificate)
		e.safely(ctx, "email_certificate", func(ctx context.Context) error { return e.mailer.Send(ctx, msg) })
	}
	for _, ab := range rare {
		msg := badgeEmail(profile, ab)
		e.safely(ctx, "email_badge", func(ctx context.Context) error { return e.mailer.Send(ctx, msg) })
	}
}

// safely runs fn, logging and swallowing both errors and panics. It reports success.
func (e *Engine) safely(ctx context.Context, step string, fn func(context.Context) error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("side effect panicked", "step", step, "panic", r)
			ok = false
		}
	}()
	if err := fn(ctx); err != nil {
		e.log.Warn("side effect failed", "step", step, "error", err)
		return false
	}
	return true
}

func certificateEmail(p core.UserProfile, cert core.Certificate) core.Email {
	body := fmt.Sprintf("Congratulations %s! You completed course %s. Certificate number: %s.", displayName(p), cert.CourseID, cert.Number)
	return core.Email{
		To:      p.Email,
		ToName:  p.Name,
		Subject: "Your certificate is ready",
		Text:    body,
		HTML:    "<p>" + html.EscapeString(body) + "</p>",
	}
}

func badgeEmail(p core.UserProfile, ab AwardedBadge) core.Email {
	body := fmt.Sprintf("Well done %s! You earned the %s badge \"%s\" (+%d XP).", displayName(p), ab.Badge.Rarity, ab.Badge.Title, ab.BonusXP)
	return core.Email{
		To:      p.Email,
		ToName:  p.Name,
		Subject: "New badge: " + ab.Badge.Title,
		Text:    body,
		HTML:    "<p>" + html.EscapeString(body) + "</p>",
	}
}

func displayName(p core.UserProfile) string {
	if p.Name != "" {
		return p.Name
	}
	return string(p.UserID)
}
