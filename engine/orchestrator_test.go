package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "learnkit/adapters/memory"
	"learnkit/core"
)

const (
	course = core.CourseID("go-101")
	module = "go-101-final"
)

func courseFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := newFixture(t, opts)
	f.store.SetGraduationModule(course, module)
	f.store.Enroll("alice", course)
	return f
}

func submit(score float64, passed *bool) SubmitQuizRequest {
	return SubmitQuizRequest{CourseID: course, UserID: "alice", Score: float(score), Passed: passed}
}

func TestSubmitPassedQuizFromZero(t *testing.T) {
	f := courseFixture(t, Options{})
	ctx := context.Background()

	res, err := f.eng.SubmitQuiz(ctx, "alice", submit(80, boolean(true)))
	require.NoError(t, err)
	assert.NotEmpty(t, res.AttemptID)
	assert.True(t, res.Passed)
	assert.Equal(t, 80.0, res.Score)
	assert.Equal(t, int64(50), res.XPAwarded)
	require.NotNil(t, res.Certificate)
	assert.Equal(t, course, res.Certificate.CourseID)
	assert.NotNil(t, res.Badges)

	st, err := f.eng.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentLevel)
	assert.Equal(t, int64(50), st.XPToNextLevel)

	en, ok := f.store.Enrollment("alice", course)
	require.True(t, ok)
	assert.Equal(t, 100.0, en.ProgressPercent)
	assert.NotNil(t, en.CompletedAt)
	assert.Equal(t, 1, f.count(core.EventCourseCompleted))
	assert.Equal(t, 1, f.count(core.EventQuizSubmitted))
}

func TestSubmitPerfectScoreAwardsBothBonusesOnce(t *testing.T) {
	f := courseFixture(t, Options{})

	res, err := f.eng.SubmitQuiz(context.Background(), "alice", submit(100, boolean(true)))
	require.NoError(t, err)
	assert.Equal(t, int64(75), res.XPAwarded)
	assert.Len(t, f.ledger(t, "alice", core.XPQuizPassed), 1)
	assert.Len(t, f.ledger(t, "alice", core.XPPerfectScore), 1)
}

func TestSubmitFailedQuizNeverCompletes(t *testing.T) {
	f := courseFixture(t, Options{})
	f.store.SetCatalog(core.Catalog{Badges: []core.Badge{
		{ID: "grad", Slug: "first-course", Title: "Graduate", Rarity: core.RarityRare, RequirementType: core.ReqCoursesCompleted, RequirementValue: 1, Active: true},
		{ID: "cert", Slug: "first-certificate", Title: "Certified", Rarity: core.RarityRare, Active: true},
	}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := f.eng.SubmitQuiz(ctx, "alice", submit(30, boolean(false)))
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Nil(t, res.Certificate)
		assert.Zero(t, res.XPAwarded)
		assert.Empty(t, res.Badges)
	}

	assert.Len(t, f.store.Attempts("alice"), 2)
	n, err := f.store.CountCertificates(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
	owned, err := f.store.ListBadgeOwnership(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, owned)
	en, _ := f.store.Enrollment("alice", course)
	assert.Nil(t, en.CompletedAt)
	assert.Zero(t, f.count(core.EventCourseCompleted))
}

func TestSubmitDegradedPassedDerivedFromThreshold(t *testing.T) {
	f := courseFixture(t, Options{})
	ctx := context.Background()

	res, err := f.eng.SubmitQuiz(ctx, "alice", submit(60, nil))
	require.NoError(t, err)
	assert.True(t, res.Passed)

	req := submit(65, nil)
	req.PassingScore = float(70)
	res, err = f.eng.SubmitQuiz(ctx, "alice", req)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestSubmitScoresAgainstQuestionBank(t *testing.T) {
	f := courseFixture(t, Options{})
	f.store.SetQuestions(module, []core.Question{
		{ID: "q1", CorrectAnswer: 1},
		{ID: "q2", CorrectAnswer: 0},
		{ID: "q3", CorrectAnswer: 2},
	})
	ctx := context.Background()

	// The caller's score and flag are ignored when a bank exists.
	req := submit(100, boolean(true))
	req.Answers = []int{1, 0, 0}
	res, err := f.eng.SubmitQuiz(ctx, "alice", req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CorrectCount)
	assert.Equal(t, 3, res.TotalQuestions)
	assert.Equal(t, 67.0, res.Score)
	assert.True(t, res.Passed)
	assert.Equal(t, int64(50), res.XPAwarded)

	req.Answers = []int{1}
	res, err = f.eng.SubmitQuiz(ctx, "alice", req)
	require.NoError(t, err)
	assert.Equal(t, 33.0, res.Score)
	assert.False(t, res.Passed)

	req.Answers = []int{1, 0, 2}
	res, err = f.eng.SubmitQuiz(ctx, "alice", req)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Score)
	assert.Equal(t, int64(75), res.XPAwarded)

	attempts := f.store.Attempts("alice")
	require.Len(t, attempts, 3)
	assert.Equal(t, module, attempts[0].ModuleID)
	assert.Equal(t, []int{1, 0, 0}, attempts[0].Answers)
}

func TestSubmitWithoutGraduationModuleIsFatal(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.eng.SubmitQuiz(context.Background(), "alice", submit(90, boolean(true)))
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, f.store.Attempts("alice"))
}

func TestSubmitValidation(t *testing.T) {
	f := courseFixture(t, Options{})
	ctx := context.Background()

	_, err := f.eng.SubmitQuiz(ctx, "alice", SubmitQuizRequest{CourseID: course, UserID: "alice"})
	require.ErrorIs(t, err, core.ErrValidation)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "score", verr.Fields[0].Field)

	_, err = f.eng.SubmitQuiz(ctx, "alice", SubmitQuizRequest{Score: float(50)})
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)

	_, err = f.eng.SubmitQuiz(ctx, "alice", submit(140, nil))
	assert.ErrorIs(t, err, core.ErrValidation)

	blank := submit(90, boolean(true))
	blank.CourseID = "   "
	_, err = f.eng.SubmitQuiz(ctx, "alice", blank)
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, FieldError{Field: "course_id", Message: "must not be blank"}, verr.Fields[0])
	assert.NotErrorIs(t, err, core.ErrNotFound)

	assert.Empty(t, f.store.Attempts("alice"))
}

func TestSubmitForAnotherUserIsForbidden(t *testing.T) {
	f := courseFixture(t, Options{})
	_, err := f.eng.SubmitQuiz(context.Background(), "mallory", submit(90, boolean(true)))
	assert.ErrorIs(t, err, core.ErrForbidden)

	// Identity comparison ignores case and surrounding space.
	_, err = f.eng.SubmitQuiz(context.Background(), " ALICE ", submit(90, boolean(true)))
	assert.NoError(t, err)
}

func TestSubmitAttemptFailureIsFatal(t *testing.T) {
	store := mem.New()
	store.SetGraduationModule(course, module)
	f := newFixtureWithStore(t, store, &faultyStore{Store: store, failAttempt: errBoom}, Options{})

	_, err := f.eng.SubmitQuiz(context.Background(), "alice", submit(90, boolean(true)))
	assert.ErrorIs(t, err, core.ErrAttemptNotRecorded)
	total, serr := store.SumExperience(context.Background(), "alice")
	require.NoError(t, serr)
	assert.Zero(t, total)
}

func TestSubmitSurvivesRewardFailures(t *testing.T) {
	store := mem.New()
	store.SetGraduationModule(course, module)
	faulty := &faultyStore{Store: store, failCatalog: errBoom, failEnrollment: errBoom}
	f := newFixtureWithStore(t, store, faulty, Options{})

	res, err := f.eng.SubmitQuiz(context.Background(), "alice", submit(90, boolean(true)))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, int64(50), res.XPAwarded)
	assert.Empty(t, res.Badges)
	assert.NotNil(t, res.Certificate)
}

func TestSubmitSurvivesNotificationPanics(t *testing.T) {
	panicky := broadcasterFunc(func(context.Context, core.Event) error { panic("socket gone") })
	failing := broadcasterFunc(func(context.Context, core.Event) error { return errBoom })
	f := courseFixture(t, Options{Broadcasters: []Broadcaster{panicky, failing}, Mailer: panickingMailer{}})
	f.store.SetUser(core.UserProfile{UserID: "alice", Name: "Alice", Email: "alice@example.com"})

	var res SubmissionResult
	var err error
	require.NotPanics(t, func() {
		res, err = f.eng.SubmitQuiz(context.Background(), "alice", submit(100, boolean(true)))
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AttemptID)
	assert.Equal(t, int64(75), res.XPAwarded)
	assert.NotNil(t, res.Certificate)
}

func TestSubmitBroadcastsCourseCompleted(t *testing.T) {
	var got []core.Event
	rec := broadcasterFunc(func(_ context.Context, ev core.Event) error {
		got = append(got, ev)
		return nil
	})
	f := courseFixture(t, Options{Broadcasters: []Broadcaster{rec}})

	_, err := f.eng.SubmitQuiz(context.Background(), "alice", submit(90, boolean(true)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.EventCourseCompleted, got[0].Type)
	assert.Equal(t, course, got[0].CourseID)
}

func TestSubmitEmailsNewCertificateAndRareBadges(t *testing.T) {
	mailer := &recordingMailer{}
	f := courseFixture(t, Options{Mailer: mailer})
	f.store.SetUser(core.UserProfile{UserID: "alice", Name: "Alice", Email: "alice@example.com"})
	f.store.SetCatalog(core.Catalog{Badges: []core.Badge{
		{ID: "quiz", Slug: "first-quiz", Title: "Quizzer", Rarity: core.RarityCommon, Active: true},
		{ID: "grad", Slug: "graduate", Title: "Graduate", Rarity: core.RarityEpic, RequirementType: core.ReqCoursesCompleted, RequirementValue: 1, Active: true},
	}})
	ctx := context.Background()

	res, err := f.eng.SubmitQuiz(ctx, "alice", submit(90, boolean(true)))
	require.NoError(t, err)
	require.Len(t, res.Badges, 2)
	assert.Equal(t, core.BadgeID("quiz"), res.Badges[0].Badge.ID)
	assert.Equal(t, core.BadgeID("grad"), res.Badges[1].Badge.ID)
	assert.Equal(t, int64(50), res.Badges[1].BonusXP)

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "Your certificate is ready", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].Text, res.Certificate.Number)
	assert.Equal(t, "New badge: Graduate", mailer.sent[1].Subject)

	// A repeat pass reuses the certificate, grants nothing new and sends nothing.
	res2, err := f.eng.SubmitQuiz(ctx, "alice", submit(95, boolean(true)))
	require.NoError(t, err)
	assert.Equal(t, res.Certificate.Number, res2.Certificate.Number)
	assert.Empty(t, res2.Badges)
	assert.Len(t, mailer.sent, 2)
}

func TestSubmitSharedOwnedSetAcrossTriggers(t *testing.T) {
	f := courseFixture(t, Options{})
	f.store.SetCatalog(core.Catalog{Badges: []core.Badge{
		{ID: "any", Slug: "first-quiz", Title: "Quizzer", Rarity: core.RarityCommon, Active: true},
	}})

	res, err := f.eng.SubmitQuiz(context.Background(), "alice", submit(90, boolean(true)))
	require.NoError(t, err)
	assert.Len(t, res.Badges, 1)
	assert.Len(t, f.ledger(t, "alice", core.XPBadgeEarned), 1)
}

func TestSubmitLevelBadgeSeesFreshLevel(t *testing.T) {
	f := courseFixture(t, Options{})
	f.store.SetCatalog(core.Catalog{Badges: []core.Badge{
		{ID: "lvl2", Slug: "level-2", Title: "Climber", Rarity: core.RarityCommon, RequirementType: core.ReqLevelReached, RequirementValue: 2, Active: true},
	}})
	ctx := context.Background()
	_, err := f.eng.Award(ctx, "alice", core.XPLessonCompleted, 60, "seed", nil)
	require.NoError(t, err)

	res, err := f.eng.SubmitQuiz(ctx, "alice", submit(80, boolean(true)))
	require.NoError(t, err)
	require.Len(t, res.Badges, 1)
	assert.Equal(t, core.BadgeID("lvl2"), res.Badges[0].Badge.ID)
}

func TestSubmitPerfectScoreBadgeOnlyOnPass(t *testing.T) {
	f := courseFixture(t, Options{})
	f.store.SetCatalog(core.Catalog{Badges: []core.Badge{
		{ID: "ace", Slug: "perfect_score", Title: "Ace", Rarity: core.RarityRare, Active: true},
	}})
	ctx := context.Background()

	res, err := f.eng.SubmitQuiz(ctx, "alice", submit(100, boolean(false)))
	require.NoError(t, err)
	assert.Empty(t, res.Badges)

	res, err = f.eng.SubmitQuiz(ctx, "alice", submit(100, boolean(true)))
	require.NoError(t, err)
	require.Len(t, res.Badges, 1)
	assert.Equal(t, core.BadgeID("ace"), res.Badges[0].Badge.ID)
}
