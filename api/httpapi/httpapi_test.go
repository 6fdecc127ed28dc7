package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "learnkit/adapters/memory"
	"learnkit/analytics"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/leaderboard"
)

const course = "go-101"

type testEnv struct {
	store   *mem.Store
	eng     *engine.Engine
	board   *leaderboard.SkipList
	handler http.Handler
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	store := mem.New()
	store.SetGraduationModule(course, "go-101-final")
	store.Enroll("alice", course)
	return newTestEnvWithStore(t, store, store, opts)
}

func newTestEnvWithStore(t *testing.T, store *mem.Store, wrapped engine.Storage, opts Options) *testEnv {
	t.Helper()
	eng := engine.NewEngine(wrapped, engine.NewEventBus(engine.DispatchSync), engine.Options{})
	t.Cleanup(eng.Close)
	board := leaderboard.NewSkipList()
	leaderboard.Track(eng, board)
	if opts.Ranking == nil {
		opts.Ranking = board
	}
	if opts.PathPrefix == "" {
		opts.PathPrefix = "/api"
	}
	return &testEnv{store: store, eng: eng, board: board, handler: NewMux(eng, nil, opts)}
}

func (e *testEnv) do(method, path, user, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSubmitQuizSuccess(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/api/quiz-submissions", "alice", `{"course_id":"go-101","user_id":"alice","score":80}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[engine.SubmissionResult](t, rec)
	assert.True(t, res.Passed)
	assert.Equal(t, int64(50), res.XPAwarded)
	require.NotNil(t, res.Certificate)
	assert.Equal(t, core.CourseID(course), res.Certificate.CourseID)

	rec = env.do(http.MethodGet, "/api/users/alice/certificates", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.Certificate](t, rec), 1)
}

func TestSubmitQuizValidation(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/api/quiz-submissions", "alice", `{"user_id":"alice","score":120}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[apiError](t, rec)
	assert.Equal(t, "validation_failed", body.Code)
	fields, ok := body.Details.([]any)
	require.True(t, ok)
	assert.Len(t, fields, 2)

	rec = env.do(http.MethodPost, "/api/quiz-submissions", "alice", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/quiz-submissions", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/quiz-submissions", "alice", `{"course_id":"   ","user_id":"alice","score":80}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode[apiError](t, rec).Code)
}

func TestSubmitQuizIdentity(t *testing.T) {
	env := newTestEnv(t, Options{})
	body := `{"course_id":"go-101","user_id":"alice","score":80}`

	rec := env.do(http.MethodPost, "/api/quiz-submissions", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/quiz-submissions", "mallory", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, env.store.Attempts("alice"))
}

func TestSubmitQuizUnknownCourse(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodPost, "/api/quiz-submissions", "alice", `{"course_id":"nope","user_id":"alice","score":80}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingAttempts struct {
	*mem.Store
}

func (f failingAttempts) InsertAttempt(context.Context, core.QuizAttempt) error {
	return errors.New("disk full")
}

func TestSubmitQuizAttemptNotRecorded(t *testing.T) {
	store := mem.New()
	store.SetGraduationModule(course, "go-101-final")
	env := newTestEnvWithStore(t, store, failingAttempts{store}, Options{})

	rec := env.do(http.MethodPost, "/api/quiz-submissions", "alice", `{"course_id":"go-101","user_id":"alice","score":80}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "attempt_not_recorded", decode[apiError](t, rec).Code)
}

func TestCompleteLesson(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/api/users/alice/lessons/intro-1/complete?course_id=go-101", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[engine.LessonResult](t, rec)
	assert.Equal(t, int64(10), first.XPAwarded)

	rec = env.do(http.MethodPost, "/api/users/alice/lessons/intro-1/complete?course_id=go-101", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[engine.LessonResult](t, rec).AlreadyCompleted)

	rec = env.do(http.MethodPost, "/api/users/alice/lessons/intro-1/complete", "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecordLogin(t *testing.T) {
	day := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	env := newTestEnv(t, Options{Clock: func() time.Time { return day }})

	rec := env.do(http.MethodPost, "/api/users/alice/logins", "Alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[engine.LoginResult](t, rec)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, int64(5), res.XPAwarded)

	rec = env.do(http.MethodPost, "/api/users/alice/logins", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[engine.LoginResult](t, rec).AlreadyRecorded)
}

func TestAdjustments(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/api/users/alice/adjustments", "alice", `{"amount":100,"reason":"refund"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/api/users/alice/adjustments", "ops", `{"amount":100}`, HeaderUserRole, RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/users/alice/adjustments", "ops", `{"amount":100,"reason":"migration"}`, HeaderUserRole, RoleAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(100), decode[engine.AwardResult](t, rec).NewTotal)

	rec = env.do(http.MethodGet, "/api/users/alice/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[core.StatsAggregate](t, rec)
	assert.Equal(t, int64(100), st.TotalXP)
	assert.Equal(t, 2, st.CurrentLevel)

	rec = env.do(http.MethodGet, "/api/users/alice/experience", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]core.ExperienceEvent](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, core.XPAdminAdjustment, events[0].Type)
}

func TestReadsForNewUser(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodGet, "/api/users/newbie/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[core.StatsAggregate](t, rec)
	assert.Equal(t, 1, st.CurrentLevel)
	assert.Zero(t, st.TotalXP)

	rec = env.do(http.MethodGet, "/api/users/newbie/badges", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = env.do(http.MethodGet, "/api/users/%20/stats", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	_, err := env.eng.Award(ctx, "alice", core.XPQuizPassed, 50, "quiz", nil)
	require.NoError(t, err)
	_, err = env.eng.Award(ctx, "bob", core.XPQuizPassed, 75, "quiz", nil)
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/leaderboard?limit=1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	top := decode[[]leaderboard.Entry](t, rec)
	require.Len(t, top, 1)
	assert.Equal(t, core.UserID("bob"), top[0].User)

	rec = env.do(http.MethodGet, "/api/leaderboard?limit=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyticsSummary(t *testing.T) {
	metrics := analytics.NewMetrics()
	env := newTestEnv(t, Options{Metrics: metrics})
	analytics.Attach(env.eng, metrics)

	rec := env.do(http.MethodPost, "/api/quiz-submissions", "alice", `{"course_id":"go-101","user_id":"alice","score":100}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/analytics/summary", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[analytics.Summary](t, rec)
	assert.Equal(t, int64(1), s.QuizzesSubmitted)
	assert.Equal(t, int64(1), s.CourseCompletions[course])
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodGet, "/api/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodGet, "/api/nothing-here", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = env.do(http.MethodDelete, "/api/users/alice/stats", "", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t, Options{APIKeys: []string{"secret"}, AllowCORSOrigin: "*"})

	rec := env.do(http.MethodGet, "/api/users/alice/stats", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/users/alice/stats", "", "", "Authorization", "Bearer secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = env.do(http.MethodOptions, "/api/users/alice/stats", "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	rec1 := env.do(http.MethodGet, "/api/users/alice/stats", "", "", "X-API-Key", "k")
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected 200 first request, got %d", rec1.Code)
	}

	rec2 := env.do(http.MethodGet, "/api/users/alice/stats", "", "", "X-API-Key", "k")
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec2.Code)
	}
}
