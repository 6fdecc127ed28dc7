package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	wsadapter "learnkit/adapters/websocket"
	"learnkit/analytics"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/leaderboard"
	"learnkit/realtime"
)

// Header names set by the upstream authentication layer.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	RoleAdmin      = "admin"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// Ranking serves the leaderboard route; nil disables it.
	Ranking Ranking
	// Metrics serves the analytics summary route; nil disables it.
	Metrics *analytics.Metrics
	// Clock stamps logins; defaults to time.Now.
	Clock func() time.Time
}

// Service is the engine surface the API exposes.
type Service interface {
	SubmitQuiz(ctx context.Context, caller core.UserID, req engine.SubmitQuizRequest) (engine.SubmissionResult, error)
	CompleteLesson(ctx context.Context, user core.UserID, lessonID string, course core.CourseID) (engine.LessonResult, error)
	RecordLogin(ctx context.Context, user core.UserID, at time.Time) (engine.LoginResult, error)
	AdjustExperience(ctx context.Context, user core.UserID, amount int64, reason string) (engine.AwardResult, error)
	GetStats(ctx context.Context, user core.UserID) (core.StatsAggregate, error)
	ListExperience(ctx context.Context, user core.UserID) ([]core.ExperienceEvent, error)
	ListBadges(ctx context.Context, user core.UserID) ([]core.BadgeOwnership, error)
	ListCertificates(ctx context.Context, user core.UserID) ([]core.Certificate, error)
	Ping(ctx context.Context) error
}

// Ranking returns the top learners by total XP.
type Ranking interface {
	Top(ctx context.Context, n int) ([]leaderboard.Entry, error)
}

var _ Service = (*engine.Engine)(nil)

type api struct {
	svc  Service
	opts Options
}

// NewMux builds an http.Handler exposing the progression REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/quiz-submissions
//   - POST {prefix}/users/{id}/lessons/{lesson}/complete?course_id=go-101
//   - POST {prefix}/users/{id}/logins
//   - POST {prefix}/users/{id}/adjustments
//   - GET  {prefix}/users/{id}/stats|experience|badges|certificates
//   - GET  {prefix}/leaderboard?limit=10
//   - GET  {prefix}/analytics/summary
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws
func NewMux(svc Service, hub *realtime.Hub, opts Options) http.Handler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	a := &api{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		r.Use(rateLimit(opts.RateLimitRPM, opts.RateLimitBurst))
	}
	if opts.AllowCORSOrigin != "" {
		r.Use(cors(opts.AllowCORSOrigin))
	}
	if len(opts.APIKeys) > 0 {
		r.Use(apiKeyAuth(opts.APIKeys))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	if prefix := withPrefix(opts.PathPrefix, ""); prefix != "/" {
		r.Route(prefix, func(r chi.Router) { a.routes(r, hub) })
	} else {
		a.routes(r, hub)
	}
	return r
}

func (a *api) routes(r chi.Router, hub *realtime.Hub) {
	r.Get("/healthz", a.healthCheck)
	if hub != nil {
		r.Handle("/ws", wsadapter.Handler(hub))
	}
	r.Post("/quiz-submissions", a.submitQuiz)
	r.Route("/users/{id}", func(r chi.Router) {
		r.Post("/lessons/{lesson}/complete", a.completeLesson)
		r.Post("/logins", a.recordLogin)
		r.Post("/adjustments", a.adjust)
		r.Get("/stats", a.stats)
		r.Get("/experience", a.experience)
		r.Get("/badges", a.badges)
		r.Get("/certificates", a.certificates)
	})
	if a.opts.Ranking != nil {
		r.Get("/leaderboard", a.leaderboard)
	}
	if a.opts.Metrics != nil {
		r.Get("/analytics/summary", a.analyticsSummary)
	}
}

// healthCheck verifies storage answers a cheap read.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}
	code := http.StatusOK
	if err := a.svc.Ping(r.Context()); err != nil {
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	}
	writeJSONStatus(w, code, status)
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		if path == "" {
			return "/"
		}
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix + path
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "validation_failed", "request validation failed", verr.Fields)
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, core.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, core.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, core.ErrAttemptNotRecorded):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "attempt_not_recorded", "the attempt could not be saved; retry the submission", nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}
