package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"learnkit/core"
	"learnkit/engine"
)

const (
	maxBodyBytes        = 1 << 20
	defaultLeaderboard  = 10
	maxLeaderboardLimit = 100
)

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_json", "request body is empty", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return false
	}
	return true
}

// pathUser normalizes the {id} route parameter.
func pathUser(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	user, err := core.NormalizeUserID(core.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
		return "", false
	}
	return user, true
}

// caller returns the authenticated user; a request without one is rejected.
func caller(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	id, err := core.NormalizeUserID(core.UserID(r.Header.Get(HeaderUserID)))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing "+HeaderUserID+" header", nil)
		return "", false
	}
	return id, true
}

// self resolves the path user and requires the caller to be that user.
func self(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	who, ok := caller(w, r)
	if !ok {
		return "", false
	}
	user, ok := pathUser(w, r)
	if !ok {
		return "", false
	}
	if who != user {
		writeError(w, http.StatusForbidden, "forbidden", "cannot act on behalf of another user", nil)
		return "", false
	}
	return user, true
}

func (a *api) submitQuiz(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req engine.SubmitQuizRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.svc.SubmitQuiz(r.Context(), who, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

func (a *api) completeLesson(w http.ResponseWriter, r *http.Request) {
	user, ok := self(w, r)
	if !ok {
		return
	}
	course := core.CourseID(r.URL.Query().Get("course_id"))
	res, err := a.svc.CompleteLesson(r.Context(), user, chi.URLParam(r, "lesson"), course)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) recordLogin(w http.ResponseWriter, r *http.Request) {
	user, ok := self(w, r)
	if !ok {
		return
	}
	res, err := a.svc.RecordLogin(r.Context(), user, a.opts.Clock())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, res)
}

type adjustmentRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (a *api) adjust(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	if r.Header.Get(HeaderUserRole) != RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "adjustments require the admin role", nil)
		return
	}
	user, ok := pathUser(w, r)
	if !ok {
		return
	}
	var req adjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.svc.AdjustExperience(r.Context(), user, req.Amount, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	user, ok := pathUser(w, r)
	if !ok {
		return
	}
	st, err := a.svc.GetStats(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, st)
}

func (a *api) experience(w http.ResponseWriter, r *http.Request) {
	user, ok := pathUser(w, r)
	if !ok {
		return
	}
	events, err := a.svc.ListExperience(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []core.ExperienceEvent{}
	}
	writeJSON(w, events)
}

func (a *api) badges(w http.ResponseWriter, r *http.Request) {
	user, ok := pathUser(w, r)
	if !ok {
		return
	}
	owned, err := a.svc.ListBadges(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if owned == nil {
		owned = []core.BadgeOwnership{}
	}
	writeJSON(w, owned)
}

func (a *api) certificates(w http.ResponseWriter, r *http.Request) {
	user, ok := pathUser(w, r)
	if !ok {
		return
	}
	certs, err := a.svc.ListCertificates(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if certs == nil {
		certs = []core.Certificate{}
	}
	writeJSON(w, certs)
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboard
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}
	top, err := a.opts.Ranking.Top(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, top)
}

func (a *api) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.opts.Metrics.Summary(a.opts.Clock()))
}
