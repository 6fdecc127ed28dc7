package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"learnkit/core"
)

// SubmitQuizRequest mirrors the quiz submission body.
type SubmitQuizRequest struct {
	CourseID     string   `json:"course_id"`
	UserID       string   `json:"user_id"`
	Score        float64  `json:"score"`
	Passed       *bool    `json:"passed,omitempty"`
	Answers      []int    `json:"answers,omitempty"`
	PassingScore *float64 `json:"passing_score,omitempty"`
}

// AwardedBadge is a badge granted during a request and its bonus XP.
type AwardedBadge struct {
	Badge   core.Badge `json:"badge"`
	BonusXP int64      `json:"bonus_xp"`
}

// SubmissionResult mirrors the quiz submission response.
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

type LessonResult struct {
	AlreadyCompleted bool           `json:"already_completed"`
	XPAwarded        int64          `json:"xp_awarded"`
	Badges           []AwardedBadge `json:"badges"`
}

type LoginResult struct {
	AlreadyRecorded bool           `json:"already_recorded"`
	CurrentStreak   int            `json:"current_streak"`
	LongestStreak   int            `json:"longest_streak"`
	XPAwarded       int64          `json:"xp_awarded"`
	Badges          []AwardedBadge `json:"badges"`
}

// AdjustmentResult mirrors the admin adjustment response.
type AdjustmentResult struct {
	Event         core.ExperienceEvent `json:"event"`
	AppliedAmount int64                `json:"applied_amount"`
	NewTotal      int64                `json:"new_total"`
	Level         int                  `json:"level"`
	XPToNextLevel int64                `json:"xp_to_next_level"`
	LeveledUp     bool                 `json:"leveled_up"`
}

// LeaderboardEntry is one ranked learner.
type LeaderboardEntry struct {
	UserID  string `json:"user_id"`
	TotalXP int64  `json:"total_xp"`
	Rank    int    `json:"rank"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int             `json:"-"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether the request may succeed when sent again.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusTooManyRequests
}

// IsRetryable reports whether err is an APIError worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
