package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"learnkit/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the learnkit HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithCaller identifies the acting user on every request.
func WithCaller(userID string) Option {
	return WithHeader("X-User-ID", userID)
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// SubmitQuiz sends a graduation quiz submission.
func (c *Client) SubmitQuiz(ctx context.Context, req SubmitQuizRequest) (SubmissionResult, error) {
	var out SubmissionResult
	err := c.do(ctx, http.MethodPost, "/quiz-submissions", req, &out)
	return out, err
}

// CompleteLesson marks a lesson as finished for userID.
func (c *Client) CompleteLesson(ctx context.Context, userID, lessonID, courseID string) (LessonResult, error) {
	if strings.TrimSpace(userID) == "" {
		return LessonResult{}, ErrEmptyUserID
	}
	path := fmt.Sprintf("/users/%s/lessons/%s/complete?course_id=%s",
		url.PathEscape(userID), url.PathEscape(lessonID), url.QueryEscape(courseID))
	var out LessonResult
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// RecordLogin counts today's login for userID.
func (c *Client) RecordLogin(ctx context.Context, userID string) (LoginResult, error) {
	if strings.TrimSpace(userID) == "" {
		return LoginResult{}, ErrEmptyUserID
	}
	var out LoginResult
	err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/logins", nil, &out)
	return out, err
}

// AdjustExperience applies an admin correction. The caller needs the admin role.
func (c *Client) AdjustExperience(ctx context.Context, userID string, amount int64, reason string) (AdjustmentResult, error) {
	if strings.TrimSpace(userID) == "" {
		return AdjustmentResult{}, ErrEmptyUserID
	}
	body := map[string]any{"amount": amount, "reason": reason}
	var out AdjustmentResult
	err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/adjustments", body, &out)
	return out, err
}

// GetStats fetches a user's aggregate.
func (c *Client) GetStats(ctx context.Context, userID string) (core.StatsAggregate, error) {
	if strings.TrimSpace(userID) == "" {
		return core.StatsAggregate{}, ErrEmptyUserID
	}
	var out core.StatsAggregate
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/stats", nil, &out)
	return out, err
}

// ListExperience fetches a user's ledger.
func (c *Client) ListExperience(ctx context.Context, userID string) ([]core.ExperienceEvent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	var out []core.ExperienceEvent
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/experience", nil, &out)
	return out, err
}

// ListBadges fetches a user's unlocked badges.
func (c *Client) ListBadges(ctx context.Context, userID string) ([]core.BadgeOwnership, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	var out []core.BadgeOwnership
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/badges", nil, &out)
	return out, err
}

// ListCertificates fetches a user's certificates.
func (c *Client) ListCertificates(ctx context.Context, userID string) ([]core.Certificate, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	var out []core.Certificate
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/certificates", nil, &out)
	return out, err
}

// Leaderboard returns the top learners; limit <= 0 uses the server default.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	path := "/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []LeaderboardEntry
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return HealthStatus{}, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	// An unhealthy server answers 503 with the same body.
	var hs HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return HealthStatus{}, fmt.Errorf("decoding health: status %d: %w", resp.StatusCode, err)
	}
	return hs, nil
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// A non-empty userID limits the stream to that learner.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if userID != "" {
		target += "?user_id=" + url.QueryEscape(userID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, out)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
