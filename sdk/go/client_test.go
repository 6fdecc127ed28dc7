package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mem "learnkit/adapters/memory"
	"learnkit/api/httpapi"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/leaderboard"
	"learnkit/progression"
	"learnkit/realtime"
)

type testServer struct {
	*httptest.Server
	hub *realtime.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := mem.New()
	store.SetGraduationModule("go-101", "go-101-final")
	store.Enroll("alice", "go-101")

	hub := realtime.NewHub()
	eng := progression.New(
		progression.WithStorage(store),
		progression.WithDispatchMode(engine.DispatchSync),
		progression.WithRealtime(hub),
	)
	t.Cleanup(eng.Close)
	board := leaderboard.NewSkipList()
	leaderboard.Track(eng, board)

	srv := httptest.NewServer(httpapi.NewMux(eng, hub, httpapi.Options{
		PathPrefix: "/api",
		APIKeys:    []string{"k1"},
		Ranking:    board,
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: hub}
}

func TestClient_SubmitQuizAndReads(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL+"/api/", WithAPIKey("k1"), WithCaller("alice"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	res, err := client.SubmitQuiz(ctx, SubmitQuizRequest{CourseID: "go-101", UserID: "alice", Score: 90})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	if !res.Passed || res.XPAwarded != 50 || res.Certificate == nil {
		t.Fatalf("unexpected submission result: %+v", res)
	}

	stats, err := client.GetStats(ctx, "alice")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.TotalXP < 50 || stats.CurrentLevel < 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	ledger, err := client.ListExperience(ctx, "alice")
	if err != nil || len(ledger) == 0 {
		t.Fatalf("list experience: %v (%d events)", err, len(ledger))
	}
	certs, err := client.ListCertificates(ctx, "alice")
	if err != nil || len(certs) != 1 {
		t.Fatalf("list certificates: %v (%d certs)", err, len(certs))
	}
	if _, err := client.ListBadges(ctx, "alice"); err != nil {
		t.Fatalf("list badges: %v", err)
	}

	top, err := client.Leaderboard(ctx, 5)
	if err != nil || len(top) != 1 || top[0].UserID != "alice" || top[0].Rank != 1 {
		t.Fatalf("leaderboard: %+v err=%v", top, err)
	}

	health, err := client.Health(ctx)
	if err != nil || health.Status != "healthy" {
		t.Fatalf("health: %+v err=%v", health, err)
	}
}

func TestClient_LessonsAndLogins(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"), WithCaller("alice"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	first, err := client.CompleteLesson(ctx, "alice", "intro", "go-101")
	if err != nil || first.AlreadyCompleted || first.XPAwarded == 0 {
		t.Fatalf("complete lesson: %+v err=%v", first, err)
	}
	again, err := client.CompleteLesson(ctx, "alice", "intro", "go-101")
	if err != nil || !again.AlreadyCompleted || again.XPAwarded != 0 {
		t.Fatalf("repeat lesson: %+v err=%v", again, err)
	}

	login, err := client.RecordLogin(ctx, "alice")
	if err != nil || login.CurrentStreak != 1 {
		t.Fatalf("record login: %+v err=%v", login, err)
	}

	if _, err := client.RecordLogin(ctx, ""); !errors.Is(err, ErrEmptyUserID) {
		t.Fatalf("expected ErrEmptyUserID, got %v", err)
	}
}

func TestClient_APIErrors(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	noKey, _ := NewClient(srv.URL+"/api", WithCaller("alice"))
	_, err := noKey.GetStats(ctx, "alice")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}

	client, _ := NewClient(srv.URL+"/api", WithAPIKey("k1"), WithCaller("alice"))
	_, err = client.AdjustExperience(ctx, "alice", 10, "bonus")
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden || apiErr.Code != "forbidden" {
		t.Fatalf("expected 403 without admin role, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("403 must not be retryable")
	}

	admin, _ := NewClient(srv.URL+"/api", WithAPIKey("k1"), WithCaller("ops"), WithHeader("X-User-Role", "admin"))
	if _, err := client.CompleteLesson(ctx, "alice", "intro", "go-101"); err != nil {
		t.Fatalf("complete lesson: %v", err)
	}
	adj, err := admin.AdjustExperience(ctx, "alice", -4, "correction")
	if err != nil || adj.AppliedAmount != -4 || adj.NewTotal != 6 {
		t.Fatalf("adjust: %+v err=%v", adj, err)
	}

	_, err = client.SubmitQuiz(ctx, SubmitQuizRequest{CourseID: "go-101", UserID: "alice", Score: 150})
	if !errors.As(err, &apiErr) || apiErr.Code != "validation_failed" || len(apiErr.Details) == 0 {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"), WithCaller("alice"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for srv.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := client.CompleteLesson(ctx, "alice", "intro", "go-101"); err != nil {
		t.Fatalf("complete lesson: %v", err)
	}

	select {
	case evt := <-events:
		if evt.UserID != "alice" || evt.Type != core.EventXPAwarded {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for event")
	}
}

func TestDeriveWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080/api": "ws://localhost:8080/api/ws",
		"https://example.com/api":   "wss://example.com/api/ws",
		"http://localhost:8080":     "ws://localhost:8080/ws",
	}
	for in, want := range cases {
		if got := deriveWSURL(in); got != want {
			t.Errorf("deriveWSURL(%q) = %q, want %q", in, got, want)
		}
	}
}
